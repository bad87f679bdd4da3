package db

import (
	"time"

	"github.com/lalithlochan/medreminder/internal/medication"
)

// OverrideRow is a schedule_overrides row. Nullable columns map to nil
// pointers so an unset field falls through to the catalog.
type OverrideRow struct {
	MedicationID string
	Frequency    *string
	Slots        []string
	Active       *bool
	Notes        *string
	UpdatedAt    time.Time
}

// Override converts the row to the domain type.
func (r OverrideRow) Override() medication.Override {
	o := medication.Override{
		MedicationID: r.MedicationID,
		Active:       r.Active,
		Notes:        r.Notes,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Frequency != nil {
		f := medication.Frequency(*r.Frequency)
		o.Frequency = &f
	}
	for _, s := range r.Slots {
		o.Slots = append(o.Slots, medication.Slot(s))
	}
	return o
}

// RowFromOverride converts a domain override to its row form.
func RowFromOverride(o medication.Override) OverrideRow {
	r := OverrideRow{
		MedicationID: o.MedicationID,
		Active:       o.Active,
		Notes:        o.Notes,
		UpdatedAt:    o.UpdatedAt,
		Slots:        make([]string, 0, len(o.Slots)),
	}
	if o.Frequency != nil {
		f := string(*o.Frequency)
		r.Frequency = &f
	}
	for _, s := range o.Slots {
		r.Slots = append(r.Slots, string(s))
	}
	return r
}
