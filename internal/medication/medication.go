// Package medication defines the medication catalog: medications, slots,
// frequencies, locations and per-medication schedule overrides.
package medication

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day. It is stored as midnight UTC
// so comparisons never depend on the reference timezone.
type Date struct {
	time.Time
}

// NewDate builds a Date from its calendar parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is an earlier calendar date than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is a later calendar date than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// NoonIn returns 12:00 local time on this date in loc.
func (d Date) NoonIn(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDate(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TaperingTable selects slots by day number since the anchor date.
type TaperingTable struct {
	Day1       []Slot `yaml:"day1" json:"day1"`
	Day2       []Slot `yaml:"day2" json:"day2"`
	Day3Plus   []Slot `yaml:"day3plus" json:"day3plus"`
	AnchorDate *Date  `yaml:"anchor_date,omitempty" json:"anchor_date,omitempty"`
}

// SlotsForDay returns the slots dosed on the given day. Days before the
// anchor dose nothing.
func (t TaperingTable) SlotsForDay(day int) []Slot {
	switch {
	case day < 1:
		return nil
	case day == 1:
		return t.Day1
	case day == 2:
		return t.Day2
	default:
		return t.Day3Plus
	}
}

// Location describes where a medication is administered. Staggered
// locations (eye drops) are spaced apart within a slot.
type Location struct {
	Tag       string `yaml:"tag" json:"tag"`
	Label     string `yaml:"label" json:"label"`
	Icon      string `yaml:"icon" json:"icon"`
	Staggered bool   `yaml:"staggered" json:"staggered"`
	Priority  int    `yaml:"priority" json:"priority"`
}

const LocationOral = "ORAL"

// DefaultLocations returns the built-in location tags.
func DefaultLocations() []Location {
	return []Location{
		{Tag: "LEFT_EYE", Label: "Left eye", Icon: "👁️", Staggered: true, Priority: 1},
		{Tag: "RIGHT_EYE", Label: "Right eye", Icon: "👁️", Staggered: true, Priority: 2},
		{Tag: "BOTH_EYES", Label: "Both eyes", Icon: "👀", Staggered: true, Priority: 3},
		{Tag: LocationOral, Label: "Oral", Icon: "💊", Staggered: false, Priority: 100},
	}
}

// Medication is a catalog entry. CustomSlots is only set on effective
// medications produced by WithOverride.
type Medication struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Dose        string         `yaml:"dose" json:"dose"`
	Location    string         `yaml:"location" json:"location"`
	Frequency   Frequency      `yaml:"frequency" json:"frequency"`
	StartDate   *Date          `yaml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate     *Date          `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	Active      bool           `yaml:"-" json:"active"`
	Notes       string         `yaml:"notes,omitempty" json:"notes,omitempty"`
	Tapering    *TaperingTable `yaml:"tapering,omitempty" json:"tapering,omitempty"`
	CustomSlots []Slot         `yaml:"-" json:"custom_slots,omitempty"`
}

// IsTapering reports whether the medication doses from a tapering table.
func (m Medication) IsTapering() bool {
	return m.Frequency == Tapering
}

// Override shadows catalog fields for one medication. Nil fields fall
// through to the catalog default.
type Override struct {
	MedicationID string     `json:"medication_id"`
	Frequency    *Frequency `json:"frequency,omitempty"`
	Slots        []Slot     `json:"slots,omitempty"`
	Active       *bool      `json:"active,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// WithOverride merges o over m field by field. Explicit slots win over an
// overridden frequency.
func (m Medication) WithOverride(o *Override) Medication {
	if o == nil {
		return m
	}
	eff := m
	if o.Active != nil {
		eff.Active = *o.Active
	}
	if len(o.Slots) > 0 {
		eff.CustomSlots = append([]Slot(nil), o.Slots...)
	} else if o.Frequency != nil {
		eff.Frequency = *o.Frequency
	}
	if o.Notes != nil {
		eff.Notes = *o.Notes
	}
	return eff
}
