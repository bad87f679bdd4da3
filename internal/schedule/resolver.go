// Package schedule decides which slot is active at an instant and which
// medications are due in it.
package schedule

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
)

// TriggerWindow is how long after a slot's time a trigger still resolves to it.
const TriggerWindow = 15 * time.Minute

const minutesPerDay = 24 * 60

// Resolver evaluates the catalog against slots and dates in the reference timezone.
type Resolver struct {
	catalog   *medication.Catalog
	loc       *time.Location
	overrides *OverrideCache
	logger    *zap.Logger
}

// NewResolver creates a resolver. overrides may be nil when no override
// store is configured.
func NewResolver(catalog *medication.Catalog, loc *time.Location, overrides *OverrideCache, logger *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		catalog:   catalog,
		loc:       loc,
		overrides: overrides,
		logger:    logger,
	}
}

// Catalog returns the catalog the resolver evaluates.
func (r *Resolver) Catalog() *medication.Catalog { return r.catalog }

// Location returns the reference timezone.
func (r *Resolver) Location() *time.Location { return r.loc }

// Overrides returns the override cache, which may be nil.
func (r *Resolver) Overrides() *OverrideCache { return r.overrides }

// LocalDate returns the calendar date of t in the reference timezone.
func (r *Resolver) LocalDate(t time.Time) medication.Date {
	return medication.DateOf(t, r.loc)
}

// ActiveSlot maps t to the slot whose trigger window contains it. The
// window wraps past midnight, so a 00:00 slot matches minutes [0, 15).
func (r *Resolver) ActiveSlot(t time.Time) (medication.SlotDef, bool) {
	local := t.In(r.loc)
	minute := local.Hour()*60 + local.Minute()
	window := int(TriggerWindow / time.Minute)

	for _, def := range r.catalog.Slots {
		offset := (minute - def.MinuteOfDay() + minutesPerDay) % minutesPerDay
		if offset < window {
			return def, true
		}
	}
	return medication.SlotDef{}, false
}

// DayNumber returns the 1-based day count of date since the catalog anchor.
func (r *Resolver) DayNumber(date medication.Date) int {
	return DayNumber(r.catalog.AnchorDate, date, r.loc)
}

// DayNumber counts days from anchor to date, where the anchor itself is day 1.
// Both dates are taken at local noon so DST transitions cannot shift the count.
func DayNumber(anchor, date medication.Date, loc *time.Location) int {
	diff := date.NoonIn(loc).Sub(anchor.NoonIn(loc))
	return int(math.Round(diff.Hours()/24)) + 1
}

// Effective merges the medication's override, if any, over its catalog
// definition. A failed lookup falls back to the catalog default.
func (r *Resolver) Effective(ctx context.Context, med medication.Medication) medication.Medication {
	eff, _ := r.Resolve(ctx, med)
	return eff
}

// Resolve is Effective that also reports whether an override was applied.
func (r *Resolver) Resolve(ctx context.Context, med medication.Medication) (medication.Medication, bool) {
	override, err := r.overrides.Get(ctx, med.ID)
	if err != nil {
		r.logger.Warn("override lookup failed, using catalog default",
			zap.Error(err),
			zap.String("medication_id", med.ID),
		)
		return med, false
	}
	return med.WithOverride(override), override != nil
}

// IsDue reports whether med is due in slot on date.
func (r *Resolver) IsDue(ctx context.Context, med medication.Medication, slot medication.Slot, date medication.Date) bool {
	return r.isDueEffective(r.Effective(ctx, med), slot, date)
}

func (r *Resolver) isDueEffective(eff medication.Medication, slot medication.Slot, date medication.Date) bool {
	if !eff.Active {
		return false
	}
	if eff.StartDate != nil && eff.StartDate.After(date) {
		return false
	}
	if eff.EndDate != nil && eff.EndDate.Before(date) {
		return false
	}
	if len(eff.CustomSlots) > 0 {
		return medication.ContainsSlot(eff.CustomSlots, slot)
	}

	switch {
	case eff.Frequency == medication.AsNeeded:
		return false
	case eff.IsTapering():
		if eff.Tapering == nil {
			return false
		}
		anchor := r.catalog.AnchorDate
		if eff.Tapering.AnchorDate != nil {
			anchor = *eff.Tapering.AnchorDate
		}
		day := DayNumber(anchor, date, r.loc)
		return medication.ContainsSlot(eff.Tapering.SlotsForDay(day), slot)
	default:
		return medication.ContainsSlot(r.catalog.Frequencies.SlotsFor(eff.Frequency), slot)
	}
}

// DueMedications returns the effective definitions of every catalog
// medication due in slot on date, in catalog order.
func (r *Resolver) DueMedications(ctx context.Context, slot medication.Slot, date medication.Date) []medication.Medication {
	var due []medication.Medication
	for _, med := range r.catalog.Medications {
		eff := r.Effective(ctx, med)
		if r.isDueEffective(eff, slot, date) {
			due = append(due, eff)
		}
	}
	return due
}

// DueSlots returns the slots, in table order, in which med is due on date.
func (r *Resolver) DueSlots(ctx context.Context, med medication.Medication, date medication.Date) []medication.Slot {
	return r.SlotsOn(r.Effective(ctx, med), date)
}

// SlotsOn is DueSlots for an already resolved definition.
func (r *Resolver) SlotsOn(eff medication.Medication, date medication.Date) []medication.Slot {
	var slots []medication.Slot
	for _, def := range r.catalog.Slots {
		if r.isDueEffective(eff, def.Name, date) {
			slots = append(slots, def.Name)
		}
	}
	return slots
}
