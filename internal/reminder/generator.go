package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/schedule"
)

// StaggerStep separates consecutive staggered medications within a slot.
const StaggerStep = 6 * time.Minute

// Batch is the output of one generation pass.
type Batch struct {
	// Active is false when no slot's trigger window contains the instant.
	Active    bool
	Slot      medication.Slot
	Date      medication.Date
	DayNumber int
	Reminders []Reminder
}

// Generator turns due medications into staggered reminders.
type Generator struct {
	resolver *schedule.Resolver
	logger   *zap.Logger
}

// NewGenerator creates a generator backed by resolver.
func NewGenerator(resolver *schedule.Resolver, logger *zap.Logger) *Generator {
	return &Generator{
		resolver: resolver,
		logger:   logger,
	}
}

// Generate builds the reminders for the slot active at now. An inactive
// batch means no slot is active; an active batch with no reminders means
// nothing is due.
func (g *Generator) Generate(ctx context.Context, now time.Time) Batch {
	def, ok := g.resolver.ActiveSlot(now)
	if !ok {
		return Batch{}
	}
	return g.GenerateFor(ctx, def.Name, g.resolver.LocalDate(now))
}

// GenerateFor builds the reminders for a specific slot and date.
func (g *Generator) GenerateFor(ctx context.Context, slot medication.Slot, date medication.Date) Batch {
	catalog := g.resolver.Catalog()
	batch := Batch{
		Active:    true,
		Slot:      slot,
		Date:      date,
		DayNumber: g.resolver.DayNumber(date),
	}

	def, ok := catalog.Slots.Lookup(slot)
	if !ok {
		g.logger.Warn("generate requested for undeclared slot", zap.String("slot", string(slot)))
		return batch
	}

	due := g.resolver.DueMedications(ctx, slot, date)
	if len(due) == 0 {
		return batch
	}

	g.orderByLocation(due)

	staggerIndex := 0
	for _, med := range due {
		loc, _ := catalog.Location(med.Location)

		index := 0
		if loc.Staggered {
			index = staggerIndex
			staggerIndex++
		}

		display := displayTime(def, index)
		batch.Reminders = append(batch.Reminders, Reminder{
			ID:           BuildID(date, slot, med.ID),
			MedicationID: med.ID,
			Medication:   SnapshotOf(med),
			Slot:         slot,
			Date:         date.String(),
			DayNumber:    batch.DayNumber,
			DisplayTime:  display,
			StaggerIndex: index,
			Message: RenderMessage(MessageData{
				DisplayTime:   display,
				DayNumber:     batch.DayNumber,
				LocationIcon:  loc.Icon,
				LocationLabel: loc.Label,
				Name:          med.Name,
				Dose:          med.Dose,
				Notes:         med.Notes,
			}),
		})
	}

	g.logger.Debug("reminders generated",
		zap.String("slot", string(slot)),
		zap.String("date", date.String()),
		zap.Int("count", len(batch.Reminders)),
	)

	return batch
}

// orderByLocation sorts medications by location priority, keeping catalog
// order within a location.
func (g *Generator) orderByLocation(meds []medication.Medication) {
	catalog := g.resolver.Catalog()
	priority := func(tag string) int {
		if loc, ok := catalog.Location(tag); ok {
			return loc.Priority
		}
		return int(^uint(0) >> 1)
	}
	sort.SliceStable(meds, func(i, j int) bool {
		return priority(meds[i].Location) < priority(meds[j].Location)
	})
}

// displayTime is the slot time plus index stagger steps, wrapped to 24h.
func displayTime(def medication.SlotDef, index int) string {
	minutes := def.MinuteOfDay() + index*int(StaggerStep/time.Minute)
	minutes %= 24 * 60
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
