// Package confirm resolves acknowledgements against the pending set.
//
// Dashboard actions name the reminder they confirm and go through
// ConfirmByID. Chat replies carry no target, so they confirm the oldest
// pending reminder instead. Neither path returns an error for an expected
// miss; the outcome is carried in Result.
package confirm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/metrics"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/sqs"
	"github.com/lalithlochan/medreminder/internal/store"
)

// Reason explains an unconfirmed result.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonNothingPending   Reason = "nothing_pending"
	ReasonUnknownMed       Reason = "unknown_medication"
	ReasonUnknownSlot      Reason = "unknown_slot"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonStoreError       Reason = "store_error"
)

// Source labels where a confirmation came from.
type Source string

const (
	SourceDashboard Source = "dashboard"
	SourceChat      Source = "chat"
	SourceEarly     Source = "early"
)

// Result is the outcome of a confirmation attempt.
type Result struct {
	Confirmed      bool            `json:"confirmed"`
	Reason         Reason          `json:"reason,omitempty"`
	ReminderID     string          `json:"reminder_id,omitempty"`
	MedicationID   string          `json:"medication_id,omitempty"`
	MedicationName string          `json:"medication_name,omitempty"`
	Slot           medication.Slot `json:"slot,omitempty"`
	Remaining      int             `json:"remaining"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
}

// Resolver confirms reminders and records the confirmations.
type Resolver struct {
	store   store.PendingStore
	catalog *medication.Catalog
	loc     *time.Location
	events  sqs.Publisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewResolver creates a resolver. now defaults to time.Now.
func NewResolver(s store.PendingStore, catalog *medication.Catalog, loc *time.Location, logger *zap.Logger, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{
		store:   s,
		catalog: catalog,
		loc:     loc,
		events:  sqs.Nop{},
		logger:  logger,
		now:     now,
	}
}

// SetEvents routes confirmation events to p.
func (r *Resolver) SetEvents(p sqs.Publisher) {
	r.events = p
}

func (r *Resolver) publish(ctx context.Context, source Source, ev sqs.Event) {
	ev.Type = sqs.EventConfirmed
	ev.Source = string(source)
	if err := r.events.Publish(ctx, ev); err != nil {
		r.logger.Warn("failed to publish confirmation event", zap.String("medication_id", ev.MedicationID), zap.Error(err))
	}
}

// ConfirmByID confirms exactly the pending reminder with id.
func (r *Resolver) ConfirmByID(ctx context.Context, id string) Result {
	pending, err := r.store.GetPending(ctx)
	if err != nil {
		return r.failed(SourceDashboard, "get_pending", err)
	}

	for _, p := range pending {
		if p.ID == id {
			return r.confirm(ctx, SourceDashboard, p)
		}
	}

	r.logger.Info("confirm requested for reminder not pending", zap.String("reminder_id", id))
	metrics.RecordConfirmation(string(SourceDashboard), string(ReasonNotFound))
	return Result{Reason: ReasonNotFound, ReminderID: id, Remaining: len(pending)}
}

// ConfirmOldest confirms the first reminder in insertion order.
func (r *Resolver) ConfirmOldest(ctx context.Context) Result {
	pending, err := r.store.GetPending(ctx)
	if err != nil {
		return r.failed(SourceChat, "get_pending", err)
	}
	if len(pending) == 0 {
		metrics.RecordConfirmation(string(SourceChat), string(ReasonNothingPending))
		return Result{Reason: ReasonNothingPending}
	}
	return r.confirm(ctx, SourceChat, pending[0])
}

// ConfirmEarly records a dose of medicationID for today's slot before its
// reminder was sent, and drops any pending reminder for that pair.
func (r *Resolver) ConfirmEarly(ctx context.Context, medicationID string, slot medication.Slot) Result {
	med, ok := r.catalog.Get(medicationID)
	if !ok {
		metrics.RecordConfirmation(string(SourceEarly), string(ReasonUnknownMed))
		return Result{Reason: ReasonUnknownMed, MedicationID: medicationID}
	}
	if !r.catalog.Slots.Has(slot) {
		metrics.RecordConfirmation(string(SourceEarly), string(ReasonUnknownSlot))
		return Result{Reason: ReasonUnknownSlot, MedicationID: medicationID, Slot: slot}
	}

	date := medication.DateOf(r.now(), r.loc)
	rec, err := r.store.RecordConfirmation(ctx, med.ID, slot, date, reminder.SnapshotOf(med), true)
	if err != nil {
		return r.failed(SourceEarly, "record_confirmation", err)
	}

	_, remaining, err := r.store.RemovePending(ctx, store.ByMedicationSlot(med.ID, slot))
	if err != nil {
		return r.failed(SourceEarly, "remove_pending", err)
	}

	r.logger.Info("medication confirmed early",
		zap.String("medication_id", med.ID),
		zap.String("slot", string(slot)),
		zap.String("date", date.String()),
	)
	metrics.RecordConfirmation(string(SourceEarly), "confirmed")
	r.publish(ctx, SourceEarly, sqs.Event{
		ReminderID:   reminder.BuildID(date, slot, med.ID),
		MedicationID: med.ID,
		Slot:         string(slot),
		Date:         date.String(),
	})

	at := rec.ConfirmedAt
	return Result{
		Confirmed:      true,
		MedicationID:   med.ID,
		MedicationName: med.Name,
		Slot:           slot,
		Remaining:      len(remaining),
		ConfirmedAt:    &at,
	}
}

// confirm records p's confirmation, then removes p from the pending set. A
// failed record leaves p pending so the confirmation can be retried. When
// another caller removed p first, the result is not found and no event is
// published; the record written here is the same upsert theirs was.
func (r *Resolver) confirm(ctx context.Context, source Source, p reminder.Reminder) Result {
	date, err := medication.ParseDate(p.Date)
	if err != nil {
		r.logger.Warn("pending reminder has malformed date, recording under today",
			zap.String("reminder_id", p.ID),
			zap.Error(err),
		)
		date = medication.DateOf(r.now(), r.loc)
	}

	rec, err := r.store.RecordConfirmation(ctx, p.MedicationID, p.Slot, date, p.Medication, false)
	if err != nil {
		return r.failed(source, "record_confirmation", err)
	}

	removed, remaining, err := r.store.RemovePending(ctx, store.ByID(p.ID))
	if err != nil {
		return r.failed(source, "remove_pending", err)
	}
	if len(removed) == 0 {
		r.logger.Info("reminder confirmed concurrently", zap.String("reminder_id", p.ID), zap.String("source", string(source)))
		metrics.RecordConfirmation(string(source), string(ReasonNotFound))
		return Result{Reason: ReasonNotFound, ReminderID: p.ID, Remaining: len(remaining)}
	}

	r.logger.Info("reminder confirmed",
		zap.String("reminder_id", p.ID),
		zap.String("medication_id", p.MedicationID),
		zap.String("source", string(source)),
		zap.Int("remaining", len(remaining)),
	)
	metrics.RecordConfirmation(string(source), "confirmed")
	r.publish(ctx, source, sqs.NewEvent(sqs.EventConfirmed, p))

	at := rec.ConfirmedAt
	return Result{
		Confirmed:      true,
		ReminderID:     p.ID,
		MedicationID:   p.MedicationID,
		MedicationName: p.Medication.Name,
		Slot:           p.Slot,
		Remaining:      len(remaining),
		ConfirmedAt:    &at,
	}
}

func (r *Resolver) failed(source Source, op string, err error) Result {
	r.logger.Error("confirmation failed",
		zap.String("source", string(source)),
		zap.String("operation", op),
		zap.Error(err),
	)
	reason := ReasonStoreError
	if errors.Is(err, store.ErrUnavailable) {
		reason = ReasonStoreUnavailable
	}
	metrics.RecordConfirmation(string(source), string(reason))
	return Result{Reason: reason}
}
