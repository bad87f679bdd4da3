// Package trigger runs one reminder tick: resend what is overdue, then
// claim, generate and dispatch the active slot.
package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/confirm"
	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/metrics"
	"github.com/lalithlochan/medreminder/internal/notify"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/schedule"
	"github.com/lalithlochan/medreminder/internal/sqs"
	"github.com/lalithlochan/medreminder/internal/store"
)

// Status summarizes what a tick did with the active slot.
type Status string

const (
	StatusNoActiveSlot   Status = "no_active_slot"
	StatusAlreadyClaimed Status = "already_claimed"
	StatusClaimFailed    Status = "claim_failed"
	StatusNothingDue     Status = "nothing_due"
	StatusDispatched     Status = "dispatched"
)

// Dispatcher fans a message out to every recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notify.Message) []notify.DeliveryResult
}

// Config tunes the resend pass.
type Config struct {
	ResendThreshold time.Duration
	MaxResends      int
}

// Result reports one tick.
type Result struct {
	Status    Status `json:"status"`
	Slot      string `json:"slot,omitempty"`
	Date      string `json:"date,omitempty"`
	DayNumber int    `json:"day_number,omitempty"`
	Generated int    `json:"generated"`
	Skipped   int    `json:"skipped"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Resent    int    `json:"resent"`
	Released  bool   `json:"released,omitempty"`
}

// Runner executes ticks. It holds no state between ticks.
type Runner struct {
	resolver   *schedule.Resolver
	generator  *reminder.Generator
	store      store.PendingStore
	dispatcher Dispatcher
	events     sqs.Publisher
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner creates a runner. events may be nil; now defaults to time.Now.
func NewRunner(
	resolver *schedule.Resolver,
	generator *reminder.Generator,
	s store.PendingStore,
	dispatcher Dispatcher,
	events sqs.Publisher,
	cfg Config,
	logger *zap.Logger,
	now func() time.Time,
) *Runner {
	if cfg.ResendThreshold <= 0 {
		cfg.ResendThreshold = confirm.DefaultResendThreshold
	}
	if events == nil {
		events = sqs.Nop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{
		resolver:   resolver,
		generator:  generator,
		store:      s,
		dispatcher: dispatcher,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		now:        now,
	}
}

// Tick runs the resend pass and then the slot pass. It is safe to call more
// often than the slot grid: a slot is only generated by the caller that
// claims it. The returned error is non-nil only when the pending set could
// not be written after a successful dispatch.
func (r *Runner) Tick(ctx context.Context) (Result, error) {
	now := r.now()
	res := Result{Resent: r.resend(ctx, now)}

	def, ok := r.resolver.ActiveSlot(now)
	if !ok {
		res.Status = StatusNoActiveSlot
		return res, nil
	}
	date := r.resolver.LocalDate(now)
	res.Slot = string(def.Name)
	res.Date = date.String()

	log := r.logger.With(zap.String("slot", res.Slot), zap.String("date", res.Date))

	claimed, err := r.store.ClaimSlot(ctx, def.Name, date)
	if err != nil {
		// An ambiguous claim is never treated as a win.
		log.Warn("slot claim failed, skipping generation", zap.Error(err))
		metrics.RecordSlotClaim("error")
		res.Status = StatusClaimFailed
		return res, nil
	}
	if !claimed {
		log.Debug("slot already claimed")
		metrics.RecordSlotClaim("lost")
		res.Status = StatusAlreadyClaimed
		return res, nil
	}
	metrics.RecordSlotClaim("won")

	return r.dispatchSlot(ctx, def.Name, date, res, log)
}

func (r *Runner) dispatchSlot(ctx context.Context, slot medication.Slot, date medication.Date, res Result, log *zap.Logger) (Result, error) {
	batch := r.generator.GenerateFor(ctx, slot, date)
	res.DayNumber = batch.DayNumber
	res.Generated = len(batch.Reminders)
	metrics.RecordGenerated(string(slot), len(batch.Reminders))

	todo := r.filterHandled(ctx, batch.Reminders, date, log)
	res.Skipped = len(batch.Reminders) - len(todo)
	if len(todo) == 0 {
		res.Status = StatusNothingDue
		return res, nil
	}

	var sent []reminder.Reminder
	var events []sqs.Event
	for _, rem := range todo {
		results := r.dispatcher.Dispatch(ctx, notify.Message{
			ReminderID: rem.ID,
			Subject:    "Medication reminder: " + rem.Medication.Name,
			Body:       rem.Message,
		})
		if !notify.AnySucceeded(results) {
			log.Warn("reminder dispatch failed for every recipient",
				zap.String("reminder_id", rem.ID),
				zap.Int("recipients", len(results)),
			)
			metrics.RecordDispatch(string(slot), "failed")
			res.Failed++
			continue
		}

		at := r.now()
		rem.SentAt = &at
		sent = append(sent, rem)
		metrics.RecordDispatch(string(slot), "sent")

		ev := sqs.NewEvent(sqs.EventSent, rem)
		ev.Deliveries = delivered(results)
		events = append(events, ev)
	}
	res.Sent = len(sent)
	res.Status = StatusDispatched

	if len(sent) > 0 {
		if _, err := r.store.AddPending(ctx, sent); err != nil {
			// The claim stays held so no other tick resends what was delivered.
			log.Error("dispatched reminders could not be recorded as pending",
				zap.Int("reminders", len(sent)),
				zap.Error(err),
			)
			return res, err
		}
		r.publish(ctx, events, log)
	}

	// Released only once delivered reminders are pending, so the tick that
	// reclaims the slot filters them out and regenerates just the failures.
	if res.Failed > 0 {
		if err := r.store.ReleaseSlot(ctx, slot, date); err != nil {
			log.Error("failed to release slot after dispatch failure", zap.Error(err))
		} else {
			res.Released = true
		}
	}

	log.Info("slot dispatched",
		zap.Int("day_number", res.DayNumber),
		zap.Int("generated", res.Generated),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// filterHandled drops reminders that are already pending or were confirmed
// for this date. When the store cannot answer, every reminder is kept;
// duplicate ids are dropped again by AddPending.
func (r *Runner) filterHandled(ctx context.Context, reminders []reminder.Reminder, date medication.Date, log *zap.Logger) []reminder.Reminder {
	if len(reminders) == 0 {
		return nil
	}

	handled := make(map[string]bool)
	pending, err := r.store.GetPending(ctx)
	if err != nil {
		log.Warn("could not read pending set before dispatch", zap.Error(err))
	}
	for _, p := range pending {
		handled[p.ID] = true
	}

	history, err := r.store.GetConfirmationHistory(ctx, date)
	if err != nil {
		log.Warn("could not read confirmation history before dispatch", zap.Error(err))
	}
	for _, c := range history {
		handled[reminder.BuildID(date, c.Slot, c.MedicationID)] = true
	}

	todo := make([]reminder.Reminder, 0, len(reminders))
	for _, rem := range reminders {
		if handled[rem.ID] {
			continue
		}
		todo = append(todo, rem)
	}
	return todo
}

// resend re-dispatches pending reminders that have waited longer than the
// threshold, up to MaxResends times each.
func (r *Runner) resend(ctx context.Context, now time.Time) int {
	if r.cfg.MaxResends <= 0 {
		return 0
	}

	pending, err := r.store.GetPending(ctx)
	if err != nil {
		r.logger.Warn("resend pass skipped, pending set unavailable", zap.Error(err))
		return 0
	}
	metrics.SetPending(len(pending))

	var events []sqs.Event
	for _, rem := range confirm.ResendCandidates(pending, r.cfg.ResendThreshold, now) {
		if rem.ResendCount >= r.cfg.MaxResends {
			continue
		}

		results := r.dispatcher.Dispatch(ctx, notify.Message{
			ReminderID: rem.ID,
			Subject:    "Still waiting: " + rem.Medication.Name,
			Body:       reminder.RenderResend(rem),
		})
		if !notify.AnySucceeded(results) {
			r.logger.Warn("resend failed for every recipient", zap.String("reminder_id", rem.ID))
			continue
		}

		touched, err := r.store.TouchPending(ctx, rem.ID, r.now())
		if err != nil {
			r.logger.Error("failed to record resend", zap.String("reminder_id", rem.ID), zap.Error(err))
			continue
		}
		if !touched {
			// Confirmed while the resend was in flight.
			continue
		}

		metrics.RecordResend()
		ev := sqs.NewEvent(sqs.EventResent, rem)
		ev.Deliveries = delivered(results)
		events = append(events, ev)
	}

	r.publish(ctx, events, r.logger)
	return len(events)
}

func (r *Runner) publish(ctx context.Context, events []sqs.Event, log *zap.Logger) {
	if len(events) == 0 {
		return
	}
	if err := r.events.Publish(ctx, events...); err != nil {
		log.Warn("failed to publish lifecycle events", zap.Int("events", len(events)), zap.Error(err))
	}
}

func delivered(results []notify.DeliveryResult) int {
	n := 0
	for _, res := range results {
		if res.OK() {
			n++
		}
	}
	return n
}
