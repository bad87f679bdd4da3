// Package store defines the pending-set protocol shared by every backing
// store, plus a process-local implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
)

const (
	// PendingTTL is refreshed on every write to the pending set.
	PendingTTL = 24 * time.Hour

	// ClaimTTL is how long a (date, slot) claim is held.
	ClaimTTL = 2 * time.Hour

	// ConfirmationTTL is how long confirmation records are retained.
	ConfirmationTTL = 24 * time.Hour
)

// ErrUnavailable marks a transient failure of the backing store. Callers
// must not treat an operation that returned it as having succeeded.
var ErrUnavailable = errors.New("store unavailable")

// ConfirmationRecord is written whenever a dose is acknowledged.
type ConfirmationRecord struct {
	MedicationID string            `json:"medication_id"`
	Slot         medication.Slot   `json:"slot"`
	Date         string            `json:"date"`
	ConfirmedAt  time.Time         `json:"confirmed_at"`
	Medication   reminder.Snapshot `json:"medication"`
	Early        bool              `json:"early"`
}

// DedupeResult reports the effect of DedupePending.
type DedupeResult struct {
	Before  int `json:"before"`
	After   int `json:"after"`
	Removed int `json:"removed"`
}

// PushSubscription is a browser push endpoint registered from the dashboard.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// Match selects pending entries for removal.
type Match func(reminder.Reminder) bool

// ByID matches the entry with exactly this reminder id.
func ByID(id string) Match {
	return func(r reminder.Reminder) bool { return r.ID == id }
}

// ByMedicationSlot matches every entry for a medication in a slot.
func ByMedicationSlot(medicationID string, slot medication.Slot) Match {
	return func(r reminder.Reminder) bool {
		return r.MedicationID == medicationID && r.Slot == slot
	}
}

// PendingStore is the contract the reminder lifecycle relies on. Every
// method may fail with an error wrapping ErrUnavailable.
type PendingStore interface {
	// GetPending returns the pending set in insertion order.
	GetPending(ctx context.Context) ([]reminder.Reminder, error)
	// AddPending inserts reminders whose id is not yet present and returns
	// the resulting set.
	AddPending(ctx context.Context, reminders []reminder.Reminder) ([]reminder.Reminder, error)
	// RemovePending drops every entry matching m. It returns the dropped
	// entries and the survivors; removed is empty when nothing matched.
	RemovePending(ctx context.Context, m Match) (removed, kept []reminder.Reminder, err error)
	// TouchPending records a resend of id at sentAt. It reports false when
	// id is no longer pending.
	TouchPending(ctx context.Context, id string, sentAt time.Time) (bool, error)
	// ClearPending empties the pending set.
	ClearPending(ctx context.Context) error
	// DedupePending collapses entries sharing (slot, medication).
	DedupePending(ctx context.Context) (DedupeResult, error)

	// ClaimSlot returns true to exactly one caller per (date, slot).
	ClaimSlot(ctx context.Context, slot medication.Slot, date medication.Date) (bool, error)
	// ReleaseSlot drops a claim so the slot can be generated again.
	ReleaseSlot(ctx context.Context, slot medication.Slot, date medication.Date) error

	// RecordConfirmation upserts the record for (date, slot, medication).
	RecordConfirmation(ctx context.Context, medicationID string, slot medication.Slot, date medication.Date, snapshot reminder.Snapshot, early bool) (ConfirmationRecord, error)
	// GetConfirmationHistory returns the records of date, newest first.
	GetConfirmationHistory(ctx context.Context, date medication.Date) ([]ConfirmationRecord, error)
}

// OverrideStore persists per-medication schedule overrides. GetOverride
// returns nil, nil when none exists.
type OverrideStore interface {
	GetOverride(ctx context.Context, medicationID string) (*medication.Override, error)
	PutOverride(ctx context.Context, o medication.Override) error
	DeleteOverride(ctx context.Context, medicationID string) error
	ListOverrides(ctx context.Context) ([]medication.Override, error)
}

// SubscriptionStore persists dashboard push subscriptions.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]PushSubscription, error)
}

// Store is a complete backing store.
type Store interface {
	PendingStore
	OverrideStore
	SubscriptionStore
	Close() error
}
