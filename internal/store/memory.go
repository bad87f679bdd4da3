package store

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
)

const (
	memPendingKey      = "pending"
	memClaimPrefix     = "claim:"
	memConfirmPrefix   = "confirmation:"
	memOverridePrefix  = "override:"
	memSubscribePrefix = "push:"
)

// MemoryStore is a process-local Store. It satisfies the same contract as
// the Redis store but is lost on restart and not shared across processes.
type MemoryStore struct {
	cache  *gocache.Cache
	logger *zap.Logger
	now    func() time.Time

	// mu serializes read-modify-write of the pending set.
	mu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. now defaults to time.Now.
func NewMemoryStore(logger *zap.Logger, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	logger.Info("using in-memory store; state is lost on restart")
	return &MemoryStore{
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger: logger,
		now:    now,
	}
}

func (s *MemoryStore) pending() []reminder.Reminder {
	v, ok := s.cache.Get(memPendingKey)
	if !ok {
		return []reminder.Reminder{}
	}
	stored := v.([]reminder.Reminder)
	out := make([]reminder.Reminder, len(stored))
	copy(out, stored)
	return out
}

func (s *MemoryStore) setPending(pending []reminder.Reminder) {
	s.cache.Set(memPendingKey, pending, PendingTTL)
}

// GetPending returns the pending set in insertion order.
func (s *MemoryStore) GetPending(ctx context.Context) ([]reminder.Reminder, error) {
	return s.pending(), nil
}

// AddPending inserts reminders with new ids and refreshes the set's TTL.
func (s *MemoryStore) AddPending(ctx context.Context, reminders []reminder.Reminder) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged, added := MergePending(s.pending(), reminders)
	s.setPending(merged)

	s.logger.Debug("pending reminders added",
		zap.Int("added", len(added)),
		zap.Int("pending", len(merged)),
	)
	return copyReminders(merged), nil
}

// RemovePending drops matching entries.
func (s *MemoryStore) RemovePending(ctx context.Context, m Match) (removed, kept []reminder.Reminder, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, kept = Filter(s.pending(), m)
	if len(removed) > 0 {
		s.setPending(kept)
	}
	return removed, copyReminders(kept), nil
}

// TouchPending records a resend of id.
func (s *MemoryStore) TouchPending(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending()
	if !Touch(pending, id, sentAt) {
		return false, nil
	}
	s.setPending(pending)
	return true, nil
}

// ClearPending empties the pending set.
func (s *MemoryStore) ClearPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(memPendingKey)
	return nil
}

// DedupePending collapses duplicate (slot, medication) entries.
func (s *MemoryStore) DedupePending(ctx context.Context) (DedupeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deduped, result := Dedupe(s.pending())
	if result.Removed > 0 {
		s.setPending(deduped)
	}
	return result, nil
}

// ClaimSlot relies on the cache's add-if-absent, which holds the cache
// lock across the existence check and the write.
func (s *MemoryStore) ClaimSlot(ctx context.Context, slot medication.Slot, date medication.Date) (bool, error) {
	err := s.cache.Add(memClaimPrefix+ClaimKey(date, slot), s.now(), ClaimTTL)
	return err == nil, nil
}

// ReleaseSlot drops a claim.
func (s *MemoryStore) ReleaseSlot(ctx context.Context, slot medication.Slot, date medication.Date) error {
	s.cache.Delete(memClaimPrefix + ClaimKey(date, slot))
	return nil
}

// RecordConfirmation upserts a confirmation record.
func (s *MemoryStore) RecordConfirmation(ctx context.Context, medicationID string, slot medication.Slot, date medication.Date, snapshot reminder.Snapshot, early bool) (ConfirmationRecord, error) {
	rec := ConfirmationRecord{
		MedicationID: medicationID,
		Slot:         slot,
		Date:         date.String(),
		ConfirmedAt:  s.now().UTC(),
		Medication:   snapshot,
		Early:        early,
	}
	s.cache.Set(memConfirmPrefix+ConfirmationKey(date, slot, medicationID), rec, ConfirmationTTL)
	return rec, nil
}

// GetConfirmationHistory returns the records of date, newest first.
func (s *MemoryStore) GetConfirmationHistory(ctx context.Context, date medication.Date) ([]ConfirmationRecord, error) {
	prefix := memConfirmPrefix + date.String() + ":"
	var records []ConfirmationRecord
	for key, item := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			records = append(records, item.Object.(ConfirmationRecord))
		}
	}
	SortHistory(records)
	return records, nil
}

// GetOverride returns the override for a medication, or nil.
func (s *MemoryStore) GetOverride(ctx context.Context, medicationID string) (*medication.Override, error) {
	v, ok := s.cache.Get(memOverridePrefix + medicationID)
	if !ok {
		return nil, nil
	}
	o := v.(medication.Override)
	return &o, nil
}

// PutOverride stores an override with no expiry.
func (s *MemoryStore) PutOverride(ctx context.Context, o medication.Override) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now().UTC()
	}
	s.cache.Set(memOverridePrefix+o.MedicationID, o, gocache.NoExpiration)
	return nil
}

// DeleteOverride removes an override.
func (s *MemoryStore) DeleteOverride(ctx context.Context, medicationID string) error {
	s.cache.Delete(memOverridePrefix + medicationID)
	return nil
}

// ListOverrides returns every stored override ordered by medication id.
func (s *MemoryStore) ListOverrides(ctx context.Context) ([]medication.Override, error) {
	var out []medication.Override
	for key, item := range s.cache.Items() {
		if strings.HasPrefix(key, memOverridePrefix) {
			out = append(out, item.Object.(medication.Override))
		}
	}
	SortOverrides(out)
	return out, nil
}

// SaveSubscription registers or replaces a push subscription.
func (s *MemoryStore) SaveSubscription(ctx context.Context, sub PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	s.cache.Set(memSubscribePrefix+sub.Endpoint, sub, gocache.NoExpiration)
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *MemoryStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	s.cache.Delete(memSubscribePrefix + endpoint)
	return nil
}

// ListSubscriptions returns every registered push subscription.
func (s *MemoryStore) ListSubscriptions(ctx context.Context) ([]PushSubscription, error) {
	var out []PushSubscription
	for key, item := range s.cache.Items() {
		if strings.HasPrefix(key, memSubscribePrefix) {
			out = append(out, item.Object.(PushSubscription))
		}
	}
	SortSubscriptions(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func copyReminders(in []reminder.Reminder) []reminder.Reminder {
	out := make([]reminder.Reminder, len(in))
	copy(out, in)
	return out
}
