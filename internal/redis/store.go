package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/metrics"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/store"
)

// maxTxRetries bounds optimistic retries of a pending-set transaction.
const maxTxRetries = 5

const claimMarker = "claimed"

// ErrTxContention means the pending set kept changing underneath a
// transaction. It is transient and wraps store.ErrUnavailable.
var ErrTxContention = fmt.Errorf("pending set transaction contention: %w", store.ErrUnavailable)

var (
	pendingKey       = key("pending")
	subscriptionsKey = key("push_subscriptions")
)

// Store implements store.Store on Redis. The pending set is one JSON array
// mutated under WATCH/MULTI, claims use SET NX, and confirmation records
// live under one key each so their TTLs are independent.
type Store struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore creates a Redis-backed store. now defaults to time.Now.
func NewStore(client *Client, logger *zap.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		client: client,
		logger: logger,
		now:    now,
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readPending(ctx context.Context, g getter) ([]reminder.Reminder, error) {
	data, err := g.Get(ctx, pendingKey).Bytes()
	if err == redis.Nil {
		return []reminder.Reminder{}, nil
	}
	if err != nil {
		return nil, err
	}

	var pending []reminder.Reminder
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("decode pending set: %w", err)
	}
	if pending == nil {
		pending = []reminder.Reminder{}
	}
	return pending, nil
}

// updatePending runs fn inside an optimistic transaction on the pending set.
// fn reports whether the set must be written back.
func (s *Store) updatePending(ctx context.Context, op string, fn func([]reminder.Reminder) ([]reminder.Reminder, bool)) ([]reminder.Reminder, error) {
	var result []reminder.Reminder

	txf := func(tx *redis.Tx) error {
		pending, err := readPending(ctx, tx)
		if err != nil {
			return err
		}

		next, write := fn(pending)
		result = next
		if !write {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode pending set: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pendingKey, data, store.PendingTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.rdb.Watch(ctx, txf, pendingKey)
		if err == nil {
			metrics.SetPending(len(result))
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("pending set changed during transaction, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, s.client.unavailable(op, err)
	}

	metrics.RecordStoreError(op)
	return nil, ErrTxContention
}

// GetPending returns the pending set in insertion order.
func (s *Store) GetPending(ctx context.Context) ([]reminder.Reminder, error) {
	pending, err := readPending(ctx, s.client.rdb)
	if err != nil {
		return nil, s.client.unavailable("get_pending", err)
	}
	return pending, nil
}

// AddPending inserts reminders with new ids. The set is always rewritten so
// its TTL is refreshed.
func (s *Store) AddPending(ctx context.Context, reminders []reminder.Reminder) ([]reminder.Reminder, error) {
	var added int
	merged, err := s.updatePending(ctx, "add_pending", func(pending []reminder.Reminder) ([]reminder.Reminder, bool) {
		next, fresh := store.MergePending(pending, reminders)
		added = len(fresh)
		return next, true
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("pending reminders added",
		zap.Int("added", added),
		zap.Int("pending", len(merged)),
	)
	return merged, nil
}

// RemovePending drops matching entries. removed reflects the attempt that
// committed, not earlier ones lost to contention.
func (s *Store) RemovePending(ctx context.Context, m store.Match) (removed, kept []reminder.Reminder, err error) {
	kept, err = s.updatePending(ctx, "remove_pending", func(pending []reminder.Reminder) ([]reminder.Reminder, bool) {
		var next []reminder.Reminder
		removed, next = store.Filter(pending, m)
		return next, len(removed) > 0
	})
	if err != nil {
		return nil, nil, err
	}
	return removed, kept, nil
}

// TouchPending records a resend of id.
func (s *Store) TouchPending(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	var found bool
	_, err := s.updatePending(ctx, "touch_pending", func(pending []reminder.Reminder) ([]reminder.Reminder, bool) {
		found = store.Touch(pending, id, sentAt)
		return pending, found
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ClearPending deletes the pending set.
func (s *Store) ClearPending(ctx context.Context) error {
	if err := s.client.rdb.Del(ctx, pendingKey).Err(); err != nil {
		return s.client.unavailable("clear_pending", err)
	}
	metrics.SetPending(0)
	return nil
}

// DedupePending collapses duplicate (slot, medication) entries.
func (s *Store) DedupePending(ctx context.Context) (store.DedupeResult, error) {
	var result store.DedupeResult
	_, err := s.updatePending(ctx, "dedupe_pending", func(pending []reminder.Reminder) ([]reminder.Reminder, bool) {
		var deduped []reminder.Reminder
		deduped, result = store.Dedupe(pending)
		return deduped, result.Removed > 0
	})
	if err != nil {
		return store.DedupeResult{}, err
	}
	return result, nil
}

// ClaimSlot uses SET NX so exactly one caller wins per (date, slot).
func (s *Store) ClaimSlot(ctx context.Context, slot medication.Slot, date medication.Date) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, key("claim", store.ClaimKey(date, slot)), claimMarker, store.ClaimTTL).Result()
	if err != nil {
		return false, s.client.unavailable("claim_slot", err)
	}
	return set, nil
}

// ReleaseSlot drops a claim.
func (s *Store) ReleaseSlot(ctx context.Context, slot medication.Slot, date medication.Date) error {
	if err := s.client.rdb.Del(ctx, key("claim", store.ClaimKey(date, slot))).Err(); err != nil {
		return s.client.unavailable("release_slot", err)
	}
	return nil
}

// RecordConfirmation upserts the record for (date, slot, medication).
func (s *Store) RecordConfirmation(ctx context.Context, medicationID string, slot medication.Slot, date medication.Date, snapshot reminder.Snapshot, early bool) (store.ConfirmationRecord, error) {
	rec := store.ConfirmationRecord{
		MedicationID: medicationID,
		Slot:         slot,
		Date:         date.String(),
		ConfirmedAt:  s.now().UTC(),
		Medication:   snapshot,
		Early:        early,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return store.ConfirmationRecord{}, fmt.Errorf("encode confirmation: %w", err)
	}

	k := key("confirmation", store.ConfirmationKey(date, slot, medicationID))
	if err := s.client.rdb.Set(ctx, k, data, store.ConfirmationTTL).Err(); err != nil {
		return store.ConfirmationRecord{}, s.client.unavailable("record_confirmation", err)
	}
	return rec, nil
}

// GetConfirmationHistory scans the date's confirmation keys and returns the
// records newest first.
func (s *Store) GetConfirmationHistory(ctx context.Context, date medication.Date) ([]store.ConfirmationRecord, error) {
	values, err := s.scanValues(ctx, key("confirmation", date.String())+":*")
	if err != nil {
		return nil, s.client.unavailable("confirmation_history", err)
	}

	records := make([]store.ConfirmationRecord, 0, len(values))
	for _, v := range values {
		var rec store.ConfirmationRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			s.logger.Warn("skipping undecodable confirmation record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	store.SortHistory(records)
	return records, nil
}

// scanValues returns the values of every key matching pattern. Keys that
// expire between SCAN and MGET are skipped.
func (s *Store) scanValues(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := s.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			values = append(values, str)
		}
	}
	return values, nil
}

// GetOverride returns the override for a medication, or nil.
func (s *Store) GetOverride(ctx context.Context, medicationID string) (*medication.Override, error) {
	data, err := s.client.rdb.Get(ctx, key("override", medicationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, s.client.unavailable("get_override", err)
	}

	var o medication.Override
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode override %s: %w", medicationID, err)
	}
	return &o, nil
}

// PutOverride stores an override with no expiry.
func (s *Store) PutOverride(ctx context.Context, o medication.Override) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if err := s.client.rdb.Set(ctx, key("override", o.MedicationID), data, 0).Err(); err != nil {
		return s.client.unavailable("put_override", err)
	}
	return nil
}

// DeleteOverride removes an override.
func (s *Store) DeleteOverride(ctx context.Context, medicationID string) error {
	if err := s.client.rdb.Del(ctx, key("override", medicationID)).Err(); err != nil {
		return s.client.unavailable("delete_override", err)
	}
	return nil
}

// ListOverrides returns every stored override ordered by medication id.
func (s *Store) ListOverrides(ctx context.Context) ([]medication.Override, error) {
	values, err := s.scanValues(ctx, key("override", "*"))
	if err != nil {
		return nil, s.client.unavailable("list_overrides", err)
	}

	overrides := make([]medication.Override, 0, len(values))
	for _, v := range values {
		var o medication.Override
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			s.logger.Warn("skipping undecodable override", zap.Error(err))
			continue
		}
		overrides = append(overrides, o)
	}
	store.SortOverrides(overrides)
	return overrides, nil
}

// SaveSubscription registers or replaces a push subscription.
func (s *Store) SaveSubscription(ctx context.Context, sub store.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := s.client.rdb.HSet(ctx, subscriptionsKey, sub.Endpoint, data).Err(); err != nil {
		return s.client.unavailable("save_subscription", err)
	}
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.client.rdb.HDel(ctx, subscriptionsKey, endpoint).Err(); err != nil {
		return s.client.unavailable("delete_subscription", err)
	}
	return nil
}

// ListSubscriptions returns every registered push subscription, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]store.PushSubscription, error) {
	all, err := s.client.rdb.HGetAll(ctx, subscriptionsKey).Result()
	if err != nil {
		return nil, s.client.unavailable("list_subscriptions", err)
	}

	subs := make([]store.PushSubscription, 0, len(all))
	for _, v := range all {
		var sub store.PushSubscription
		if err := json.Unmarshal([]byte(v), &sub); err != nil {
			s.logger.Warn("skipping undecodable subscription", zap.Error(err))
			continue
		}
		subs = append(subs, sub)
	}
	store.SortSubscriptions(subs)
	return subs, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
