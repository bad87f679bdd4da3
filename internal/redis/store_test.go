package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/store"
	"github.com/lalithlochan/medreminder/internal/store/storetest"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return client, mr
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		client, _ := setupTestRedis(t)
		return NewStore(client, zap.NewNop(), now)
	})
}

func TestStore_TTLs(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewStore(client, zap.NewNop(), nil)
	ctx := context.Background()
	date := medication.NewDate(2026, time.October, 19)
	sent := time.Now()

	_, err := s.AddPending(ctx, []reminder.Reminder{storetest.Pending(date, medication.SlotMorning, "a", &sent)})
	require.NoError(t, err)
	assert.Equal(t, store.PendingTTL, mr.TTL(pendingKey))

	mr.FastForward(time.Hour)
	_, err = s.AddPending(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, store.PendingTTL, mr.TTL(pendingKey), "every write refreshes the pending TTL")

	ok, err := s.ClaimSlot(ctx, medication.SlotMorning, date)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.ClaimTTL, mr.TTL("medreminder:claim:2026-10-19:MORNING"))

	_, err = s.RecordConfirmation(ctx, "a", medication.SlotMorning, date, reminder.Snapshot{}, false)
	require.NoError(t, err)
	assert.Equal(t, store.ConfirmationTTL, mr.TTL("medreminder:confirmation:2026-10-19:MORNING:a"))
}

func TestStore_ClaimExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewStore(client, zap.NewNop(), nil)
	ctx := context.Background()
	date := medication.NewDate(2026, time.October, 19)

	ok, err := s.ClaimSlot(ctx, medication.SlotEvening, date)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(store.ClaimTTL + time.Second)

	ok, err = s.ClaimSlot(ctx, medication.SlotEvening, date)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_UnavailableErrors(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewStore(client, zap.NewNop(), nil)
	ctx := context.Background()
	date := medication.NewDate(2026, time.October, 19)
	mr.Close()

	_, err := s.GetPending(ctx)
	assert.True(t, errors.Is(err, store.ErrUnavailable), "get: %v", err)

	_, err = s.AddPending(ctx, []reminder.Reminder{storetest.Pending(date, medication.SlotMorning, "a", nil)})
	assert.True(t, errors.Is(err, store.ErrUnavailable), "add: %v", err)

	ok, err := s.ClaimSlot(ctx, medication.SlotMorning, date)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, store.ErrUnavailable), "claim: %v", err)

	_, err = s.GetOverride(ctx, "a")
	assert.True(t, errors.Is(err, store.ErrUnavailable), "override: %v", err)
}

func TestStore_CorruptPendingSet(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewStore(client, zap.NewNop(), nil)
	require.NoError(t, mr.Set(pendingKey, "not json"))

	_, err := s.GetPending(context.Background())
	assert.Error(t, err)
}

func TestErrTxContention_IsTransient(t *testing.T) {
	assert.True(t, errors.Is(ErrTxContention, store.ErrUnavailable))
}
