// Package storetest runs the pending-store contract against any backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/store"
)

// Factory builds an empty store whose clock is now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Clock is a manually advanced clock safe for concurrent reads.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Pending builds a sent reminder for tests.
func Pending(date medication.Date, slot medication.Slot, medicationID string, sentAt *time.Time) reminder.Reminder {
	return reminder.Reminder{
		ID:           reminder.BuildID(date, slot, medicationID),
		MedicationID: medicationID,
		Medication:   reminder.Snapshot{Name: medicationID, Dose: "1 drop", Location: "LEFT_EYE"},
		Slot:         slot,
		Date:         date.String(),
		DayNumber:    1,
		DisplayTime:  "08:30",
		Message:      "reminder " + medicationID,
		SentAt:       sentAt,
	}
}

func ids(rs []reminder.Reminder) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

// Run exercises every store operation.
func Run(t *testing.T, newStore Factory) {
	date := medication.NewDate(2026, time.October, 19)
	start := time.Date(2026, time.October, 19, 12, 30, 0, 0, time.UTC)

	t.Run("AddPendingDropsDuplicates", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		a := Pending(date, medication.SlotMorning, "a", &start)
		b := Pending(date, medication.SlotMorning, "b", &start)

		got, err := s.AddPending(ctx, []reminder.Reminder{a, b, a})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, ids(got))

		got, err = s.AddPending(ctx, []reminder.Reminder{b, a})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, ids(got))

		pending, err := s.GetPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, ids(pending))
	})

	t.Run("GetPendingEmpty", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		pending, err := s.GetPending(context.Background())
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("RemoveByIDKeepsOrder", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		var batch []reminder.Reminder
		for _, id := range []string{"a", "b", "c", "d"} {
			batch = append(batch, Pending(date, medication.SlotMorning, id, &start))
		}
		_, err := s.AddPending(ctx, batch)
		require.NoError(t, err)

		removed, left, err := s.RemovePending(ctx, store.ByID(batch[3].ID))
		require.NoError(t, err)
		assert.Equal(t, []string{batch[3].ID}, ids(removed))
		assert.Equal(t, ids(batch[:3]), ids(left))

		removed, left, err = s.RemovePending(ctx, store.ByMedicationSlot("b", medication.SlotMorning))
		require.NoError(t, err)
		assert.Equal(t, []string{batch[1].ID}, ids(removed))
		assert.Equal(t, []string{batch[0].ID, batch[2].ID}, ids(left))

		removed, left, err = s.RemovePending(ctx, store.ByID("unknown"))
		require.NoError(t, err)
		assert.Empty(t, removed)
		assert.Len(t, left, 2)

		// A second remove of the same id finds nothing.
		removed, _, err = s.RemovePending(ctx, store.ByID(batch[3].ID))
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("TouchPending", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		r := Pending(date, medication.SlotMorning, "a", &start)
		_, err := s.AddPending(ctx, []reminder.Reminder{r})
		require.NoError(t, err)

		later := start.Add(31 * time.Minute)
		ok, err := s.TouchPending(ctx, r.ID, later)
		require.NoError(t, err)
		assert.True(t, ok)

		pending, err := s.GetPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, later.Equal(*pending[0].SentAt))
		assert.Equal(t, 1, pending[0].ResendCount)

		ok, err = s.TouchPending(ctx, "missing", later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ClearPending", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		_, err := s.AddPending(ctx, []reminder.Reminder{Pending(date, medication.SlotMorning, "a", &start)})
		require.NoError(t, err)
		require.NoError(t, s.ClearPending(ctx))

		pending, err := s.GetPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("DedupePending", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		older := start.Add(-time.Hour)
		yesterday := date.AddDays(-1)
		stale := Pending(yesterday, medication.SlotMorning, "a", &older)
		fresh := Pending(date, medication.SlotMorning, "a", &start)
		unsent := Pending(yesterday, medication.SlotEvening, "b", nil)
		sentB := Pending(date, medication.SlotEvening, "b", &older)
		_, err := s.AddPending(ctx, []reminder.Reminder{stale, unsent, fresh, sentB})
		require.NoError(t, err)

		result, err := s.DedupePending(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.DedupeResult{Before: 4, After: 2, Removed: 2}, result)

		pending, err := s.GetPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{fresh.ID, sentB.ID}, ids(pending))
	})

	t.Run("ClaimSlotExactlyOnce", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		const n = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ClaimSlot(ctx, medication.SlotMorning, date)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)

		ok, err := s.ClaimSlot(ctx, medication.SlotEvening, date)
		require.NoError(t, err)
		assert.True(t, ok, "claims are per slot")

		ok, err = s.ClaimSlot(ctx, medication.SlotMorning, date.AddDays(1))
		require.NoError(t, err)
		assert.True(t, ok, "claims are per date")
	})

	t.Run("ReleaseSlot", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		ok, err := s.ClaimSlot(ctx, medication.SlotMidday, date)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.ReleaseSlot(ctx, medication.SlotMidday, date))

		ok, err = s.ClaimSlot(ctx, medication.SlotMidday, date)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ConfirmationHistoryNewestFirst", func(t *testing.T) {
		clock := NewClock(start)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		snap := reminder.Snapshot{Name: "Timolol", Dose: "1 drop", Location: "RIGHT_EYE"}
		for i, id := range []string{"a", "b", "c"} {
			rec, err := s.RecordConfirmation(ctx, id, medication.SlotMorning, date, snap, i == 2)
			require.NoError(t, err)
			assert.Equal(t, id, rec.MedicationID)
			assert.Equal(t, date.String(), rec.Date)
			clock.Advance(time.Minute)
		}
		_, err := s.RecordConfirmation(ctx, "z", medication.SlotMorning, date.AddDays(-1), snap, false)
		require.NoError(t, err)

		history, err := s.GetConfirmationHistory(ctx, date)
		require.NoError(t, err)
		require.Len(t, history, 3)

		var got []string
		for _, h := range history {
			got = append(got, h.MedicationID)
		}
		assert.Equal(t, []string{"c", "b", "a"}, got)
		assert.True(t, history[0].Early)
		assert.Equal(t, snap, history[0].Medication)
	})

	t.Run("RecordConfirmationUpserts", func(t *testing.T) {
		clock := NewClock(start)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		_, err := s.RecordConfirmation(ctx, "a", medication.SlotMorning, date, reminder.Snapshot{}, true)
		require.NoError(t, err)
		clock.Advance(time.Hour)
		_, err = s.RecordConfirmation(ctx, "a", medication.SlotMorning, date, reminder.Snapshot{}, false)
		require.NoError(t, err)

		history, err := s.GetConfirmationHistory(ctx, date)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.False(t, history[0].Early)
		assert.True(t, clock.Now().Equal(history[0].ConfirmedAt))
	})

	t.Run("Overrides", func(t *testing.T) {
		s := newStore(t, NewClock(start).Now)
		ctx := context.Background()

		got, err := s.GetOverride(ctx, "timolol")
		require.NoError(t, err)
		assert.Nil(t, got)

		inactive := false
		require.NoError(t, s.PutOverride(ctx, medication.Override{MedicationID: "timolol", Active: &inactive}))
		require.NoError(t, s.PutOverride(ctx, medication.Override{
			MedicationID: "atropine",
			Slots:        []medication.Slot{medication.SlotMorning},
		}))

		got, err = s.GetOverride(ctx, "timolol")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.Active)
		assert.False(t, *got.Active)
		assert.False(t, got.UpdatedAt.IsZero())

		all, err := s.ListOverrides(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "atropine", all[0].MedicationID)
		assert.Equal(t, []medication.Slot{medication.SlotMorning}, all[0].Slots)

		require.NoError(t, s.DeleteOverride(ctx, "timolol"))
		got, err = s.GetOverride(ctx, "timolol")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Subscriptions", func(t *testing.T) {
		clock := NewClock(start)
		s := newStore(t, clock.Now)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			require.NoError(t, s.SaveSubscription(ctx, store.PushSubscription{
				Endpoint: fmt.Sprintf("https://push.example.com/%d", i),
				P256dh:   "key",
				Auth:     "auth",
			}))
			clock.Advance(time.Second)
		}

		subs, err := s.ListSubscriptions(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "https://push.example.com/0", subs[0].Endpoint)

		require.NoError(t, s.DeleteSubscription(ctx, "https://push.example.com/0"))
		subs, err = s.ListSubscriptions(ctx)
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})
}
