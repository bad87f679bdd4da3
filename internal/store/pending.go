package store

import (
	"sort"
	"time"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
)

// MergePending appends the reminders of incoming whose id is not already in
// existing or earlier in incoming. It returns the merged set and the
// reminders that were actually added.
func MergePending(existing, incoming []reminder.Reminder) (merged, added []reminder.Reminder) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]reminder.Reminder, 0, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range incoming {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
		added = append(added, r)
	}
	return merged, added
}

// Filter splits pending into entries that match m and the survivors, both
// in their original order.
func Filter(pending []reminder.Reminder, m Match) (removed, kept []reminder.Reminder) {
	kept = make([]reminder.Reminder, 0, len(pending))
	for _, r := range pending {
		if m(r) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	return removed, kept
}

// Touch marks the entry with id as resent at sentAt. It reports whether the
// entry was found.
func Touch(pending []reminder.Reminder, id string, sentAt time.Time) bool {
	for i := range pending {
		if pending[i].ID == id {
			at := sentAt
			pending[i].SentAt = &at
			pending[i].ResendCount++
			return true
		}
	}
	return false
}

type dedupeKey struct {
	slot         medication.Slot
	medicationID string
}

// Dedupe keeps one entry per (slot, medication): the one sent most
// recently. An entry with no sent-at loses to any entry with one, and an
// exact tie keeps the earlier entry. Survivors keep their relative order.
func Dedupe(pending []reminder.Reminder) ([]reminder.Reminder, DedupeResult) {
	best := make(map[dedupeKey]int, len(pending))
	for i, r := range pending {
		key := dedupeKey{slot: r.Slot, medicationID: r.MedicationID}
		j, ok := best[key]
		if !ok || newer(r, pending[j]) {
			best[key] = i
		}
	}

	keep := make([]int, 0, len(best))
	for _, i := range best {
		keep = append(keep, i)
	}
	sort.Ints(keep)

	out := make([]reminder.Reminder, 0, len(keep))
	for _, i := range keep {
		out = append(out, pending[i])
	}
	return out, DedupeResult{
		Before:  len(pending),
		After:   len(out),
		Removed: len(pending) - len(out),
	}
}

func newer(a, b reminder.Reminder) bool {
	switch {
	case a.SentAt == nil:
		return false
	case b.SentAt == nil:
		return true
	default:
		return a.SentAt.After(*b.SentAt)
	}
}

// SortHistory orders confirmation records newest first.
func SortHistory(records []ConfirmationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ConfirmedAt.After(records[j].ConfirmedAt)
	})
}

// ConfirmationKey identifies a confirmation record.
func ConfirmationKey(date medication.Date, slot medication.Slot, medicationID string) string {
	return date.String() + ":" + string(slot) + ":" + medicationID
}

// ClaimKey identifies a slot claim.
func ClaimKey(date medication.Date, slot medication.Slot) string {
	return date.String() + ":" + string(slot)
}

// SortOverrides orders overrides by medication id.
func SortOverrides(overrides []medication.Override) {
	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].MedicationID < overrides[j].MedicationID
	})
}

// SortSubscriptions orders subscriptions oldest first.
func SortSubscriptions(subs []PushSubscription) {
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}
