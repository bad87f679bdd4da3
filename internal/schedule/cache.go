package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/lalithlochan/medreminder/internal/medication"
)

// DefaultOverrideTTL bounds how long an override lookup is reused.
const DefaultOverrideTTL = 5 * time.Minute

// OverrideSource looks up the schedule override for a medication. It returns
// (nil, nil) when the medication has no override.
type OverrideSource interface {
	GetOverride(ctx context.Context, medicationID string) (*medication.Override, error)
}

// Clock returns the current time.
type Clock func() time.Time

type cacheEntry struct {
	override  *medication.Override
	fetchedAt time.Time
}

// OverrideCache is a read-through cache in front of an OverrideSource.
// Absence is cached like a hit; lookup errors are never cached.
type OverrideCache struct {
	source OverrideSource
	ttl    time.Duration
	now    Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewOverrideCache creates a cache. A nil source yields a cache that always
// reports no override.
func NewOverrideCache(source OverrideSource, ttl time.Duration, now Clock) *OverrideCache {
	if ttl <= 0 {
		ttl = DefaultOverrideTTL
	}
	if now == nil {
		now = time.Now
	}
	return &OverrideCache{
		source:  source,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the override for medicationID, refetching entries older than the TTL.
func (c *OverrideCache) Get(ctx context.Context, medicationID string) (*medication.Override, error) {
	if c == nil || c.source == nil {
		return nil, nil
	}

	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[medicationID]
	c.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.override, nil
	}

	override, err := c.source.GetOverride(ctx, medicationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[medicationID] = cacheEntry{override: override, fetchedAt: now}
	c.mu.Unlock()

	return override, nil
}

// Invalidate drops the cached entry for a medication.
func (c *OverrideCache) Invalidate(medicationID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, medicationID)
	c.mu.Unlock()
}
