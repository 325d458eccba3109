package events

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// defaultMaxEntries bounds the deduplication cache before expired entries
// are purged.
const defaultMaxEntries = 10000

// Deduplicator drops notifications identical to one seen within the TTL.
// Bursts of the same port list generation, for example, collapse into one.
type Deduplicator struct {
	cache      *cache.Cache
	ttl        time.Duration
	maxEntries int

	seen       atomic.Uint64
	suppressed atomic.Uint64
}

// NewDeduplicator returns a deduplicator with the given window. A zero or
// negative TTL disables deduplication.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	// No janitor goroutine: expired entries are overwritten on access and
	// purged when the cache grows past maxEntries.
	return &Deduplicator{
		cache:      cache.New(ttl, 0),
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
	}
}

// ShouldProcess reports whether event is new within the window and records it.
func (d *Deduplicator) ShouldProcess(event *Event) bool {
	if d == nil || d.ttl <= 0 {
		return true
	}
	d.seen.Add(1)
	if d.cache.ItemCount() >= d.maxEntries {
		d.cache.DeleteExpired()
	}
	if err := d.cache.Add(event.key(), struct{}{}, cache.DefaultExpiration); err != nil {
		d.suppressed.Add(1)
		return false
	}
	return true
}

// Stats returns the number of events checked and suppressed.
func (d *Deduplicator) Stats() (seen, suppressed uint64) {
	if d == nil {
		return 0, 0
	}
	return d.seen.Load(), d.suppressed.Load()
}
