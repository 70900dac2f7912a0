package executor

import (
	"sync"
	"time"
)

// Dedup is the in-process in-flight set: at most one run per start asset.
// The redis lock covers other processes; this covers overlapping ticks in
// the same one without a round trip. Entries older than ttl are treated as
// abandoned so a run that never released cannot block the asset forever.
type Dedup struct {
	held map[string]time.Time // start asset -> acquired at
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup whose entries expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		held: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TryAcquire marks key as in flight. It returns false if key is already held
// and has not expired.
func (d *Dedup) TryAcquire(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if since, ok := d.held[key]; ok && now.Sub(since) < d.ttl {
		return false
	}
	d.held[key] = now
	return true
}

// Release clears key.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.held, key)
}

// InFlight returns the keys currently held.
func (d *Dedup) InFlight() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	out := make([]string, 0, len(d.held))
	for k, since := range d.held {
		if now.Sub(since) < d.ttl {
			out = append(out, k)
		}
	}
	return out
}
