package executor

import (
	"sync"
	"time"
)

// Dedup remembers positions that were liquidated successfully so a repeat
// request within the TTL is answered locally. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // position id -> success time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers successes for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether id succeeded within the TTL.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.seen[id]
	return ok && time.Since(at) < d.ttl
}

// Mark records a success for id.
func (d *Dedup) Mark(id string) {
	d.mu.Lock()
	d.seen[id] = time.Now()
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked entries.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
