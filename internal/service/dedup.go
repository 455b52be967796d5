package service

import (
	"sync"
	"time"
)

// eventDedup rejects ledger events whose ID was applied within ttl. An ID is
// reserved before the event is applied and released again if applying fails,
// so a failed event can be redelivered.
type eventDedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newEventDedup(ttl time.Duration) *eventDedup {
	return &eventDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// reserve records id and reports whether it was new.
func (d *eventDedup) reserve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= d.ttl {
		d.sweep(now)
	}
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[id] = now
	return true
}

func (d *eventDedup) release(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

func (d *eventDedup) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *eventDedup) sweep(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
	d.lastSweep = now
}
