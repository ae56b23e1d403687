package event

import (
	"context"
	"sync"
	"time"
)

// Deduped wraps a handler so redelivered events (same event_id) within the
// retention window become no-ops. This is the subscriber-side safety net
// for the bus's at-least-once delivery.
func Deduped(h Handler) Handler {
	d := newDeduper(30 * time.Minute)
	return func(ctx context.Context, e *Event) error {
		if !d.firstSeen(e.ID) {
			return nil
		}
		if err := h(ctx, e); err != nil {
			// let a retry attempt the event again
			d.forget(e.ID)
			return err
		}
		return nil
	}
}

type deduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	lastSweep time.Time
}

func newDeduper(retention time.Duration) *deduper {
	return &deduper{seen: make(map[string]time.Time), retention: retention, lastSweep: time.Now()}
}

// firstSeen records the id and reports whether it was new.
func (d *deduper) firstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if now.Sub(d.lastSweep) > d.retention {
		for k, ts := range d.seen {
			if now.Sub(ts) > d.retention {
				delete(d.seen, k)
			}
		}
		d.lastSweep = now
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = now
	return true
}

func (d *deduper) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}
