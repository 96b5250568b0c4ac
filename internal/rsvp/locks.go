package rsvp

import (
	"context"
	"sync"
	"time"
)

// eventLocks serializes every admission, cancellation and promotion for one
// event so the read-decide-write sequence over the capacity counters is
// atomic. Operations on different events never share a lock. The store is
// single-node sqlite, so an in-process lock is sufficient; a multi-node
// deployment would move this to row-level locking in the database.
type eventLocks struct {
	mu      sync.Mutex
	entries map[uint]*lockEntry
}

type lockEntry struct {
	ch   chan struct{} // capacity 1, holding a token means holding the lock
	refs int
}

func newEventLocks() *eventLocks {
	return &eventLocks{entries: make(map[uint]*lockEntry)}
}

// Acquire blocks until the event lock is held, the timeout elapses, or ctx is
// cancelled. On success the returned release func must be called exactly once.
// A timeout surfaces as ErrBusy so callers can retry instead of deadlocking.
func (l *eventLocks) Acquire(ctx context.Context, eventID uint, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[eventID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[eventID] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			l.put(eventID, e)
		}, nil
	case <-timer.C:
		l.put(eventID, e)
		return nil, ErrBusy
	case <-ctx.Done():
		l.put(eventID, e)
		return nil, ctx.Err()
	}
}

// put drops one reference and frees the entry once nobody holds or waits on
// it, so the map does not grow with every event ever touched.
func (l *eventLocks) put(eventID uint, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, eventID)
	}
	l.mu.Unlock()
}
