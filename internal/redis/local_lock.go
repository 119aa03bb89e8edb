package redisclient

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// localCalendarLocker is the in-process Locker used when the service runs
// without Redis (memory store, single instance).
type localCalendarLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

// localSlot is one key's semaphore. refs counts holders and waiters; the
// entry is dropped when it reaches zero.
type localSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalCalendarLocker(wait time.Duration) Locker {
	return &localCalendarLocker{
		slots: make(map[string]*localSlot),
		wait:  wait,
	}
}

func (l *localCalendarLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *localCalendarLocker) unref(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *localCalendarLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *localCalendarLocker) WithCalendarLock(ctx context.Context, practitionerID uuid.UUID, dates []civil.Date, fn func(ctx context.Context) error) error {
	keys := lockKeys(practitionerID, dates)

	type heldSlot struct {
		key  string
		slot *localSlot
	}
	var held []heldSlot
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].slot.sem
			l.unref(held[i].key, held[i].slot)
		}
	}()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for _, key := range keys {
		s := l.ref(key)
		select {
		case s.sem <- struct{}{}:
			held = append(held, heldSlot{key: key, slot: s})
		case <-timer.C:
			l.unref(key, s)
			return ErrLockNotAcquired
		case <-ctx.Done():
			l.unref(key, s)
			return ctx.Err()
		}
	}

	return fn(ctx)
}
