// Package lock guards work that must not run twice at the same time,
// such as two dispatch runs of one campaign.
package lock

import (
	"context"
	"sync"
)

// Lock is a single non-blocking mutual exclusion handle. A Lock value is
// used by one goroutine; take a new one from the Locker for each run.
type Lock interface {
	// Acquire reports whether the lock was taken. It never waits.
	Acquire(ctx context.Context) (bool, error)
	// Release gives up the lock if it is still ours.
	Release(ctx context.Context) error
}

type Locker interface {
	NewLock(key string) Lock
}

// Local serialises within one process only.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local { return &Local{held: map[string]bool{}} }

func (l *Local) NewLock(key string) Lock { return &localLock{parent: l, key: key} }

type localLock struct {
	parent *Local
	key    string
	owned  bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.parent.held[l.key] {
		return false, nil
	}
	l.parent.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.owned {
		delete(l.parent.held, l.key)
		l.owned = false
	}
	return nil
}
