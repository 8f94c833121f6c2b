// Package lock provides the token that guarantees a single active backup.
package lock

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
)

// ErrHeld is reported to callers that find a backup already in progress.
var ErrHeld = errors.New("backup already running")

const machineMutexDelay = 20 * time.Millisecond

// Option configures a BackupLock.
type Option func(*BackupLock)

// WithMachineMutex additionally takes a named, machine-wide mutex on every
// acquisition so that separate processes (a daemon and a manual CLI run)
// exclude each other too. name must match juju/mutex naming rules.
func WithMachineMutex(name string, clk clock.Clock) Option {
	return func(l *BackupLock) {
		if clk == nil {
			clk = clock.WallClock
		}
		l.spec = &mutex.Spec{
			Name:    name,
			Clock:   clk,
			Delay:   machineMutexDelay,
			Timeout: machineMutexDelay,
		}
	}
}

// BackupLock is a non-blocking mutual-exclusion token. Both the manual
// trigger and the scheduler call TryAcquire; neither ever waits.
type BackupLock struct {
	held atomic.Bool

	mu       sync.Mutex
	spec     *mutex.Spec
	releaser mutex.Releaser
}

// New returns an unheld lock.
func New(opts ...Option) *BackupLock {
	l := &BackupLock{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *BackupLock) TryAcquire() bool {
	if !l.held.CompareAndSwap(false, true) {
		return false
	}
	if l.spec == nil {
		return true
	}

	releaser, err := mutex.Acquire(*l.spec)
	if err != nil {
		l.held.Store(false)
		return false
	}
	l.mu.Lock()
	l.releaser = releaser
	l.mu.Unlock()
	return true
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *BackupLock) Release() {
	l.mu.Lock()
	releaser := l.releaser
	l.releaser = nil
	l.mu.Unlock()
	if releaser != nil {
		releaser.Release()
	}
	l.held.Store(false)
}

// Held reports whether a backup currently owns the lock in this process.
func (l *BackupLock) Held() bool {
	return l.held.Load()
}
