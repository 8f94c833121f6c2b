// Package scheduler triggers backup runs on a configured cadence.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/b2backup/internal/lock"
	"github.com/kebairia/b2backup/internal/logger"
)

const defaultCheckInterval = 30 * time.Second

// Trigger starts a backup without waiting for it. It returns an error
// wrapping lock.ErrHeld when a backup is already running.
type Trigger interface {
	TryStart(ctx context.Context) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context) error

func (f TriggerFunc) TryStart(ctx context.Context) error { return f(ctx) }

// State is what the scheduler currently intends to do.
type State struct {
	Configured bool
	Config     Config
	NextFire   time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCheckInterval sets how often the timer evaluates the schedule.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLastRun tells the scheduler when the previous backup finished, so a
// restart keeps the cadence instead of starting over from now.
func WithLastRun(t time.Time) Option {
	return func(s *Scheduler) {
		s.lastRun = t
	}
}

// Scheduler evaluates a timer and asks its Trigger to start a backup when
// the next fire time has passed. Missed or deferred fires are dropped: the
// next fire time is always recomputed from the current time.
type Scheduler struct {
	trigger  Trigger
	clock    clock.Clock
	log      logger.Logger
	interval time.Duration
	lastRun  time.Time

	mu         sync.Mutex
	configured bool
	cfg        Config
	next       time.Time
}

// New returns an unconfigured scheduler.
func New(trigger Trigger, opts ...Option) *Scheduler {
	s := &Scheduler{
		trigger:  trigger,
		clock:    clock.WallClock,
		log:      logger.Global(),
		interval: defaultCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

// Configure enables the schedule and computes the first fire time.
func (s *Scheduler) Configure(cfg Config) error {
	now := s.clock.Now()
	next, err := cfg.Next(now)
	if err != nil {
		return err
	}
	if !s.lastRun.IsZero() {
		if resumed, err := cfg.Next(s.lastRun); err == nil && resumed.After(now) {
			next = resumed
		}
	}

	s.mu.Lock()
	s.configured = true
	s.cfg = cfg
	s.next = next
	s.mu.Unlock()

	s.log.Info("scheduled backups enabled", "frequency", cfg.Frequency, "next", next)
	return nil
}

// Disable stops future fires. A run already started is not affected.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	s.configured = false
	s.next = time.Time{}
	s.mu.Unlock()
	s.log.Info("scheduled backups disabled")
}

// State returns a copy of the current schedule state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Configured: s.configured, Config: s.cfg, NextFire: s.next}
}

// Tick evaluates the schedule once. It reports whether a backup was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.clock.Now()

	s.mu.Lock()
	if !s.configured || now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	cfg := s.cfg
	s.mu.Unlock()

	err := s.trigger.TryStart(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled backup started")
	case errors.Is(err, lock.ErrHeld):
		s.log.Info("scheduled backup deferred, a backup is already running")
	default:
		s.log.Error("scheduled backup could not start", "error", err)
	}

	next, nextErr := cfg.Next(now)
	s.mu.Lock()
	// Configure or Disable may have run while the trigger was called.
	if s.configured && s.cfg == cfg {
		if nextErr != nil {
			s.configured = false
			s.log.Error("schedule disabled", "error", nextErr)
		} else {
			s.next = next
		}
	}
	s.mu.Unlock()

	return err == nil
}

// Run evaluates the schedule every check interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Debug("scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("scheduler stopped")
			return ctx.Err()
		case <-s.clock.After(s.interval):
			s.Tick(ctx)
		}
	}
}
