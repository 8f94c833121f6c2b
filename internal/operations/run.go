package operations

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/progress"
)

// maxRecordedFailures bounds the failure list kept on a run.
const maxRecordedFailures = 100

// FileFailure is one file that could not be backed up.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Snapshot is a copy of a run's state, safe to keep and read at leisure.
// A folder counts towards TargetsDone once all of its uploads finished.
type Snapshot struct {
	ID            string        `json:"id"`
	Status        backup.Status `json:"status"`
	Totals        backup.Totals `json:"totals"`
	CurrentTarget string        `json:"current_target,omitempty"`
	TargetsDone   int           `json:"targets_done"`
	TargetsTotal  int           `json:"targets_total"`
	CurrentFile   string        `json:"current_file,omitempty"`
	Err           string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
	Failures      []FileFailure `json:"failures,omitempty"`
}

// Duration is how long a finished run took.
func (s Snapshot) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Run is one execution of the coordinator, from lock acquisition to
// release. Its counters are written only by the run's own goroutines and
// read through Snapshot.
type Run struct {
	id    string
	sink  progress.Sink
	clock clock.Clock

	cancel atomic.Bool
	done   chan struct{}

	mu   sync.Mutex
	snap Snapshot
}

func newRun(id string, sink progress.Sink, clk clock.Clock) *Run {
	return &Run{
		id:    id,
		sink:  sink,
		clock: clk,
		done:  make(chan struct{}),
		snap: Snapshot{
			ID:        id,
			Status:    backup.StatusIdle,
			StartedAt: clk.Now(),
		},
	}
}

// ID is the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Cancel asks the run to stop before its next file. The file being
// transferred is allowed to finish. It reports false when the run had
// already finished.
func (r *Run) Cancel() bool {
	select {
	case <-r.done:
		return false
	default:
	}
	r.cancel.Store(true)
	return true
}

func (r *Run) cancelled() bool { return r.cancel.Load() }

// Done is closed once the run reached a terminal status and released the
// backup lock.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	s.Failures = append([]FileFailure(nil), r.snap.Failures...)
	return s
}

// update applies fn to the state and publishes the result. Events are
// published under the lock so sinks observe them in order.
func (r *Run) update(fn func(s *Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.snap)
	r.sink.Publish(progress.Event{
		RunID:         r.id,
		Status:        r.snap.Status,
		Totals:        r.snap.Totals,
		CurrentTarget: r.snap.CurrentTarget,
		TargetsDone:   r.snap.TargetsDone,
		TargetsTotal:  r.snap.TargetsTotal,
		CurrentFile:   r.snap.CurrentFile,
		Err:           r.snap.Err,
		At:            r.clock.Now(),
	})
}

func (r *Run) setStatus(status backup.Status) {
	r.mu.Lock()
	same := r.snap.Status == status
	r.mu.Unlock()
	if same {
		return
	}
	r.update(func(s *Snapshot) { s.Status = status })
}

func (r *Run) startTargets(total int) {
	r.update(func(s *Snapshot) { s.TargetsTotal = total })
}

func (r *Run) targetStarted(path string) {
	r.update(func(s *Snapshot) {
		s.CurrentTarget = path
		s.CurrentFile = ""
	})
}

func (r *Run) targetDone() {
	r.update(func(s *Snapshot) {
		s.TargetsDone++
		s.CurrentFile = ""
	})
}

func (r *Run) scanned(path string) {
	r.update(func(s *Snapshot) {
		s.Totals.Scanned++
		s.CurrentFile = path
	})
}

func (r *Run) skipped(path string) {
	r.update(func(s *Snapshot) {
		s.Totals.Skipped++
		s.CurrentFile = path
	})
}

func (r *Run) uploaded(path string) {
	r.update(func(s *Snapshot) {
		s.Status = backup.StatusUploading
		s.Totals.Uploaded++
		s.CurrentFile = path
	})
}

func (r *Run) failed(path string, err error) {
	r.update(func(s *Snapshot) {
		s.Totals.Failed++
		s.CurrentFile = path
		if len(s.Failures) < maxRecordedFailures {
			s.Failures = append(s.Failures, FileFailure{Path: path, Error: err.Error()})
		}
	})
}

// finish records the terminal status. It publishes exactly one terminal
// event per run.
func (r *Run) finish(status backup.Status, err error) Snapshot {
	r.update(func(s *Snapshot) {
		s.Status = status
		s.CurrentTarget = ""
		s.CurrentFile = ""
		s.FinishedAt = r.clock.Now()
		if err != nil {
			s.Err = err.Error()
		}
	})
	return r.Snapshot()
}
