package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/fingerprint"
	"github.com/kebairia/b2backup/internal/lock"
	"github.com/kebairia/b2backup/internal/logger"
	"github.com/kebairia/b2backup/internal/progress"
	"github.com/kebairia/b2backup/internal/remote"
)

// ErrAlreadyRunning is returned by Start when another backup holds the lock.
var ErrAlreadyRunning = lock.ErrHeld

var errCancelled = errors.New("backup cancelled")

const defaultQueueSize = 64

// TargetSource supplies the backup plan. It is read once at run start.
type TargetSource interface {
	BackupTargets() ([]backup.BackupTarget, error)
}

// StaticTargets is a fixed backup plan.
type StaticTargets []backup.BackupTarget

func (s StaticTargets) BackupTargets() ([]backup.BackupTarget, error) { return s, nil }

// Locker is the mutual-exclusion token shared with the scheduler.
type Locker interface {
	TryAcquire() bool
	Release()
}

// bucketChecker is implemented by stores that can verify a bucket is
// reachable before any file is touched.
type bucketChecker interface {
	Check(ctx context.Context, bucket string) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithHasher(h fingerprint.Hasher) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.hasher = h
		}
	}
}

func WithSink(s progress.Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithIncremental turns change detection on or off. A full run uploads every
// file but still tags it with its content hash.
func WithIncremental(on bool) Option {
	return func(c *Coordinator) { c.incremental = on }
}

// WithCompression stores objects zstd-compressed.
func WithCompression(on bool) Option {
	return func(c *Coordinator) { c.compress = on }
}

// WithHistoryDir makes every finished run write its RunRecord into dir.
func WithHistoryDir(dir string) Option {
	return func(c *Coordinator) { c.historyDir = dir }
}

// WithTempDir sets where compressed copies are staged.
func WithTempDir(dir string) Option {
	return func(c *Coordinator) { c.tempDir = dir }
}

// Coordinator runs backups: it walks every target, decides per file whether
// the remote copy is current and uploads the rest. At most one run is
// active at a time, enforced by the lock.
type Coordinator struct {
	store   remote.Store
	lock    Locker
	targets TargetSource

	hasher      fingerprint.Hasher
	sink        progress.Sink
	log         logger.Logger
	clock       clock.Clock
	incremental bool
	compress    bool
	historyDir  string
	tempDir     string
	queueSize   int

	mu      sync.Mutex
	current *Run
}

// NewCoordinator returns a Coordinator. Incremental mode is on by default.
func NewCoordinator(store remote.Store, lk Locker, targets TargetSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		lock:        lk,
		targets:     targets,
		hasher:      fingerprint.SHA256(),
		sink:        progress.Discard,
		log:         logger.Global(),
		clock:       clock.WallClock,
		incremental: true,
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start acquires the backup lock and runs a backup in the background. It
// never waits for the lock: when a backup is already running it returns
// ErrAlreadyRunning and no run is created. Cancelling ctx cancels the run
// the same way Run.Cancel does.
func (c *Coordinator) Start(ctx context.Context) (*Run, error) {
	if !c.lock.TryAcquire() {
		return nil, ErrAlreadyRunning
	}

	run := newRun(uuid.NewString(), c.sink, c.clock)
	c.mu.Lock()
	c.current = run
	c.mu.Unlock()

	go c.execute(ctx, run)
	return run, nil
}

// TryStart starts a backup without waiting for it.
func (c *Coordinator) TryStart(ctx context.Context) error {
	_, err := c.Start(ctx)
	return err
}

// Run starts a backup and waits for it to finish.
func (c *Coordinator) Run(ctx context.Context) (Snapshot, error) {
	run, err := c.Start(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	<-run.Done()
	return run.Snapshot(), nil
}

// Current returns the active run, or the most recent one when none is
// active. It is nil before the first run.
func (c *Coordinator) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cancel cancels the active run and reports whether there was one.
func (c *Coordinator) Cancel() bool {
	run := c.Current()
	if run == nil {
		return false
	}
	return run.Cancel()
}

func (c *Coordinator) execute(ctx context.Context, run *Run) {
	log := c.log.With("run", run.ID())
	stop := context.AfterFunc(ctx, func() { run.Cancel() })
	defer stop()

	// Transfers in flight finish even when the caller goes away;
	// cancellation is checked between files.
	workCtx := context.WithoutCancel(ctx)

	run.setStatus(backup.StatusScanning)
	err := c.backupAll(workCtx, run, log)

	var snap Snapshot
	switch {
	case err == nil:
		snap = run.finish(backup.StatusCompleted, nil)
	case errors.Is(err, errCancelled):
		snap = run.finish(backup.StatusCancelled, nil)
	default:
		snap = run.finish(backup.StatusFailed, err)
	}

	if c.historyDir != "" {
		rec := recordFrom(snap)
		if err := rec.Write(c.historyDir); err != nil {
			log.Warn("could not write run record", "dir", c.historyDir, "error", err)
		}
	}

	c.lock.Release()
	close(run.done)
}

func (c *Coordinator) backupAll(ctx context.Context, run *Run, log logger.Logger) error {
	targets, err := c.targets.BackupTargets()
	if err != nil {
		return fmt.Errorf("load backup targets: %w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no folders configured")
	}
	if err := backup.CheckOverlap(targets); err != nil {
		return err
	}
	run.startTargets(len(targets))
	for _, target := range targets {
		if run.cancelled() {
			return errCancelled
		}
		run.targetStarted(target.LocalPath)
		if err := c.backupTarget(ctx, run, target, log.With("folder", target.LocalPath, "bucket", target.Bucket)); err != nil {
			return err
		}
		run.targetDone()
	}
	return nil
}

// prepare checks everything that must hold before a target's files are
// touched and returns its change detector.
func (c *Coordinator) prepare(ctx context.Context, target backup.BackupTarget, log logger.Logger) (*fingerprint.Detector, error) {
	if err := target.CheckRoot(); err != nil {
		return nil, err
	}
	if checker, ok := c.store.(bucketChecker); ok {
		if err := checker.Check(ctx, target.Bucket); err != nil {
			return nil, fmt.Errorf("bucket %s unreachable: %w", target.Bucket, err)
		}
	}
	if !c.incremental {
		return fingerprint.NewDetector(c.hasher, nil), nil
	}

	cache, err := fingerprint.Populate(ctx, c.store, target, c.clock.Now)
	if err != nil {
		return nil, err
	}
	log.Debug("fingerprints loaded",
		"objects", cache.Len(),
		"untagged", cache.Untagged(),
		"unreadable", cache.Unreadable(),
	)
	return fingerprint.NewDetector(c.hasher, cache), nil
}

// backupTarget walks one target on a scanner goroutine and uploads on
// another, connected by a bounded queue so uploads begin before the walk
// ends. Files are uploaded in walk order.
func (c *Coordinator) backupTarget(ctx context.Context, run *Run, target backup.BackupTarget, log logger.Logger) error {
	detector, err := c.prepare(ctx, target, log)
	if err != nil {
		return err
	}

	tasks := make(chan backup.FileTask, c.queueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(tasks)
		return target.WalkFiles(func(path string, walkErr error) error {
			if run.cancelled() {
				return errCancelled
			}
			run.scanned(path)
			if walkErr != nil {
				log.Warn("cannot read", "path", path, "error", walkErr)
				run.failed(path, walkErr)
				return nil
			}

			key, err := target.RemoteKey(path)
			if err != nil {
				run.failed(path, err)
				return nil
			}
			task := backup.FileTask{LocalPath: path, RemoteKey: key}
			if err := detector.Decide(&task); err != nil {
				log.Warn("cannot hash", "path", path, "error", err)
				run.failed(path, err)
				return nil
			}
			if task.Decision == backup.DecisionSkip {
				run.skipped(path)
				return nil
			}

			select {
			case tasks <- task:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		for task := range tasks {
			if run.cancelled() {
				return errCancelled
			}
			run.setStatus(backup.StatusUploading)
			if err := c.upload(ctx, target, task); err != nil {
				if remote.IsFatal(err) {
					return fmt.Errorf("upload %s: %w", task.RemoteKey, err)
				}
				log.Warn("upload failed", "path", task.LocalPath, "key", task.RemoteKey, "error", err)
				run.failed(task.LocalPath, err)
				continue
			}
			log.Debug("uploaded", "key", task.RemoteKey, "size", task.Size)
			run.uploaded(task.LocalPath)
		}
		return nil
	})

	return g.Wait()
}

func (c *Coordinator) upload(ctx context.Context, target backup.BackupTarget, task backup.FileTask) error {
	metadata := map[string]string{remote.MetadataHashKey: task.LocalHash}
	path := task.LocalPath
	if c.compress {
		compressed, err := CompressZstd(task.LocalPath, c.tempDir)
		if err != nil {
			return err
		}
		defer os.Remove(compressed)
		path = compressed
		metadata[remote.MetadataEncodingKey] = EncodingZstd
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	return c.store.Put(ctx, target.Bucket, task.RemoteKey, file, info.Size(), metadata)
}
