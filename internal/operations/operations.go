package operations

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/kebairia/b2backup/internal/config"
	"github.com/kebairia/b2backup/internal/lock"
	"github.com/kebairia/b2backup/internal/logger"
	"github.com/kebairia/b2backup/internal/progress"
	"github.com/kebairia/b2backup/internal/remote"
	"github.com/kebairia/b2backup/internal/scheduler"
	"github.com/kebairia/b2backup/internal/vault"
)

// MachineMutexName is the machine-wide mutex shared by every b2backup
// process.
const MachineMutexName = "b2backup"

// ManagerOption overrides a collaborator the manager would otherwise build
// from the configuration.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	store remote.Store
	lock  Locker
	sinks []progress.Sink
	log   logger.Logger
}

// WithStore replaces the S3 store built from the storage credentials.
func WithStore(s remote.Store) ManagerOption {
	return func(o *managerOptions) { o.store = s }
}

// WithLock replaces the machine-wide backup lock.
func WithLock(l Locker) ManagerOption {
	return func(o *managerOptions) { o.lock = l }
}

// WithSinks adds progress sinks next to the log sink.
func WithSinks(sinks ...progress.Sink) ManagerOption {
	return func(o *managerOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithManagerLogger overrides the global logger.
func WithManagerLogger(log logger.Logger) ManagerOption {
	return func(o *managerOptions) { o.log = log }
}

// OperationManager wires the configuration, credentials, remote store,
// backup lock and coordinator together for the command line.
type OperationManager struct {
	cfg         config.Config
	store       remote.Store
	coordinator *Coordinator
	log         logger.Logger
}

// NewOperationManager loads and validates the YAML config at configPath and
// builds everything a backup needs.
func NewOperationManager(ctx context.Context, configPath string, opts ...ManagerOption) (*OperationManager, error) {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = logger.Global()
	}

	var cfg config.Config
	if err := cfg.Load(configPath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	om := &OperationManager{cfg: cfg, store: o.store, log: log}
	if om.store == nil {
		creds, err := om.credentials(ctx)
		if err != nil {
			return nil, err
		}
		store, err := remote.NewS3Store(creds,
			remote.WithTimeout(cfg.Storage.Timeout),
			remote.WithRetries(cfg.Storage.Retries, 0),
			remote.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("storage client init: %w", err)
		}
		om.store = store
	}

	lk := o.lock
	if lk == nil {
		lk = lock.New(lock.WithMachineMutex(MachineMutexName, clock.WallClock))
	}

	sinks := progress.Multi{progress.NewLogSink(log)}
	sinks = append(sinks, o.sinks...)

	om.coordinator = NewCoordinator(om.store, lk, &om.cfg,
		WithSink(sinks),
		WithLogger(log),
		WithIncremental(cfg.Backup.Incremental),
		WithCompression(cfg.Backup.Compress),
		WithHistoryDir(config.ExpandPath(cfg.Backup.StateDir)),
		WithTempDir(config.ExpandPath(cfg.Backup.TempDir)),
	)
	return om, nil
}

// credentials reads the storage keys from Vault when it is configured and
// from the config file otherwise.
func (om *OperationManager) credentials(ctx context.Context) (remote.Credentials, error) {
	base := om.cfg.StorageCredentials()
	vc := om.cfg.Vault
	if vc.Address == "" {
		return base, nil
	}

	vaultOpts := []vault.Option{vault.WithAddress(vc.Address)}
	if vc.Token != "" {
		vaultOpts = append(vaultOpts, vault.WithToken(vc.Token))
	}
	if vc.RoleID != "" {
		vaultOpts = append(vaultOpts, vault.WithAppRole(vc.RoleID, vc.RoleName))
	}
	client, err := vault.NewClient(ctx, vaultOpts...)
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("vault client init: %w", err)
	}
	creds, err := client.StorageCredentials(ctx, vc.CredentialsPath, base)
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("storage credentials: %w", err)
	}
	return creds, nil
}

// Config returns the loaded configuration.
func (om *OperationManager) Config() config.Config { return om.cfg }

// Coordinator returns the backup coordinator.
func (om *OperationManager) Coordinator() *Coordinator { return om.coordinator }

// Backup runs one backup to completion.
func (om *OperationManager) Backup(ctx context.Context) (Snapshot, error) {
	return om.coordinator.Run(ctx)
}

// Preview computes what Backup would upload.
func (om *OperationManager) Preview(ctx context.Context) (Plan, error) {
	return om.coordinator.Preview(ctx)
}

// LastRun returns the record of the most recent finished run.
func (om *OperationManager) LastRun() (RunRecord, error) {
	return LoadLastRun(config.ExpandPath(om.cfg.Backup.StateDir))
}

// NewScheduler returns a scheduler that starts backups on this manager's
// coordinator, configured from the schedule section when it is enabled.
func (om *OperationManager) NewScheduler(opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	base := []scheduler.Option{
		scheduler.WithLogger(om.log),
		scheduler.WithCheckInterval(om.cfg.Schedule.CheckInterval),
	}
	if rec, err := om.LastRun(); err == nil && !rec.CompletedAt.IsZero() {
		base = append(base, scheduler.WithLastRun(rec.CompletedAt))
	}
	s := scheduler.New(om.coordinator, append(base, opts...)...)

	if !om.cfg.Schedule.Enabled {
		return s, nil
	}
	sc, err := om.cfg.ScheduleConfig()
	if err != nil {
		return nil, err
	}
	if err := s.Configure(sc); err != nil {
		return nil, err
	}
	return s, nil
}
