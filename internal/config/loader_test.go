package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/scheduler"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const baseYAML = `
storage:
  endpoint: "s3.us-west-004.backblazeb2.com"
  access_key: "key-id"
  secret_key: "app-key"
  timeout: 45s
backup:
  bucket: "family-photos"
  compress: true
targets:
  - path: "/srv/photos"
  - path: "/srv/docs"
schedule:
  enabled: true
  frequency: weekly
  time: "03:15"
  weekday: friday
`

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, 45*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, 3, cfg.Storage.Retries)
	assert.Equal(t, "single-bucket", cfg.Backup.Mode)
	assert.True(t, cfg.Backup.Incremental)
	assert.True(t, cfg.Backup.Compress)
	assert.Equal(t, 30*time.Second, cfg.Schedule.CheckInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.Len(t, cfg.Targets, 2)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)
	t.Setenv("B2BACKUP_STORAGE_SECRET_KEY", "from-env")

	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "from-env", cfg.Storage.SecretKey)

	var raw Config
	require.NoError(t, raw.LoadForEdit(path))
	assert.Equal(t, "app-key", raw.Storage.SecretKey)
}

func TestLoad_MergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.yaml", "storage:\n  secret_key: included\n")
	path := writeFile(t, dir, "config.yaml", "include: [secrets.yaml]\n"+baseYAML)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "included", cfg.Storage.SecretKey)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	var cfg Config
	err := cfg.Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)

	unknown := writeFile(t, dir, "unknown.yaml", "backup:\n  bucket: b\n  retention: 3\n")
	assert.ErrorIs(t, cfg.Load(unknown), ErrLoadConfig, "unknown keys are rejected")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backup:  BackupConfig{Mode: "single-bucket", Bucket: "b"},
			Targets: []TargetConfig{{Path: "/a"}, {Path: "/b"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no folders", func(c *Config) { c.Targets = nil }, false},
		{"single bucket without bucket", func(c *Config) { c.Backup.Bucket = "" }, false},
		{"bad mode", func(c *Config) { c.Backup.Mode = "mirror" }, false},
		{"per folder missing bucket", func(c *Config) {
			c.Backup.Mode = "per-folder-bucket"
			c.Targets[0].Bucket = "a"
		}, false},
		{"per folder", func(c *Config) {
			c.Backup.Mode = "per-folder-bucket"
			c.Backup.Bucket = ""
			c.Targets[0].Bucket = "a"
			c.Targets[1].Bucket = "b"
		}, true},
		{"duplicate folder", func(c *Config) { c.Targets[1].Path = "/a/" }, false},
		{"same folder name in one bucket", func(c *Config) { c.Targets[1].Path = "/other/a" }, false},
		{"same folder name in own buckets", func(c *Config) {
			c.Backup.Mode = "per-folder-bucket"
			c.Targets[0].Bucket = "a"
			c.Targets[1] = TargetConfig{Path: "/other/a", Bucket: "b"}
		}, true},
		{"per folder sharing a bucket", func(c *Config) {
			c.Backup.Mode = "per-folder-bucket"
			c.Targets[0].Bucket = "a"
			c.Targets[1].Bucket = "a"
		}, false},
		{"empty folder path", func(c *Config) { c.Targets[0].Path = "" }, false},
		{"vault without path", func(c *Config) { c.Vault.Address = "http://127.0.0.1:8200" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"schedule enabled bad time", func(c *Config) {
			c.Schedule = ScheduleConfig{Enabled: true, Frequency: "daily", Time: "25:99"}
		}, false},
		{"schedule disabled is not checked", func(c *Config) {
			c.Schedule = ScheduleConfig{Frequency: "daily", Time: "25:99"}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidateConfig)
			}
		})
	}
}

func TestBackupTargets(t *testing.T) {
	cfg := Config{
		Backup:  BackupConfig{Mode: "single-bucket", Bucket: "shared"},
		Targets: []TargetConfig{{Path: "/srv/photos", Bucket: "ignored"}, {Path: "/srv/docs"}},
	}
	targets, err := cfg.BackupTargets()
	require.NoError(t, err)
	assert.Equal(t, []backup.BackupTarget{
		{LocalPath: "/srv/photos", Bucket: "shared", Mode: backup.ModeSingleBucket},
		{LocalPath: "/srv/docs", Bucket: "shared", Mode: backup.ModeSingleBucket},
	}, targets)

	cfg.Backup.Mode = "per-folder-bucket"
	_, err = cfg.BackupTargets()
	assert.ErrorIs(t, err, ErrValidateConfig, "docs has no bucket of its own")

	cfg.Targets[1].Bucket = "docs"
	targets, err = cfg.BackupTargets()
	require.NoError(t, err)
	assert.Equal(t, "ignored", targets[0].Bucket)
	assert.Equal(t, "docs", targets[1].Bucket)
	assert.Equal(t, backup.ModePerFolderBucket, targets[1].Mode)
}

func TestScheduleConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)
	var cfg Config
	require.NoError(t, cfg.Load(path))

	sc, err := cfg.ScheduleConfig()
	require.NoError(t, err)
	assert.Equal(t, scheduler.Config{
		Frequency: scheduler.Weekly,
		TimeOfDay: "03:15",
		Weekday:   time.Friday,
		// day_of_month default
		DayOfMonth: 1,
	}, sc)

	require.NoError(t, cfg.SetSchedule(scheduler.Config{Frequency: scheduler.Hourly}))
	assert.Equal(t, "hourly", cfg.Schedule.Frequency)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Error(t, cfg.SetSchedule(scheduler.Config{Frequency: "yearly"}))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Sample()
	cfg.Targets = nil
	added, err := cfg.AddTarget(dir, "")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = cfg.AddTarget(dir+"/", "")
	require.NoError(t, err)
	assert.False(t, added, "same folder twice")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var loaded Config
	require.NoError(t, loaded.LoadForEdit(path))
	assert.Equal(t, cfg.Targets, loaded.Targets)
	assert.Equal(t, cfg.Storage.Timeout, loaded.Storage.Timeout)
	assert.Equal(t, cfg.Schedule, loaded.Schedule)
	assert.NoError(t, loaded.Validate())

	assert.True(t, loaded.RemoveTarget(dir))
	assert.False(t, loaded.RemoveTarget(dir))
	assert.Empty(t, loaded.Targets)
}

func TestAddTarget_RejectsSameNameInSharedBucket(t *testing.T) {
	cfg := Config{Backup: BackupConfig{Mode: "single-bucket", Bucket: "b"}}
	first := filepath.Join(t.TempDir(), "Docs")
	second := filepath.Join(t.TempDir(), "Docs")

	added, err := cfg.AddTarget(first, "")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = cfg.AddTarget(second, "")
	assert.ErrorIs(t, err, ErrValidateConfig)
	assert.ErrorIs(t, err, backup.ErrTargetsOverlap)
	assert.False(t, added)
	assert.Len(t, cfg.Targets, 1, "rejected folder is not kept")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Documents"), ExpandPath("~/Documents"))
	assert.Equal(t, "/srv/data", ExpandPath("/srv/data/"))
	assert.Equal(t, "", ExpandPath(""))
}
