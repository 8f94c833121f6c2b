package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/remote"
	"github.com/kebairia/b2backup/internal/scheduler"
)

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

var validate = validator.New()

// Validate checks field constraints and the rules that span fields: at
// least one folder, a shared bucket in single-bucket mode, a bucket per
// folder in per-folder-bucket mode, no two folders stored under the same
// bucket and prefix, and a usable schedule when enabled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: no folders configured", ErrValidateConfig)
	}

	mode, err := backup.ParseMode(c.Backup.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	switch mode {
	case backup.ModeSingleBucket:
		if c.Backup.Bucket == "" {
			return fmt.Errorf("%w: backup.bucket is required in %s mode", ErrValidateConfig, mode)
		}
	case backup.ModePerFolderBucket:
		for _, t := range c.Targets {
			if t.Bucket == "" {
				return fmt.Errorf("%w: folder %s has no bucket (required in %s mode)", ErrValidateConfig, t.Path, mode)
			}
		}
	}

	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		p := ExpandPath(t.Path)
		if seen[p] {
			return fmt.Errorf("%w: folder %s is listed twice", ErrValidateConfig, t.Path)
		}
		seen[p] = true
	}
	targets, err := c.BackupTargets()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	if err := backup.CheckOverlap(targets); err != nil {
		return fmt.Errorf("%w: %w", ErrValidateConfig, err)
	}

	if c.Schedule.Enabled {
		if _, err := c.ScheduleConfig(); err != nil {
			return fmt.Errorf("%w: schedule: %v", ErrValidateConfig, err)
		}
	}
	return nil
}

// BackupTargets resolves every configured folder to the bucket it is
// stored in according to the bucket mode.
func (c *Config) BackupTargets() ([]backup.BackupTarget, error) {
	mode, err := backup.ParseMode(c.Backup.Mode)
	if err != nil {
		return nil, err
	}
	targets := make([]backup.BackupTarget, 0, len(c.Targets))
	for _, t := range c.Targets {
		bucket := t.Bucket
		if mode == backup.ModeSingleBucket {
			bucket = c.Backup.Bucket
		}
		if bucket == "" {
			return nil, fmt.Errorf("%w: no bucket for folder %s", ErrValidateConfig, t.Path)
		}
		targets = append(targets, backup.BackupTarget{
			LocalPath: ExpandPath(t.Path),
			Bucket:    bucket,
			Mode:      mode,
		})
	}
	return targets, nil
}

// ScheduleConfig converts the persisted schedule into the scheduler's form.
func (c *Config) ScheduleConfig() (scheduler.Config, error) {
	freq, err := scheduler.ParseFrequency(c.Schedule.Frequency)
	if err != nil {
		return scheduler.Config{}, err
	}
	day, err := scheduler.ParseWeekday(c.Schedule.Weekday)
	if err != nil {
		return scheduler.Config{}, err
	}
	sc := scheduler.Config{
		Frequency:  freq,
		TimeOfDay:  c.Schedule.Time,
		Weekday:    day,
		DayOfMonth: c.Schedule.DayOfMonth,
	}
	if err := sc.Validate(); err != nil {
		return scheduler.Config{}, err
	}
	return sc, nil
}

// SetSchedule stores sc and enables the schedule.
func (c *Config) SetSchedule(sc scheduler.Config) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	c.Schedule.Enabled = true
	c.Schedule.Frequency = string(sc.Frequency)
	c.Schedule.Time = sc.TimeOfDay
	c.Schedule.Weekday = strings.ToLower(sc.Weekday.String())
	c.Schedule.DayOfMonth = sc.DayOfMonth
	return nil
}

// StorageCredentials returns the credentials from the storage section.
func (c *Config) StorageCredentials() remote.Credentials {
	return remote.Credentials{
		Endpoint:     c.Storage.Endpoint,
		AccessKey:    c.Storage.AccessKey,
		SecretKey:    c.Storage.SecretKey,
		Region:       c.Storage.Region,
		UsePathStyle: c.Storage.PathStyle,
	}
}

// AddTarget appends a folder. It reports false when the folder is already
// configured and fails when the folder would be stored where another one
// already is.
func (c *Config) AddTarget(path, bucket string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("%w: empty folder path", ErrValidateConfig)
	}
	abs, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return false, err
	}
	if c.targetIndex(abs) >= 0 {
		return false, nil
	}
	c.Targets = append(c.Targets, TargetConfig{Path: abs, Bucket: bucket})
	if targets, err := c.BackupTargets(); err == nil {
		if err := backup.CheckOverlap(targets); err != nil {
			c.Targets = c.Targets[:len(c.Targets)-1]
			return false, fmt.Errorf("%w: %w", ErrValidateConfig, err)
		}
	}
	return true, nil
}

// RemoveTarget drops a folder and reports whether it was configured.
func (c *Config) RemoveTarget(path string) bool {
	abs, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return false
	}
	i := c.targetIndex(abs)
	if i < 0 {
		return false
	}
	c.Targets = slices.Delete(c.Targets, i, i+1)
	return true
}

func (c *Config) targetIndex(abs string) int {
	return slices.IndexFunc(c.Targets, func(t TargetConfig) bool {
		p, err := filepath.Abs(ExpandPath(t.Path))
		return err == nil && p == abs
	})
}
