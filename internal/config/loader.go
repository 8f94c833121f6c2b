package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrSaveConfig indicates the configuration could not be written back.
var ErrSaveConfig = errors.New("config save failed")

// EnvPrefix prefixes environment overrides, e.g. B2BACKUP_STORAGE_ACCESS_KEY.
const EnvPrefix = "B2BACKUP"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include  []string       `mapstructure:"include"  yaml:"include,omitempty"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Vault    VaultConfig    `mapstructure:"vault"    yaml:"vault,omitempty"`
	Backup   BackupConfig   `mapstructure:"backup"   yaml:"backup"`
	Targets  []TargetConfig `mapstructure:"targets"  yaml:"targets"  validate:"dive"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// StorageConfig holds the S3-compatible endpoint and its credentials. The
// keys are ignored when Vault is configured.
type StorageConfig struct {
	Endpoint  string        `mapstructure:"endpoint"   yaml:"endpoint,omitempty"`
	AccessKey string        `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string        `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Region    string        `mapstructure:"region"     yaml:"region,omitempty"`
	PathStyle bool          `mapstructure:"path_style" yaml:"path_style,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout"    yaml:"timeout,omitempty" validate:"gte=0"`
	Retries   int           `mapstructure:"retries"    yaml:"retries,omitempty" validate:"gte=0,lte=20"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address         string `mapstructure:"address"          yaml:"address,omitempty"          validate:"omitempty,url"`
	Token           string `mapstructure:"token"            yaml:"token,omitempty"`
	RoleID          string `mapstructure:"role_id"          yaml:"role_id,omitempty"`
	RoleName        string `mapstructure:"role_name"        yaml:"role_name,omitempty"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty" validate:"required_with=Address"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	Mode        string `mapstructure:"mode"        yaml:"mode"                validate:"oneof=single-bucket per-folder-bucket"`
	Bucket      string `mapstructure:"bucket"      yaml:"bucket,omitempty"`
	Incremental bool   `mapstructure:"incremental" yaml:"incremental"`
	Compress    bool   `mapstructure:"compress"    yaml:"compress"`
	StateDir    string `mapstructure:"state_dir"   yaml:"state_dir,omitempty"`
	TempDir     string `mapstructure:"temp_dir"    yaml:"temp_dir,omitempty"`
}

// TargetConfig is one local folder to back up.
type TargetConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
	// Bucket is required in per-folder-bucket mode and ignored otherwise.
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`
}

// ScheduleConfig is the persisted schedule of the daemon.
type ScheduleConfig struct {
	Enabled       bool          `mapstructure:"enabled"        yaml:"enabled"`
	Frequency     string        `mapstructure:"frequency"      yaml:"frequency"                validate:"omitempty,oneof=1min 5min 15min hourly daily weekly monthly"`
	Time          string        `mapstructure:"time"           yaml:"time,omitempty"`
	Weekday       string        `mapstructure:"weekday"        yaml:"weekday,omitempty"`
	DayOfMonth    int           `mapstructure:"day_of_month"   yaml:"day_of_month,omitempty"   validate:"gte=0,lte=28"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval,omitempty" validate:"gte=0"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"        yaml:"level"                  validate:"omitempty,oneof=debug info warn error"`
	File       string `mapstructure:"file"         yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  yaml:"max_size_mb,omitempty"  validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups"  yaml:"max_backups,omitempty"  validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days,omitempty" validate:"gte=0"`
}

// DefaultDir is where state and the default config live.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".b2backup"
	}
	return filepath.Join(home, ".b2backup")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.path_style", false)
	v.SetDefault("storage.timeout", 60*time.Second)
	v.SetDefault("storage.retries", 3)

	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.role_name", "")
	v.SetDefault("vault.credentials_path", "")

	v.SetDefault("backup.mode", "single-bucket")
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.incremental", true)
	v.SetDefault("backup.compress", false)
	v.SetDefault("backup.state_dir", DefaultDir())
	v.SetDefault("backup.temp_dir", "")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.frequency", "daily")
	v.SetDefault("schedule.time", "02:00")
	v.SetDefault("schedule.weekday", "sunday")
	v.SetDefault("schedule.day_of_month", 1)
	v.SetDefault("schedule.check_interval", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, applies B2BACKUP_* environment overrides and
// unmarshals into the Config struct. Load does not validate.
func (c *Config) Load(path string) error {
	return c.load(path, true)
}

// LoadForEdit reads only the file itself, without includes or environment
// overrides, so that Save writes back what the user wrote.
func (c *Config) LoadForEdit(path string) error {
	return c.load(path, false)
}

func (c *Config) load(path string, resolve bool) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if resolve {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %w", ErrLoadConfig, path, err)
	}

	// Includes are resolved relative to the including file.
	includes := v.GetStringSlice("include")
	if !resolve {
		includes = nil
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %w", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	return nil
}

// Save writes the configuration to path as YAML, replacing the file
// atomically. Edits should start from LoadForEdit so that environment
// secrets are not persisted.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrSaveConfig, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrSaveConfig, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrSaveConfig, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveConfig, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: rename to %s: %w", ErrSaveConfig, path, err)
	}
	return nil
}

// Sample returns a starting configuration for `b2backup init`.
func Sample() Config {
	return Config{
		Storage: StorageConfig{
			Endpoint:  "s3.us-west-004.backblazeb2.com",
			AccessKey: "your-key-id",
			SecretKey: "your-application-key",
			Region:    "us-west-004",
			Timeout:   60 * time.Second,
			Retries:   3,
		},
		Backup: BackupConfig{
			Mode:        "single-bucket",
			Bucket:      "my-backup-bucket",
			Incremental: true,
			StateDir:    DefaultDir(),
		},
		Targets: []TargetConfig{
			{Path: "~/Documents"},
			{Path: "~/Pictures"},
		},
		Schedule: ScheduleConfig{
			Frequency:     "daily",
			Time:          "02:00",
			Weekday:       "sunday",
			DayOfMonth:    1,
			CheckInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(DefaultDir(), "b2backup.log"),
		},
	}
}

// ExpandPath resolves a leading ~ and environment variables.
func ExpandPath(p string) string {
	if p == "" {
		return ""
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Clean(p)
}
