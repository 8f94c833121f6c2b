package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/config"
	"github.com/kebairia/b2backup/internal/logger"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// LogLevel overrides logging.level from the configuration.
	LogLevel string

	// rootCmd is the base command for b2backup.
	rootCmd = &cobra.Command{
		Use:   "b2backup",
		Short: "Incremental folder backups to S3-compatible storage",
		Long: `b2backup uploads local folders to Backblaze B2 or any S3-compatible
store. Files whose content did not change since the last run are skipped,
only one backup runs at a time, and the daemon runs backups on a schedule.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
	}
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}

// setupLogging initializes the global logger from the logging section. A
// config that cannot be read yet (before `init`) falls back to stderr only.
func setupLogging(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	opts := logger.Options{Level: "info"}
	if err := cfg.Load(ConfigFile); err == nil {
		opts = logger.Options{
			Level:      cfg.Logging.Level,
			File:       config.ExpandPath(cfg.Logging.File),
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	if LogLevel != "" {
		opts.Level = LogLevel
	}
	if _, err := logger.Init(opts); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", config.DefaultPath(), "path to YAML config file")
	rootCmd.PersistentFlags().
		StringVar(&LogLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(initCmd)
}
