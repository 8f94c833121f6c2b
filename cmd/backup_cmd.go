package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/operations"
)

// Exit codes of `b2backup backup`.
const (
	exitFailed         = 1
	exitAlreadyRunning = 2
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up every configured folder once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		om, err := operations.NewOperationManager(ctx, ConfigFile)
		if err != nil {
			return err
		}
		snap, err := om.Backup(ctx)
		if errors.Is(err, operations.ErrAlreadyRunning) {
			return &exitError{code: exitAlreadyRunning, err: err}
		}
		if err != nil {
			return err
		}

		printSummary(cmd.OutOrStdout(), snap)
		if snap.Status == backup.StatusFailed {
			return &exitError{code: exitFailed, err: errors.New(snap.Err)}
		}
		return nil
	},
}

func printSummary(w io.Writer, snap operations.Snapshot) {
	fmt.Fprintf(w, "backup %s %s in %s: %d scanned, %d uploaded, %d unchanged, %d failed\n",
		snap.ID, snap.Status, snap.Duration().Round(time.Millisecond),
		snap.Totals.Scanned, snap.Totals.Uploaded, snap.Totals.Skipped, snap.Totals.Failed)
	for _, f := range snap.Failures {
		fmt.Fprintf(w, "  failed: %s: %s\n", f.Path, f.Error)
	}
}
