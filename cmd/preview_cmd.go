package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/operations"
)

var previewVerbose bool

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a backup would upload without uploading",
	RunE: func(cmd *cobra.Command, args []string) error {
		om, err := operations.NewOperationManager(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		plan, err := om.Preview(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if previewVerbose {
			for _, f := range plan.Files {
				switch {
				case f.Err != nil:
					fmt.Fprintf(out, "error   %s: %v\n", f.LocalPath, f.Err)
				case f.Decision == backup.DecisionSkip:
					fmt.Fprintf(out, "skip    %s\n", f.RemoteKey)
				default:
					fmt.Fprintf(out, "upload  %s/%s (%s)\n", f.Bucket, f.RemoteKey, humanize.Bytes(uint64(f.Size)))
				}
			}
		}
		fmt.Fprintln(out, plan.Summary())
		return nil
	},
}

func init() {
	previewCmd.Flags().BoolVarP(&previewVerbose, "verbose", "v", false, "list every file")
}
