package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/config"
)

var folderBucket string

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage the folders that are backed up",
}

var folderAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Add a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.LoadForEdit(ConfigFile); err != nil {
			return err
		}
		added, err := cfg.AddTarget(args[0], folderBucket)
		if err != nil {
			return err
		}
		if !added {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already backed up\n", args[0])
			return nil
		}
		if err := cfg.Save(ConfigFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", cfg.Targets[len(cfg.Targets)-1].Path)
		return nil
	},
}

var folderRemoveCmd = &cobra.Command{
	Use:     "remove PATH",
	Aliases: []string{"rm"},
	Short:   "Stop backing up a folder (remote copies are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.LoadForEdit(ConfigFile); err != nil {
			return err
		}
		if !cfg.RemoveTarget(args[0]) {
			return fmt.Errorf("%s is not a configured folder", args[0])
		}
		if err := cfg.Save(ConfigFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List folders and the bucket each one is stored in",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		targets, err := cfg.BackupTargets()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range targets {
			fmt.Fprintf(out, "%s -> %s/%s\n", t.LocalPath, t.Bucket, t.Prefix())
		}
		if len(targets) == 0 {
			fmt.Fprintln(out, "no folders configured")
		}
		return nil
	},
}

func init() {
	folderAddCmd.Flags().
		StringVarP(&folderBucket, "bucket", "b", "", "bucket for this folder (per-folder-bucket mode)")
	folderCmd.AddCommand(folderAddCmd, folderRemoveCmd, folderListCmd)
}
