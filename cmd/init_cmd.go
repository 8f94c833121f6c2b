package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := os.Stat(ConfigFile)
		switch {
		case err == nil && !initForce:
			return fmt.Errorf("%s already exists (use --force to overwrite)", ConfigFile)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return err
		}

		sample := config.Sample()
		if err := sample.Save(ConfigFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; edit the storage keys, bucket and folders before the first backup\n", ConfigFile)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration")
}
