package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/b2backup/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigEditingCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	folder := t.TempDir()

	out, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+cfgPath)

	_, err = execute(t, "--config", cfgPath, "init")
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "--config", cfgPath, "folder", "add", folder)
	require.NoError(t, err)
	assert.Contains(t, out, "added "+folder)

	out, err = execute(t, "--config", cfgPath, "folder", "add", folder)
	require.NoError(t, err)
	assert.Contains(t, out, "already backed up")

	out, err = execute(t, "--config", cfgPath, "folder", "list")
	require.NoError(t, err)
	assert.Contains(t, out, folder+" -> my-backup-bucket/"+filepath.Base(folder)+"/")

	out, err = execute(t, "--config", cfgPath, "schedule", "set", "--frequency", "weekly", "--time", "08:30", "--weekday", "mon")
	require.NoError(t, err)
	assert.Contains(t, out, "every Monday at 08:30")

	out, err = execute(t, "--config", cfgPath, "schedule", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "next run:")

	var cfg config.Config
	require.NoError(t, cfg.LoadForEdit(cfgPath))
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "monday", cfg.Schedule.Weekday)

	_, err = execute(t, "--config", cfgPath, "schedule", "set", "--frequency", "yearly")
	assert.Error(t, err)

	out, err = execute(t, "--config", cfgPath, "schedule", "disable")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")

	out, err = execute(t, "--config", cfgPath, "folder", "remove", folder)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	_, err = execute(t, "--config", cfgPath, "folder", "remove", folder)
	assert.Error(t, err)
}
