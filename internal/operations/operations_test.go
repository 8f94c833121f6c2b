package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/config"
	"github.com/kebairia/b2backup/internal/lock"
	"github.com/kebairia/b2backup/internal/logger"
	"github.com/kebairia/b2backup/internal/remote"
	"github.com/kebairia/b2backup/internal/remote/remotetest"
	"github.com/kebairia/b2backup/internal/scheduler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestOperationManager_BackupAndSchedule(t *testing.T) {
	root := writeTree(t, "photos", map[string]string{"a.jpg": "a", "b.jpg": "b"})
	state := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
backup:
  bucket: %s
  state_dir: %s
targets:
  - path: %s
schedule:
  enabled: true
  frequency: 15min
`, bucket, state, root))

	store := remotetest.New()
	om, err := NewOperationManager(context.Background(), path,
		WithStore(store),
		WithLock(lock.New()),
		WithManagerLogger(logger.Nop()),
	)
	require.NoError(t, err)

	snap, err := om.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backup.StatusCompleted, snap.Status)
	assert.Equal(t, []string{"photos/a.jpg", "photos/b.jpg"}, store.Keys(bucket))

	plan, err := om.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, plan.SkipCount)

	rec, err := om.LastRun()
	require.NoError(t, err)
	assert.Equal(t, snap.ID, rec.ID)

	s, err := om.NewScheduler()
	require.NoError(t, err)
	st := s.State()
	assert.True(t, st.Configured)
	assert.Equal(t, scheduler.EveryFifteenMin, st.Config.Frequency)
	assert.True(t, rec.CompletedAt.Add(15*time.Minute).Equal(st.NextFire), "cadence resumes from the last run")
}

func TestOperationManager_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "backup:\n  bucket: b\n")
	_, err := NewOperationManager(context.Background(), path, WithStore(remotetest.New()))
	assert.ErrorIs(t, err, config.ErrValidateConfig)
}

func TestOperationManager_MissingCredentials(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("backup:\n  bucket: b\ntargets:\n  - path: %s\n", t.TempDir()))
	_, err := NewOperationManager(context.Background(), path, WithManagerLogger(logger.Nop()))
	assert.ErrorIs(t, err, remote.ErrMissingCredentials)
}
