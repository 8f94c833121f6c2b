package fingerprint

import (
	"context"
	"crypto/md5"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/remote"
	"github.com/kebairia/b2backup/internal/remote/remotetest"
)

// sha256 of the empty input.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fixedNow() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestSHA256_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a"), "same bytes")
	b := writeFile(t, filepath.Join(dir, "b"), "same bytes")
	empty := writeFile(t, filepath.Join(dir, "empty"), "")

	h := SHA256()
	ha, size, err := h.HashFile(a)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	hb, _, err := h.HashFile(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	he, size, err := h.HashFile(empty)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
	assert.Equal(t, emptySHA256, he)
}

func TestHashFunc_Pluggable(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "f"), "")
	digest, _, err := NewHashFunc(md5.New).HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", digest)
}

func TestHashFile_MissingFile(t *testing.T) {
	_, _, err := SHA256().HashFile(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPopulate(t *testing.T) {
	store := remotetest.New()
	store.Seed("bkt", "Docs/a.txt", []byte("a"), map[string]string{remote.MetadataHashKey: "h-a"})
	store.Seed("bkt", "Docs/other-tool.txt", []byte("b"), nil)
	store.Seed("bkt", "Docs/broken.txt", []byte("c"), map[string]string{remote.MetadataHashKey: "h-c"})
	store.Seed("bkt", "Music/song.mp3", []byte("d"), map[string]string{remote.MetadataHashKey: "h-d"})
	store.HeadErr = func(key string) error {
		if key == "Docs/broken.txt" {
			return remote.ErrUnavailable
		}
		return nil
	}

	target := backup.BackupTarget{LocalPath: "/home/u/Docs", Bucket: "bkt", Mode: backup.ModeSingleBucket}
	cache, err := Populate(context.Background(), store, target, fixedNow)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Docs/a.txt": "h-a"}, cache.Hashes())
	assert.Equal(t, 1, cache.Untagged())
	assert.Equal(t, 1, cache.Unreadable())

	e, ok := cache.Lookup("Docs/a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.Size)
	assert.Equal(t, fixedNow(), e.CheckedAt)

	_, ok = cache.Lookup("Music/song.mp3")
	assert.False(t, ok, "other prefixes are not part of the target's cache")
}

func TestPopulate_ListFailureIsReturned(t *testing.T) {
	store := remotetest.New()
	store.ListErr = remote.ErrAccessDenied

	_, err := Populate(context.Background(), store, backup.BackupTarget{Bucket: "bkt"}, fixedNow)
	assert.ErrorIs(t, err, remote.ErrAccessDenied)
}

func TestDecide(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "a.txt"), "hello")
	digest, _, err := SHA256().HashFile(path)
	require.NoError(t, err)

	store := remotetest.New()
	store.Seed("bkt", "a.txt", nil, map[string]string{remote.MetadataHashKey: digest})
	store.Seed("bkt", "stale.txt", nil, map[string]string{remote.MetadataHashKey: "old"})
	target := backup.BackupTarget{LocalPath: dir, Bucket: "bkt", Mode: backup.ModePerFolderBucket}
	cache, err := Populate(context.Background(), store, target, fixedNow)
	require.NoError(t, err)

	d := NewDetector(SHA256(), cache)

	tests := []struct {
		name string
		key  string
		want backup.Decision
	}{
		{"unchanged", "a.txt", backup.DecisionSkip},
		{"changed", "stale.txt", backup.DecisionUpload},
		{"new key with identical content", "copy-of-a.txt", backup.DecisionUpload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			task := backup.FileTask{LocalPath: path, RemoteKey: tc.key}
			require.NoError(t, d.Decide(&task))
			assert.Equal(t, tc.want, task.Decision)
			assert.Equal(t, digest, task.LocalHash)
			assert.Equal(t, int64(5), task.Size)
		})
	}
}

func TestDecide_ZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "empty"), "")

	store := remotetest.New()
	store.Seed("bkt", "empty", nil, map[string]string{remote.MetadataHashKey: emptySHA256})
	cache, err := Populate(context.Background(), store, backup.BackupTarget{LocalPath: dir, Bucket: "bkt"}, fixedNow)
	require.NoError(t, err)

	task := backup.FileTask{LocalPath: path, RemoteKey: "empty"}
	require.NoError(t, NewDetector(nil, cache).Decide(&task))
	assert.Equal(t, backup.DecisionSkip, task.Decision)
}

func TestDecide_NilCacheUploadsEverything(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "a"), "x")
	task := backup.FileTask{LocalPath: path, RemoteKey: "a"}
	require.NoError(t, NewDetector(SHA256(), nil).Decide(&task))
	assert.Equal(t, backup.DecisionUpload, task.Decision)
	assert.NotEmpty(t, task.LocalHash)
}

type failingHasher struct{ err error }

func (f failingHasher) HashFile(string) (string, int64, error) { return "", 0, f.err }

func TestDecide_ReadErrorLeavesTaskUndecided(t *testing.T) {
	boom := errors.New("locked")
	task := backup.FileTask{LocalPath: "x", RemoteKey: "x"}
	err := NewDetector(failingHasher{boom}, nil).Decide(&task)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, task.Decision)
}
