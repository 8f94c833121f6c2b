package fingerprint

import (
	"context"
	"fmt"
	"time"

	"github.com/kebairia/b2backup/internal/backup"
	"github.com/kebairia/b2backup/internal/remote"
)

// Entry is the fingerprint recorded for one remote object.
type Entry struct {
	RemoteKey string
	Hash      string
	Size      int64
	CheckedAt time.Time
}

// Cache maps remote keys under one target's prefix to their recorded
// content hashes. It belongs to a single run and is never shared.
type Cache struct {
	target   backup.BackupTarget
	entries  map[string]Entry
	untagged int
	failed   int
}

// Populate lists the target's prefix and records every object that carries
// a content hash. Objects without one, or whose metadata could not be read,
// are left out so that the matching local file is uploaded again. A failed
// listing is returned as is: without it no decision can be made.
func Populate(ctx context.Context, store remote.Store, target backup.BackupTarget, now func() time.Time) (*Cache, error) {
	objects, err := store.List(ctx, target.Bucket, target.Prefix())
	if err != nil {
		return nil, fmt.Errorf("populate fingerprints for %s: %w", target.LocalPath, err)
	}

	c := &Cache{
		target:  target,
		entries: make(map[string]Entry, len(objects)),
	}
	checked := now()
	for _, obj := range objects {
		switch {
		case obj.MetadataErr != nil:
			c.failed++
		case obj.Hash() == "":
			c.untagged++
		default:
			c.entries[obj.Key] = Entry{
				RemoteKey: obj.Key,
				Hash:      obj.Hash(),
				Size:      obj.Size,
				CheckedAt: checked,
			}
		}
	}
	return c, nil
}

// Lookup returns the entry for key.
func (c *Cache) Lookup(key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[key]
	return e, ok
}

// Hashes returns a copy of the key to hash mapping.
func (c *Cache) Hashes() map[string]string {
	out := make(map[string]string, c.Len())
	if c == nil {
		return out
	}
	for k, e := range c.entries {
		out[k] = e.Hash
	}
	return out
}

// Len is the number of usable fingerprints.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Untagged counts listed objects that carried no content hash, e.g. ones
// uploaded by another tool.
func (c *Cache) Untagged() int {
	if c == nil {
		return 0
	}
	return c.untagged
}

// Unreadable counts listed objects whose metadata could not be read.
func (c *Cache) Unreadable() int {
	if c == nil {
		return 0
	}
	return c.failed
}
