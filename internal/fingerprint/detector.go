package fingerprint

import (
	"github.com/kebairia/b2backup/internal/backup"
)

// Detector decides whether a local file must be uploaded.
type Detector struct {
	hasher Hasher
	cache  *Cache
}

// NewDetector returns a Detector comparing against cache. A nil cache makes
// every file an upload, which is how full (non-incremental) runs work.
func NewDetector(hasher Hasher, cache *Cache) *Detector {
	if hasher == nil {
		hasher = SHA256()
	}
	return &Detector{hasher: hasher, cache: cache}
}

// Decide hashes task.LocalPath and fills in LocalHash, Size and Decision.
// The file is skipped only when the cache holds exactly the same hash for
// task.RemoteKey. Read errors are returned and leave the task undecided.
func (d *Detector) Decide(task *backup.FileTask) error {
	digest, size, err := d.hasher.HashFile(task.LocalPath)
	if err != nil {
		return err
	}
	task.LocalHash = digest
	task.Size = size

	if e, ok := d.cache.Lookup(task.RemoteKey); ok && e.Hash == digest {
		task.Decision = backup.DecisionSkip
	} else {
		task.Decision = backup.DecisionUpload
	}
	return nil
}
