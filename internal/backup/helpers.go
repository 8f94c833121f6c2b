package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidMode    = errors.New("invalid bucket mode")
	ErrRootNotFound   = errors.New("backup folder not found")
	ErrRootNotDir     = errors.New("backup folder is not a directory")
	ErrOutsideTarget  = errors.New("path is outside the backup folder")
	ErrTargetsOverlap = errors.New("backup folders overlap")
)

// Name returns the base name of the target's folder.
func (t BackupTarget) Name() string {
	return filepath.Base(filepath.Clean(t.LocalPath))
}

// Prefix returns the key prefix all of the target's objects are stored under.
// Single-bucket targets share a bucket, so each gets its own folder prefix.
func (t BackupTarget) Prefix() string {
	if t.Mode == ModeSingleBucket {
		return t.Name() + "/"
	}
	return ""
}

// RemoteKey computes the object key for a file below the target's folder.
func (t BackupTarget) RemoteKey(localPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(t.LocalPath), filepath.Clean(localPath))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrOutsideTarget, localPath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideTarget, localPath)
	}
	return t.Prefix() + path.Clean(rel), nil
}

// Location is the bucket and prefix the target's objects are stored under.
func (t BackupTarget) Location() string {
	return t.Bucket + "/" + t.Prefix()
}

// CheckOverlap rejects targets whose objects would land under the same
// bucket and prefix, such as two single-bucket folders named Docs.
func CheckOverlap(targets []BackupTarget) error {
	seen := make(map[string]string, len(targets))
	for _, t := range targets {
		loc := t.Location()
		if other, ok := seen[loc]; ok {
			return fmt.Errorf("%w: %s and %s are both stored in %s", ErrTargetsOverlap, other, t.LocalPath, loc)
		}
		seen[loc] = t.LocalPath
	}
	return nil
}

// CheckRoot verifies the target folder exists and is a directory.
func (t BackupTarget) CheckRoot() error {
	info, err := os.Stat(t.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootNotFound, t.LocalPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, t.LocalPath)
	}
	return nil
}

// WalkFiles calls fn for every regular file below the target folder, in
// lexical order. The folder itself may be a symlink; paths passed to fn are
// always below the configured path. Symlinks inside the folder are followed
// only when they point at a regular file. A directory that cannot be read is
// passed to fn with its error and the walk continues with its siblings.
// Returning an error from fn stops the walk.
func (t BackupTarget) WalkFiles(fn func(path string, err error) error) error {
	root := filepath.Clean(t.LocalPath)
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	return filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if rel, relErr := filepath.Rel(resolved, p); relErr == nil {
			p = filepath.Join(root, rel)
		}
		if err != nil {
			if p == root {
				return fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
			}
			return fn(p, err)
		}
		switch {
		case d.IsDir():
			return nil
		case d.Type().IsRegular():
			return fn(p, nil)
		case d.Type()&fs.ModeSymlink != 0:
			info, statErr := os.Stat(p)
			if statErr != nil {
				return fn(p, statErr)
			}
			if info.Mode().IsRegular() {
				return fn(p, nil)
			}
		}
		return nil
	})
}
