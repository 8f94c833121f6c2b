// Package fingerprint decides which local files differ from what a previous
// run stored remotely, by comparing content digests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Hasher computes a content digest for a local file. Implementations must be
// deterministic across runs and processes.
type Hasher interface {
	HashFile(path string) (digest string, size int64, err error)
}

// NewHashFunc returns a Hasher that streams files through hash functions
// built by newHash and hex-encodes the sum.
func NewHashFunc(newHash func() hash.Hash) Hasher {
	return hashFunc(newHash)
}

// SHA256 is the default Hasher.
func SHA256() Hasher {
	return NewHashFunc(sha256.New)
}

type hashFunc func() hash.Hash

func (f hashFunc) HashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	h := f()
	n, err := io.Copy(h, file)
	if err != nil {
		return "", 0, fmt.Errorf("read %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
