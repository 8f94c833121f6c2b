// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kebairia/b2backup/internal/remote"
)

// Object is a stored blob.
type Object struct {
	Body     []byte
	Metadata map[string]string
}

// Store keeps objects in memory. The hook fields inject failures; they are
// read under the store's lock so tests may set them before a run starts.
type Store struct {
	mu      sync.Mutex
	buckets map[string]map[string]Object
	puts    []string
	lists   int

	// ListErr, when set, is returned by every List call.
	ListErr error
	// HeadErr is consulted per key while listing and by Head.
	HeadErr func(key string) error
	// PutErr is consulted before each Put is stored.
	PutErr func(key string) error
	// OnPut runs after an object is stored, outside the lock.
	OnPut func(key string)
}

var _ remote.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string]Object)}
}

// Seed stores an object directly, bypassing hooks and the put log.
func (s *Store) Seed(bucket, key string, body []byte, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(bucket)[key] = Object{Body: body, Metadata: maps.Clone(metadata)}
}

// Get returns a stored object.
func (s *Store) Get(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	return obj, ok
}

// Keys returns the sorted keys stored in bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.buckets[bucket]))
}

// Puts returns "bucket/key" for every successful Put, in call order.
func (s *Store) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.puts)
}

// ResetPuts clears the put log.
func (s *Store) ResetPuts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = nil
}

// Lists returns how many List calls were made.
func (s *Store) Lists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func (s *Store) bucket(name string) map[string]Object {
	b, ok := s.buckets[name]
	if !ok {
		b = make(map[string]Object)
		s.buckets[name] = b
	}
	return b
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]remote.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.ListErr != nil {
		return nil, s.ListErr
	}

	var out []remote.Object
	for _, key := range slices.Sorted(maps.Keys(s.buckets[bucket])) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := s.buckets[bucket][key]
		ro := remote.Object{Key: key, Size: int64(len(obj.Body))}
		if s.HeadErr != nil {
			ro.MetadataErr = s.HeadErr(key)
		}
		if ro.MetadataErr == nil {
			ro.Metadata = maps.Clone(obj.Metadata)
		}
		out = append(out, ro)
	}
	return out, nil
}

func (s *Store) Head(ctx context.Context, bucket, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HeadErr != nil {
		if err := s.HeadErr(key); err != nil {
			return nil, err
		}
	}
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", remote.ErrNotFound, bucket, key)
	}
	return maps.Clone(obj.Metadata), nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	putErr := s.PutErr
	s.mu.Unlock()
	if putErr != nil {
		if err := putErr(key); err != nil {
			return err
		}
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bucket(bucket)[key] = Object{Body: data, Metadata: maps.Clone(metadata)}
	s.puts = append(s.puts, bucket+"/"+key)
	onPut := s.OnPut
	s.mu.Unlock()

	if onPut != nil {
		onPut(key)
	}
	return nil
}

// Check mirrors S3Store.Check; it fails only when ListErr is set.
func (s *Store) Check(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ListErr
}
