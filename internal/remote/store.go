// Package remote defines the blob store contract the backup engine runs
// against and its S3-compatible implementation.
package remote

import (
	"context"
	"errors"
	"io"
)

const (
	// MetadataHashKey holds the hex content digest of the uploaded file.
	MetadataHashKey = "content-hash"
	// MetadataEncodingKey is set when the stored body is compressed.
	MetadataEncodingKey = "content-encoding"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied by remote store")
	ErrNoSuchBucket = errors.New("bucket does not exist")
	ErrUnavailable  = errors.New("remote store unavailable")
	ErrTimeout      = errors.New("remote operation timed out")
)

// Object is one entry returned by List. MetadataErr is set when the object
// was listed but its metadata could not be read.
type Object struct {
	Key         string
	Size        int64
	Metadata    map[string]string
	MetadataErr error
}

// Hash returns the content digest recorded on the object, if any.
func (o Object) Hash() string {
	if o.MetadataErr != nil {
		return ""
	}
	return o.Metadata[MetadataHashKey]
}

// Store is an opaque remote blob store.
type Store interface {
	// List returns every object under prefix together with its metadata.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// Head returns the metadata of a single object, or ErrNotFound.
	Head(ctx context.Context, bucket, key string) (map[string]string, error)
	// Put stores body under key. body may be read more than once.
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, metadata map[string]string) error
}

// Credentials are the connection parameters for a store. They arrive
// already decrypted.
type Credentials struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Region       string `mapstructure:"region"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// IsFatal reports whether err means no further operation against the store
// can succeed, such as rejected credentials or a missing bucket.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrNoSuchBucket)
}
