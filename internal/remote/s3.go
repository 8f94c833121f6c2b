package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/b2backup/internal/logger"
)

const (
	defaultRegion          = "us-east-1"
	defaultTimeout         = 60 * time.Second
	defaultAttempts        = 3
	defaultRetryDelay      = time.Second
	defaultMaxRetryDelay   = 30 * time.Second
	defaultHeadConcurrency = 8
)

// ErrMissingCredentials is returned when no access key pair was supplied.
var ErrMissingCredentials = errors.New("storage credentials are missing")

// S3Option lets you override default settings on an S3Store.
type S3Option func(*S3Store)

// S3Store talks to any S3-compatible endpoint (Backblaze B2, MinIO, AWS).
type S3Store struct {
	client          *s3.Client
	uploader        *manager.Uploader
	log             logger.Logger
	clock           clock.Clock
	timeout         time.Duration
	attempts        int
	delay           time.Duration
	headConcurrency int
	partConcurrency int
}

var _ Store = (*S3Store)(nil)

// WithTimeout bounds every single remote request. An upload is bounded per
// request, so a multipart upload gets the timeout for each part and not for
// the whole file.
func WithTimeout(d time.Duration) S3Option {
	return func(s *S3Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many attempts a retryable failure gets and the
// initial backoff between them.
func WithRetries(attempts int, delay time.Duration) S3Option {
	return func(s *S3Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if delay > 0 {
			s.delay = delay
		}
	}
}

// WithClock overrides the clock used for retry backoff.
func WithClock(clk clock.Clock) S3Option {
	return func(s *S3Store) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger overrides the store's logger.
func WithLogger(log logger.Logger) S3Option {
	return func(s *S3Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHeadConcurrency bounds the metadata reads issued while listing.
func WithHeadConcurrency(n int) S3Option {
	return func(s *S3Store) {
		if n > 0 {
			s.headConcurrency = n
		}
	}
}

// WithPartConcurrency bounds how many parts of one multipart upload are
// sent at the same time.
func WithPartConcurrency(n int) S3Option {
	return func(s *S3Store) {
		if n > 0 {
			s.partConcurrency = n
		}
	}
}

// NewS3Store returns a store for the endpoint described by creds.
func NewS3Store(creds Credentials, opts ...S3Option) (*S3Store, error) {
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	region := creds.Region
	if region == "" {
		region = defaultRegion
	}

	s := &S3Store{
		log:             logger.Global(),
		clock:           clock.WallClock,
		timeout:         defaultTimeout,
		attempts:        defaultAttempts,
		delay:           defaultRetryDelay,
		headConcurrency: defaultHeadConcurrency,
		partConcurrency: manager.DefaultUploadConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	s3Opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		UsePathStyle: creds.UsePathStyle,
		// Each request, and so each uploaded part, gets the full timeout.
		HTTPClient: awshttp.NewBuildableClient().WithTimeout(s.timeout),
	}
	if creds.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(normalizeEndpoint(creds.Endpoint))
	}
	s.client = s3.New(s3Opts)
	s.uploader = manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.Concurrency = s.partConcurrency
	})
	s.log = s.log.With("component", "s3-store", "endpoint", creds.Endpoint)
	return s, nil
}

// normalizeEndpoint adds https:// to bare host names such as
// "s3.us-west-001.backblazeb2.com".
func normalizeEndpoint(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Check verifies the bucket is reachable with the configured credentials.
func (s *S3Store) Check(ctx context.Context, bucket string) error {
	err := s.do(ctx, "head-bucket", func(ctx context.Context) error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return err
	})
	if err != nil {
		// HeadBucket has no body, so a missing bucket surfaces as a bare 404.
		if errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrNoSuchBucket, bucket)
		}
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	return nil
}

// List pages through every object under prefix, then reads each object's
// metadata with bounded concurrency. A metadata failure for one object is
// recorded on that object and does not fail the listing.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []Object
	for {
		var page *s3.ListObjectsV2Output
		err := s.do(ctx, "list", func(ctx context.Context) error {
			var err error
			page, err = s.client.ListObjectsV2(ctx, input)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.headConcurrency)
	for i := range objects {
		g.Go(func() error {
			md, err := s.Head(gctx, bucket, objects[i].Key)
			if err != nil {
				if IsFatal(err) || gctx.Err() != nil {
					return err
				}
				s.log.Warn("cannot read object metadata", "bucket", bucket, "key", objects[i].Key, "error", err)
				objects[i].MetadataErr = err
				return nil
			}
			objects[i].Metadata = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read metadata in s3://%s/%s: %w", bucket, prefix, err)
	}

	s.log.Debug("listed objects", "bucket", bucket, "prefix", prefix, "count", len(objects))
	return objects, nil
}

// Head returns the user metadata stored on key.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (map[string]string, error) {
	var out *s3.HeadObjectOutput
	err := s.do(ctx, "head", func(ctx context.Context) error {
		var err error
		out, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	md := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		md[strings.ToLower(k)] = v
	}
	return md, nil
}

// Put uploads body under key with the given user metadata. Large bodies are
// sent as multipart uploads. The transfer as a whole has no deadline; the
// HTTP client bounds each part.
func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, metadata map[string]string) error {
	err := s.call(ctx, "put", 0, func(ctx context.Context) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind upload body: %w", err)
		}
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			Body:     body,
			Metadata: metadata,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	s.log.Debug("uploaded object", "bucket", bucket, "key", key, "size", size)
	return nil
}

// do runs fn under a per-call timeout and retries transient failures with
// doubling backoff.
func (s *S3Store) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.call(ctx, op, s.timeout, fn)
}

// call is do with an explicit per-attempt timeout. Zero leaves the attempt
// bounded only by the HTTP client.
func (s *S3Store) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			opCtx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				opCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
			}
			defer cancel()
			err := fn(opCtx)
			switch {
			case err == nil:
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case opCtx.Err() != nil && errors.Is(context.Cause(opCtx), ErrTimeout):
				return fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
			}
			return classify(err)
		},
		IsFatalError: func(err error) bool {
			return !IsRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			s.log.Warn("remote operation failed", "op", op, "attempt", attempt, "error", err)
		},
		Attempts:    s.attempts,
		Delay:       s.delay,
		MaxDelay:    defaultMaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
	})
	if retry.IsAttemptsExceeded(err) {
		return retry.LastError(err)
	}
	return err
}

// classify maps SDK errors onto the package's error taxonomy.
func classify(err error) error {
	var (
		noSuchKey    *s3types.NoSuchKey
		notFound     *s3types.NotFound
		noSuchBucket *s3types.NoSuchBucket
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return fmt.Errorf("%w: %v", ErrNoSuchBucket, err)
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"InvalidToken", "ExpiredToken", "Unauthorized", "bad_auth_token":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %v", ErrNoSuchBucket, err)
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "TooManyRequests":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
