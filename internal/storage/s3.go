package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage implements ObjectStorage for S3-compatible stores.
type S3Storage struct {
	client     *s3.Client
	bucket     string
	maxRetries int
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the bucket.
	Region string
	// Endpoint is an optional custom endpoint (for MinIO, Supabase
	// storage gateways, LocalStack, etc.).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1"}
}

// NewS3Storage creates a new S3 storage client.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     bucket,
		maxRetries: 3,
	}, nil
}

// NewS3StorageWithClient creates a new S3 storage with a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{
		client:     client,
		bucket:     bucket,
		maxRetries: 3,
	}
}

// ListPage returns one page of objects after startAfter. A single
// ListObjectsV2 call per page keeps the resume key under the caller's
// control so mid-listing failures restart from the last good page.
func (s *S3Storage) ListPage(ctx context.Context, prefix, startAfter string, limit int) ([]ObjectInfo, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var out []ObjectInfo
	err := s.retryWithBackoff(ctx, func() error {
		input := &s3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(int32(limit)),
		}
		if startAfter != "" {
			input.StartAfter = aws.String(startAfter)
		}
		resp, listErr := s.client.ListObjectsV2(ctx, input)
		if listErr != nil {
			return listErr
		}
		out = out[:0]
		for _, obj := range resp.Contents {
			out = append(out, ObjectInfo{
				Path:      aws.ToString(obj.Key),
				SizeBytes: aws.ToInt64(obj.Size),
				ETag:      trimETag(aws.ToString(obj.ETag)),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}
	return out, nil
}

// ListDir returns the immediate child prefixes and objects under prefix
// using a delimiter listing.
func (s *S3Storage) ListDir(ctx context.Context, prefix string) ([]string, []ObjectInfo, error) {
	var (
		prefixes []string
		objects  []ObjectInfo
	)
	err := s.retryWithBackoff(ctx, func() error {
		prefixes = prefixes[:0]
		objects = objects[:0]
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})
		for paginator.HasMorePages() {
			page, pageErr := paginator.NextPage(ctx)
			if pageErr != nil {
				return pageErr
			}
			for _, cp := range page.CommonPrefixes {
				prefixes = append(prefixes, aws.ToString(cp.Prefix))
			}
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Path:      aws.ToString(obj.Key),
					SizeBytes: aws.ToInt64(obj.Size),
					ETag:      trimETag(aws.ToString(obj.ETag)),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrListingFailed, err)
	}
	return prefixes, objects, nil
}

// Stat returns metadata for a single object.
func (s *S3Storage) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	var info *ObjectInfo
	err := s.retryWithBackoff(ctx, func() error {
		resp, headErr := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		})
		if headErr != nil {
			var notFound *types.NotFound
			if errors.As(headErr, &notFound) {
				return ErrObjectNotFound
			}
			return headErr
		}
		info = &ObjectInfo{
			Path:      path,
			SizeBytes: aws.ToInt64(resp.ContentLength),
			ETag:      trimETag(aws.ToString(resp.ETag)),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return info, nil
}

// Open streams an object's content.
func (s *S3Storage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.retryWithBackoff(ctx, func() error {
		resp, getErr := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		})
		if getErr != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(getErr, &noSuchKey) {
				return ErrObjectNotFound
			}
			return getErr
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return body, nil
}

// Put writes an object.
func (s *S3Storage) Put(ctx context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	err = s.retryWithBackoff(ctx, func() error {
		_, putErr := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
			Body:   bytes.NewReader(data),
		})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Delete removes an object. S3 DeleteObject succeeds on missing keys, so
// a Stat first distinguishes the not-found case the repair executor
// treats as converged.
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	if _, err := s.Stat(ctx, path); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	err := s.retryWithBackoff(ctx, func() error {
		_, delErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		})
		return delErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// Exists checks if an object exists.
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (s *S3Storage) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Don't retry on not-found
		if errors.Is(lastErr, ErrObjectNotFound) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// trimETag strips the quotes S3 wraps entity tags in.
func trimETag(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
