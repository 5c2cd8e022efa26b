// Package storage provides the S3-compatible object store behind the file
// service.
//
// S3Storage implements files.ObjectStore on top of minio-go:
//   - Move: server-side copy followed by removal of the source
//   - Remove: permanent deletion
//   - PresignUpload: browser POST policy with expiry, content-length-range
//     and Content-Type conditions
//   - PresignGet: time-boxed GET URL
//   - PublicURL: URL construction without a network call
//
// S3 offers no multi-object atomicity and this package adds none; batches of
// moves are made undoable one level up, by files.Tx.
//
// # Usage Example
//
//	s3, err := storage.New(cfg.S3)
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc := files.NewService(s3, files.Options{MaxConcurrency: 4})
//
// Presigning is computed locally when a region is configured; otherwise
// minio looks up the bucket location first.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pinboard/filetx/config"
	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/logger"
	"github.com/pinboard/filetx/pkg/metrics"
)

// objectAPI is the part of *minio.Client that Move and Exists use.
type objectAPI interface {
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

type S3Storage struct {
	Client        *minio.Client
	BucketName    string
	PublicBaseURL string

	objects objectAPI
}

func New(cfg config.S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.DisableTLS,
		Region: cfg.Region,
	})
	if err != nil {
		logger.Error("STORAGE: Failed to initialize MinIO client", "error", err)
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	// Enable detailed tracing of requests and responses for debugging
	if cfg.GetDebug() {
		client.TraceOn(os.Stderr)
	}

	return &S3Storage{
		Client:        client,
		BucketName:    cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
		objects:       client,
	}, nil
}

// Exists checks if an object with the given key exists in the bucket.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := s.objects.StatObject(ctx, s.BucketName, key, minio.StatObjectOptions{})
	if err == nil {
		observe("STAT", start, nil)
		return true, nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && minioErr.StatusCode == 404 {
		observe("STAT", start, nil)
		return false, nil
	}

	observe("STAT", start, err)
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

// Move copies src to dst on the server and removes src.
//
// A failed removal of src does not prove src still exists: the delete may
// have been applied with only the reply lost. The copy is discarded only when
// src is confirmed present; when src is gone the move counts as done, and
// when its state is unknown both objects are kept so a retry can finish the
// move instead of losing the object.
func (s *S3Storage) Move(ctx context.Context, src, dst string) error {
	start := time.Now()

	_, err := s.objects.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.BucketName, Object: dst},
		minio.CopySrcOptions{Bucket: s.BucketName, Object: src},
	)
	if err != nil {
		observe("MOVE", start, err)
		return fmt.Errorf("failed to copy object from %s to %s: %w", src, dst, err)
	}

	removeErr := s.objects.RemoveObject(ctx, s.BucketName, src, minio.RemoveObjectOptions{})
	if removeErr == nil {
		observe("MOVE", start, nil)
		return nil
	}

	exists, statErr := s.Exists(ctx, src)
	switch {
	case statErr != nil:
		logger.Error("STORAGE: Source state unknown after failed removal, keeping both copies",
			"src", src, "dst", dst, "error", removeErr, "stat_error", statErr)
	case !exists:
		logger.Warn("STORAGE: Source removal reported an error but source is gone, move completed",
			"src", src, "dst", dst, "error", removeErr)
		observe("MOVE", start, nil)
		return nil
	default:
		if cleanupErr := s.objects.RemoveObject(ctx, s.BucketName, dst, minio.RemoveObjectOptions{}); cleanupErr != nil {
			logger.Error("STORAGE: Failed to discard copy after incomplete move", "src", src, "dst", dst, "error", cleanupErr)
		}
	}

	observe("MOVE", start, removeErr)
	return fmt.Errorf("failed to remove source object %s after copy: %w", src, removeErr)
}

// Remove permanently deletes key. Removing a missing key succeeds.
func (s *S3Storage) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Client.RemoveObject(ctx, s.BucketName, key, minio.RemoveObjectOptions{})
	observe("REMOVE", start, err)
	if err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

// PresignUpload builds a POST policy for key. MaxSize becomes a
// content-length-range condition and ContentType an exact match condition;
// zero values leave the corresponding condition out.
func (s *S3Storage) PresignUpload(ctx context.Context, key string, cond files.UploadConditions) (*files.UploadPolicy, error) {
	start := time.Now()

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(s.BucketName); err != nil {
		return nil, err
	}
	if err := policy.SetKey(key); err != nil {
		return nil, err
	}
	if err := policy.SetExpires(cond.Expires.UTC()); err != nil {
		return nil, err
	}
	if cond.ContentType != "" {
		if err := policy.SetContentType(cond.ContentType); err != nil {
			return nil, err
		}
	}
	if cond.MaxSize > 0 {
		if err := policy.SetContentLengthRange(0, cond.MaxSize); err != nil {
			return nil, err
		}
	}

	u, fields, err := s.Client.PresignedPostPolicy(ctx, policy)
	observe("PRESIGN_POST", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload policy for %s: %w", key, err)
	}

	return &files.UploadPolicy{
		Path:    key,
		URL:     u.String(),
		Fields:  fields,
		Expires: cond.Expires,
	}, nil
}

// PresignGet returns a GET URL for key valid for expiry from now.
func (s *S3Storage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	u, err := s.Client.PresignedGetObject(ctx, s.BucketName, key, expiry, url.Values{})
	observe("PRESIGN_GET", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to presign read URL for %s: %w", key, err)
	}
	return u.String(), nil
}

// PublicURL returns the public URL of key. Without a configured public base
// URL it falls back to the path-style bucket URL on the S3 endpoint.
func (s *S3Storage) PublicURL(key string) string {
	base := s.PublicBaseURL
	if base == "" {
		base = s.Client.EndpointURL().String() + "/" + s.BucketName
	}

	joined, err := url.JoinPath(base, key)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + key
	}
	return joined
}

// S3Object represents an S3 object in list results
type S3Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// ListObjects lists objects in S3 with the given prefix
func (s *S3Storage) ListObjects(ctx context.Context, prefix string, recursive bool) (<-chan S3Object, <-chan error) {
	objectCh := make(chan S3Object)
	errCh := make(chan error, 1)

	go func() {
		defer close(objectCh)
		defer close(errCh)

		opts := minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: recursive,
		}

		for object := range s.Client.ListObjects(ctx, s.BucketName, opts) {
			if object.Err != nil {
				errCh <- object.Err
				return
			}

			select {
			case objectCh <- S3Object{
				Key:          object.Key,
				Size:         object.Size,
				LastModified: object.LastModified,
				ETag:         object.ETag,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objectCh, errCh
}

func observe(op string, start time.Time, err error) {
	if err != nil {
		metrics.StorageOperationErrors.WithLabelValues(op, classifyS3Error(err)).Inc()
		metrics.S3OperationsTotal.WithLabelValues(op, "error").Inc()
	} else {
		metrics.S3OperationsTotal.WithLabelValues(op, "success").Inc()
	}
	metrics.S3OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// classifyS3Error classifies S3 errors for metrics tracking
func classifyS3Error(err error) string {
	if err == nil {
		return "none"
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case strings.Contains(errStr, "AccessDenied") || strings.Contains(errStr, "Forbidden"):
		return "access_denied"
	case strings.Contains(errStr, "NoSuchKey") || strings.Contains(errStr, "NotFound"):
		return "not_found"
	case strings.Contains(errStr, "SlowDown") || strings.Contains(errStr, "RequestLimitExceeded"):
		return "throttled"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "network_error"
	default:
		return "unknown"
	}
}
