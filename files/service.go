// Package files implements the file engine used by the backoffice: zone
// based path management on top of an S3-compatible object store, signed
// URL issuance, and compensating transactions over batches of moves.
//
// # Zones
//
// Every managed path starts with a zone prefix:
//
//	temp/...              uploads that are not referenced by any record yet
//	public/...            objects served through their public URL
//	private/...           objects served through signed URLs only
//	deleted/<zone>/...    soft-deleted objects, remembering their zone
//
// # Transactions
//
// Object stores only offer single object operations. Callers that need a
// batch of moves to succeed or fail together run them inside a transaction:
//
//	urls, tx, err := files.RunInTransaction(ctx, svc, func(ctx context.Context, tx *files.Tx) ([]string, error) {
//		paths, err := tx.BulkMoveToPublicFolder(ctx, uploaded)
//		if err != nil {
//			return nil, err
//		}
//		if err := saveRecord(ctx, paths); err != nil {
//			return nil, err // every move above is undone
//		}
//		return tx.BulkGetPublicFileURL(paths), nil
//	})
//
// A failing callback triggers a rollback that replays the inverse moves in
// reverse order. If the rollback itself fails the returned error matches
// ErrRollbackFailed and the storage backend needs manual attention.
//
// Transactions give no isolation: two transactions moving the same path race
// and the last writer wins.
package files

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pinboard/filetx/logger"
	"golang.org/x/sync/errgroup"
)

// ObjectStore is the subset of object storage the file engine relies on.
// Implementations only need single object semantics.
type ObjectStore interface {
	// Move relocates an object from src to dst.
	Move(ctx context.Context, src, dst string) error
	// Remove permanently deletes an object.
	Remove(ctx context.Context, key string) error
	// PresignUpload returns a browser upload policy bound by conditions.
	PresignUpload(ctx context.Context, key string, conditions UploadConditions) (*UploadPolicy, error)
	// PresignGet returns a read URL valid for expiry from the time of the call.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// PublicURL builds the public URL of an object without contacting the store.
	PublicURL(key string) string
}

// UploadConditions are the constraints baked into an upload policy.
type UploadConditions struct {
	Expires     time.Time
	MaxSize     int64
	ContentType string
}

// UploadPolicy is a signed form upload: the client POSTs the file to URL
// together with Fields.
type UploadPolicy struct {
	Path    string            `json:"path"`
	URL     string            `json:"url"`
	Fields  map[string]string `json:"fields"`
	Expires time.Time         `json:"expires"`
}

// UploadPolicyParams configure CreateUploadSignedURL. Zero values fall back to
// the service defaults.
type UploadPolicyParams struct {
	ExpiresIn   time.Duration
	MaxSize     int64
	ContentType string
}

// SignedURLParams configure GetFileSignedURL. A zero ExpiresIn falls back to
// the service default.
type SignedURLParams struct {
	ExpiresIn time.Duration
}

// Options tune a Service.
type Options struct {
	// MaxConcurrency bounds the number of store calls a bulk operation keeps
	// in flight. Values below 1 mean sequential dispatch.
	MaxConcurrency int

	UploadExpiry    time.Duration
	MaxUploadSize   int64
	SignedURLExpiry time.Duration

	// Now is the clock used to time-box upload policies. Defaults to time.Now.
	Now func() time.Time
}

// Service is the stateless file facade. It is safe for concurrent use; every
// transaction gets its own *Tx from Begin.
type Service struct {
	store ObjectStore
	opts  Options
}

func NewService(store ObjectStore, opts Options) *Service {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.UploadExpiry <= 0 {
		opts.UploadExpiry = 15 * time.Minute
	}
	if opts.SignedURLExpiry <= 0 {
		opts.SignedURLExpiry = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts}
}

// CreateUploadSignedURL signs an upload policy for a temp-zone path.
func (s *Service) CreateUploadSignedURL(ctx context.Context, path string, params UploadPolicyParams) (*UploadPolicy, error) {
	loc, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if loc.Zone != ZoneTemp {
		return nil, newPathError(path, "uploads are only accepted into the temp zone")
	}

	expiresIn := params.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = s.opts.UploadExpiry
	}
	maxSize := params.MaxSize
	if maxSize <= 0 {
		maxSize = s.opts.MaxUploadSize
	}

	conditions := UploadConditions{
		Expires:     s.opts.Now().Add(expiresIn),
		MaxSize:     maxSize,
		ContentType: params.ContentType,
	}
	policy, err := s.store.PresignUpload(ctx, path, conditions)
	if err != nil {
		logger.WarnContext(ctx, "FILES: Failed to sign upload policy", "path", path, "error", err)
		return nil, &Error{Code: CodeCreateSignedURL, Message: err.Error(), Path: path, Err: err}
	}
	return policy, nil
}

// BulkCreateUploadSignedURL signs one upload policy per path. Any failure
// fails the whole batch.
func (s *Service) BulkCreateUploadSignedURL(ctx context.Context, paths []string, params UploadPolicyParams) ([]*UploadPolicy, error) {
	policies := make([]*UploadPolicy, len(paths))
	for i, p := range paths {
		policy, err := s.CreateUploadSignedURL(ctx, p, params)
		if err != nil {
			return nil, err
		}
		policies[i] = policy
	}
	return policies, nil
}

// MoveToPublicFolder moves a single path into the public zone.
func (s *Service) MoveToPublicFolder(ctx context.Context, path string) (string, error) {
	return single(s.BulkMoveToPublicFolder(ctx, []string{path}))
}

// BulkMoveToPublicFolder moves paths into the public zone and returns their
// new paths in input order.
func (s *Service) BulkMoveToPublicFolder(ctx context.Context, paths []string) ([]string, error) {
	return s.bulkMove(ctx, paths, ZonePublic, nil)
}

// MoveToPrivateFolder moves a single path into the private zone.
func (s *Service) MoveToPrivateFolder(ctx context.Context, path string) (string, error) {
	return single(s.BulkMoveToPrivateFolder(ctx, []string{path}))
}

// BulkMoveToPrivateFolder moves paths into the private zone and returns their
// new paths in input order.
func (s *Service) BulkMoveToPrivateFolder(ctx context.Context, paths []string) ([]string, error) {
	return s.bulkMove(ctx, paths, ZonePrivate, nil)
}

// DeleteFile soft-deletes a single path.
func (s *Service) DeleteFile(ctx context.Context, path string) (string, error) {
	return single(s.BulkDeleteFile(ctx, []string{path}))
}

// BulkDeleteFile moves paths into deleted/<zone>/... so they can be restored.
func (s *Service) BulkDeleteFile(ctx context.Context, paths []string) ([]string, error) {
	return s.bulkMove(ctx, paths, ZoneDeleted, nil)
}

// GetPublicFileURL returns the public URL of path. It never contacts the store.
func (s *Service) GetPublicFileURL(path string) string {
	return s.store.PublicURL(path)
}

// BulkGetPublicFileURL returns the public URL of every path in input order.
func (s *Service) BulkGetPublicFileURL(paths []string) []string {
	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = s.store.PublicURL(p)
	}
	return urls
}

// GetFileSignedURL returns a time-boxed read URL for path.
func (s *Service) GetFileSignedURL(ctx context.Context, path string, params SignedURLParams) (string, error) {
	if _, err := ParsePath(path); err != nil {
		return "", err
	}

	url, err := s.store.PresignGet(ctx, path, s.signedURLExpiry(params))
	if err != nil {
		logger.WarnContext(ctx, "FILES: Failed to sign read URL", "path", path, "error", err)
		return "", &Error{Code: CodeCreateSignedURL, Message: err.Error(), Path: path, Err: err}
	}
	return url, nil
}

// BulkGetFileSignedURL returns one read URL per path in input order. Invalid
// paths are rejected before any signing call; if any signing call fails the
// whole batch fails.
func (s *Service) BulkGetFileSignedURL(ctx context.Context, paths []string, params SignedURLParams) ([]string, error) {
	for _, p := range paths {
		if _, err := ParsePath(p); err != nil {
			return nil, err
		}
	}

	expiry := s.signedURLExpiry(params)
	urls := make([]string, len(paths))

	err := s.dispatch(len(paths), func(i int) error {
		url, err := s.store.PresignGet(ctx, paths[i], expiry)
		if err != nil {
			logger.WarnContext(ctx, "FILES: Failed to sign read URL", "path", paths[i], "error", err)
			return err
		}
		urls[i] = url
		return nil
	})
	if err != nil {
		return nil, &Error{Code: CodeCreateSignedURL, Message: "Failed to get one or more signed URLs", Err: err}
	}
	return urls, nil
}

// RemoveFile permanently deletes the object at path. Unlike DeleteFile this
// cannot be undone.
func (s *Service) RemoveFile(ctx context.Context, path string) error {
	return s.BulkRemoveFile(ctx, []string{path})
}

// BulkRemoveFile permanently deletes every path.
func (s *Service) BulkRemoveFile(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if _, err := ParsePath(p); err != nil {
			return err
		}
	}

	err := s.dispatch(len(paths), func(i int) error {
		if err := s.store.Remove(ctx, paths[i]); err != nil {
			logger.WarnContext(ctx, "FILES: Failed to remove object", "path", paths[i], "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return &Error{Code: CodeRemove, Message: "Failed to remove one or more files", Err: err}
	}
	return nil
}

func (s *Service) signedURLExpiry(params SignedURLParams) time.Duration {
	if params.ExpiresIn > 0 {
		return params.ExpiresIn
	}
	return s.opts.SignedURLExpiry
}

// bulkMove moves every path into target. Paths already in target are left
// alone and never reach the store. onMoved, when set, is called once per
// successful store move in input order after all dispatched calls have
// returned, including when the batch as a whole fails.
func (s *Service) bulkMove(ctx context.Context, paths []string, target Zone, onMoved func(MoveOperation)) ([]string, error) {
	targets := make([]string, len(paths))
	var pending []int
	for i, p := range paths {
		next, move, err := Transition(p, target)
		if err != nil {
			return nil, err
		}
		targets[i] = next
		if move {
			pending = append(pending, i)
		}
	}

	done := make([]bool, len(pending))
	err := s.dispatch(len(pending), func(j int) error {
		i := pending[j]
		if err := s.store.Move(ctx, paths[i], targets[i]); err != nil {
			logger.WarnContext(ctx, "FILES: Failed to move object", "from", paths[i], "to", targets[i], "error", err)
			return err
		}
		done[j] = true
		return nil
	})

	if onMoved != nil {
		for j, i := range pending {
			if done[j] {
				onMoved(MoveOperation{PreviousPath: paths[i], NewPath: targets[i]})
			}
		}
	}

	if err != nil {
		return nil, &Error{Code: CodeMove, Message: "Failed to move one or more files", Err: err}
	}
	return targets, nil
}

// dispatch calls fn for indexes 0..n-1 with at most MaxConcurrency calls in
// flight. Once a call fails no further calls are started; calls already
// running complete. The first error is returned.
func (s *Service) dispatch(n int, fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)

	var failed atomic.Bool
	for i := 0; i < n; i++ {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := fn(i); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func single(paths []string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(paths) != 1 {
		return "", fmt.Errorf("expected one path, got %d", len(paths))
	}
	return paths[0], nil
}
