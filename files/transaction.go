package files

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinboard/filetx/logger"
	"github.com/pinboard/filetx/pkg/metrics"
)

// MoveOperation is one applied move, recorded so it can be undone.
type MoveOperation struct {
	PreviousPath string `json:"previous_path"`
	NewPath      string `json:"new_path"`
}

// TxState tracks where a transaction is in its lifecycle.
type TxState int

const (
	TxRunning TxState = iota
	TxCommitted
	TxRolledBack
	TxRollbackFailed
)

func (s TxState) String() string {
	switch s {
	case TxRunning:
		return "running"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	case TxRollbackFailed:
		return "rollback_failed"
	default:
		return "unknown"
	}
}

// Tx is a Service bound to one transaction log. Every move it performs is
// appended to the log so Rollback can undo it. A Tx belongs to the caller
// that created it and must not be shared between concurrent callers.
//
// Only moves and read-only lookups are available on a Tx; permanent removal
// cannot be compensated and stays on Service.
type Tx struct {
	svc *Service

	mu          sync.Mutex
	log         []MoveOperation
	state       TxState
	rollbackErr error
}

// Begin starts a new transaction with an empty log.
func (s *Service) Begin() *Tx {
	return &Tx{svc: s}
}

// MoveToPublicFolder moves path into the public zone and records the move.
func (tx *Tx) MoveToPublicFolder(ctx context.Context, path string) (string, error) {
	return single(tx.BulkMoveToPublicFolder(ctx, []string{path}))
}

// BulkMoveToPublicFolder moves paths into the public zone and records every
// move that reached the store, even if the batch fails.
func (tx *Tx) BulkMoveToPublicFolder(ctx context.Context, paths []string) ([]string, error) {
	return tx.move(ctx, paths, ZonePublic)
}

// MoveToPrivateFolder moves path into the private zone and records the move.
func (tx *Tx) MoveToPrivateFolder(ctx context.Context, path string) (string, error) {
	return single(tx.BulkMoveToPrivateFolder(ctx, []string{path}))
}

// BulkMoveToPrivateFolder moves paths into the private zone and records every
// move that reached the store, even if the batch fails.
func (tx *Tx) BulkMoveToPrivateFolder(ctx context.Context, paths []string) ([]string, error) {
	return tx.move(ctx, paths, ZonePrivate)
}

// DeleteFile soft-deletes path and records the move.
func (tx *Tx) DeleteFile(ctx context.Context, path string) (string, error) {
	return single(tx.BulkDeleteFile(ctx, []string{path}))
}

// BulkDeleteFile soft-deletes paths and records every move that reached the
// store, even if the batch fails.
func (tx *Tx) BulkDeleteFile(ctx context.Context, paths []string) ([]string, error) {
	return tx.move(ctx, paths, ZoneDeleted)
}

// move refuses to run once a rollback has failed: the log of such a
// transaction is gone, so new moves could never be undone.
func (tx *Tx) move(ctx context.Context, paths []string, target Zone) ([]string, error) {
	tx.mu.Lock()
	rollbackErr := tx.rollbackErr
	tx.mu.Unlock()
	if rollbackErr != nil {
		return nil, &Error{
			Code:    CodeMove,
			Message: "Transaction rollback failed, no further moves accepted",
			Err:     rollbackErr,
		}
	}
	return tx.svc.bulkMove(ctx, paths, target, tx.record)
}

// GetPublicFileURL returns the public URL of path.
func (tx *Tx) GetPublicFileURL(path string) string {
	return tx.svc.GetPublicFileURL(path)
}

// BulkGetPublicFileURL returns the public URL of every path in input order.
func (tx *Tx) BulkGetPublicFileURL(paths []string) []string {
	return tx.svc.BulkGetPublicFileURL(paths)
}

// GetFileSignedURL returns a time-boxed read URL for path.
func (tx *Tx) GetFileSignedURL(ctx context.Context, path string, params SignedURLParams) (string, error) {
	return tx.svc.GetFileSignedURL(ctx, path, params)
}

// BulkGetFileSignedURL returns one read URL per path in input order.
func (tx *Tx) BulkGetFileSignedURL(ctx context.Context, paths []string, params SignedURLParams) ([]string, error) {
	return tx.svc.BulkGetFileSignedURL(ctx, paths, params)
}

func (tx *Tx) record(op MoveOperation) {
	tx.mu.Lock()
	tx.log = append(tx.log, op)
	tx.mu.Unlock()
	logger.Debug("FILETX: Recorded move", "from", op.PreviousPath, "to", op.NewPath)
}

// Log returns a copy of the moves recorded so far, oldest first.
func (tx *Tx) Log() []MoveOperation {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]MoveOperation, len(tx.log))
	copy(out, tx.log)
	return out
}

// State returns the current lifecycle state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Rollback undoes every recorded move, newest first, by moving each object
// from its new path back to its previous path. Inverse moves go straight to
// the store; no zone checks apply because every logged move was real.
//
// The first inverse move that fails stops the rollback. The returned error
// matches ErrRollbackFailed and names the path that could not be restored;
// objects restored before the failure stay restored and the rest stay where
// they are. The log is discarded either way.
//
// Calling Rollback again after it succeeded is a no-op. After a failed
// rollback it returns the same error.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state == TxRollbackFailed {
		return tx.rollbackErr
	}

	for i := len(tx.log) - 1; i >= 0; i-- {
		op := tx.log[i]
		if err := tx.svc.store.Move(ctx, op.NewPath, op.PreviousPath); err != nil {
			metrics.RollbackSteps.WithLabelValues("error").Inc()
			logger.ErrorContext(ctx, "FILETX: Rollback failed, storage needs manual reconciliation",
				"path", op.PreviousPath, "current_path", op.NewPath, "error", err)
			for _, left := range tx.log[:i] {
				logger.ErrorContext(ctx, "FILETX: Move left unrestored",
					"path", left.PreviousPath, "current_path", left.NewPath)
			}

			tx.rollbackErr = &Error{
				Code:    CodeRollbackFailed,
				Message: fmt.Sprintf("Failed to restore file, object remains at %s", op.NewPath),
				Path:    op.PreviousPath,
				Err:     err,
			}
			tx.state = TxRollbackFailed
			tx.log = nil
			return tx.rollbackErr
		}

		metrics.RollbackSteps.WithLabelValues("success").Inc()
		logger.DebugContext(ctx, "FILETX: Restored file", "path", op.PreviousPath, "from", op.NewPath)
		tx.log = tx.log[:i]
	}

	tx.log = nil
	tx.state = TxRolledBack
	return nil
}

func (tx *Tx) commit() {
	tx.mu.Lock()
	tx.state = TxCommitted
	tx.mu.Unlock()
}

// RunInTransaction runs fn with a fresh transaction.
//
// If fn returns an error or panics, the transaction is rolled back. When the
// rollback succeeds the original error is returned; when it fails the
// rollback error is returned instead, since the storage inconsistency
// outranks whatever made fn fail.
//
// On success the result is returned together with the committed transaction.
// Its log is kept so the caller can still call Rollback later, for example
// when a database write that follows the file moves fails.
func RunInTransaction[T any](ctx context.Context, s *Service, fn func(ctx context.Context, tx *Tx) (T, error)) (T, *Tx, error) {
	tx := s.Begin()

	result, err := invoke(ctx, tx, fn)
	if err != nil {
		var zero T
		logger.InfoContext(ctx, "FILETX: Transaction step failed, rolling back", "moves", len(tx.Log()), "error", err)

		// The callback may have failed because ctx was cancelled; the
		// compensating moves must still be issued.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			metrics.Transactions.WithLabelValues(TxRollbackFailed.String()).Inc()
			return zero, tx, rbErr
		}
		metrics.Transactions.WithLabelValues(TxRolledBack.String()).Inc()
		return zero, tx, err
	}

	tx.commit()
	metrics.Transactions.WithLabelValues(TxCommitted.String()).Inc()
	return result, tx, nil
}

// Transaction is RunInTransaction for callbacks without a result.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (*Tx, error) {
	_, tx, err := RunInTransaction(ctx, s, func(ctx context.Context, tx *Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return tx, err
}

func invoke[T any](ctx context.Context, tx *Tx, fn func(ctx context.Context, tx *Tx) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction callback panicked: %v", r)
		}
	}()
	return fn(ctx, tx)
}
