package resilient

import (
	"context"
	"strings"
	"time"

	"github.com/pinboard/filetx/files"
	"github.com/pinboard/filetx/logger"
	"github.com/pinboard/filetx/pkg/circuitbreaker"
	"github.com/pinboard/filetx/pkg/metrics"
	"github.com/pinboard/filetx/pkg/retry"
)

// ResilientS3Storage decorates an object store with retries for transient
// failures and per-operation circuit breakers. It satisfies
// files.ObjectStore itself, so the file service is unaware of it.
type ResilientS3Storage struct {
	store          files.ObjectStore
	backoff        retry.BackoffConfig
	moveBreaker    *circuitbreaker.CircuitBreaker
	removeBreaker  *circuitbreaker.CircuitBreaker
	presignBreaker *circuitbreaker.CircuitBreaker
}

func NewResilientS3Storage(store files.ObjectStore, backoff retry.BackoffConfig) *ResilientS3Storage {
	newBreaker := func(name string, minRequests uint32, ratio float64) *circuitbreaker.CircuitBreaker {
		settings := circuitbreaker.DefaultSettings(name)
		settings.ReadyToTrip = func(counts circuitbreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		}
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !isRetryableError(err)
		}
		settings.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Warn("STORAGE: Circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
		return circuitbreaker.NewCircuitBreaker(settings)
	}

	return &ResilientS3Storage{
		store:          store,
		backoff:        backoff,
		moveBreaker:    newBreaker("s3_move", 3, 0.5),
		removeBreaker:  newBreaker("s3_remove", 3, 0.5),
		presignBreaker: newBreaker("s3_presign", 5, 0.6),
	}
}

// isRetryableError reports whether err looks transient: network trouble,
// throttling or a 5xx from the store.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"i/o timeout",
		"network unreachable",
		"no such host",
		"temporary failure",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
		"timeout",
		"slowdown",
		"throttling",
		"rate limit",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

func (rs *ResilientS3Storage) backoffFor(ctx context.Context, op string) retry.BackoffConfig {
	cfg := rs.backoff
	cfg.OnRetry = func(attempt int, err error) {
		metrics.RetryAttempts.WithLabelValues(op).Inc()
		logger.DebugContext(ctx, "STORAGE: Retrying operation", "operation", op, "attempt", attempt, "error", err)
	}
	return cfg
}

// withRetry runs fn through cb, retrying transient failures. Permanent
// errors, including an open breaker, stop the retries immediately.
func withRetry[T any](ctx context.Context, rs *ResilientS3Storage, op string, cb *circuitbreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := retry.WithRetry(ctx, func() error {
		r, err := circuitbreaker.Do(cb, fn)
		if err != nil {
			if isRetryableError(err) {
				return err
			}
			return retry.Stop(err)
		}
		result = r
		return nil
	}, rs.backoffFor(ctx, op))
	return result, err
}

func (rs *ResilientS3Storage) Move(ctx context.Context, src, dst string) error {
	_, err := withRetry(ctx, rs, "MOVE", rs.moveBreaker, func() (struct{}, error) {
		return struct{}{}, rs.store.Move(ctx, src, dst)
	})
	return err
}

func (rs *ResilientS3Storage) Remove(ctx context.Context, key string) error {
	_, err := withRetry(ctx, rs, "REMOVE", rs.removeBreaker, func() (struct{}, error) {
		return struct{}{}, rs.store.Remove(ctx, key)
	})
	return err
}

func (rs *ResilientS3Storage) PresignUpload(ctx context.Context, key string, cond files.UploadConditions) (*files.UploadPolicy, error) {
	return withRetry(ctx, rs, "PRESIGN_POST", rs.presignBreaker, func() (*files.UploadPolicy, error) {
		return rs.store.PresignUpload(ctx, key, cond)
	})
}

func (rs *ResilientS3Storage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return withRetry(ctx, rs, "PRESIGN_GET", rs.presignBreaker, func() (string, error) {
		return rs.store.PresignGet(ctx, key, expiry)
	})
}

func (rs *ResilientS3Storage) PublicURL(key string) string {
	return rs.store.PublicURL(key)
}

func (rs *ResilientS3Storage) GetMoveBreakerState() circuitbreaker.State {
	return rs.moveBreaker.State()
}

func (rs *ResilientS3Storage) GetRemoveBreakerState() circuitbreaker.State {
	return rs.removeBreaker.State()
}

func (rs *ResilientS3Storage) GetPresignBreakerState() circuitbreaker.State {
	return rs.presignBreaker.State()
}
