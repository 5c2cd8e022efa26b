package resilient

import (
	"fmt"
	"time"

	"github.com/pinboard/filetx/config"
	"github.com/pinboard/filetx/pkg/retry"
)

// storageRetryConfig is the retry strategy for object store calls when no
// [retry] section is configured.
var storageRetryConfig = retry.BackoffConfig{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      1.8,
	Jitter:          true,
	MaxRetries:      3,
}

// BackoffFromConfig builds the storage retry strategy from the [retry]
// section, keeping the default multiplier and jitter.
func BackoffFromConfig(cfg config.RetryConfig) (retry.BackoffConfig, error) {
	backoff := storageRetryConfig

	initial, err := cfg.GetInitialInterval()
	if err != nil {
		return retry.BackoffConfig{}, fmt.Errorf("invalid retry initial_interval: %w", err)
	}
	maxInterval, err := cfg.GetMaxInterval()
	if err != nil {
		return retry.BackoffConfig{}, fmt.Errorf("invalid retry max_interval: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return retry.BackoffConfig{}, fmt.Errorf("invalid retry max_retries: %d", cfg.MaxRetries)
	}

	backoff.InitialInterval = initial
	backoff.MaxInterval = maxInterval
	backoff.MaxRetries = cfg.MaxRetries
	return backoff, nil
}
