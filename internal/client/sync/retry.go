package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultMaxRetries matches max_retries' documented default.
const DefaultMaxRetries = 5

// RetrySchedule builds the 1,2,4,8,16,30(cap 60) exponential backoff
// sequence from sethvargo/go-retry, capped at maxDelay and bounded to
// maxRetries attempts — the dependency sits unused in the teacher's
// go.mod; this is the component that finally exercises it.
func RetrySchedule(maxRetries int, maxDelay time.Duration) retry.Backoff {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	b := retry.NewExponential(1 * time.Second)
	b = retry.WithMaxRetries(uint64(maxRetries), b)
	b = retry.WithCappedDuration(maxDelay, b)
	return b
}

// Do runs fn under the given backoff schedule, retrying while fn returns
// a retry.RetryableError-wrapped error, grounded on original_source's
// retry_with_backoff but expressed with go-retry's idiomatic
// ctx+backoff API instead of a manual sleep loop.
func Do(ctx context.Context, b retry.Backoff, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, b, fn)
}

// retryableNetworkError marks err as retryable for consumption by Do,
// mirroring original_source's blanket "retry all, network handled
// separately" policy for chunk transfer calls.
func retryableNetworkError(err error) error {
	if err == nil {
		return nil
	}
	return retry.RetryableError(err)
}

// Reachability is the narrow health-check contract WaitForReachable
// needs from the remote API client.
type Reachability interface {
	// Healthy reports whether the server currently answers requests.
	Healthy(ctx context.Context) bool
}

// WaitForReachable blocks, polling client.Healthy every checkInterval,
// until the server answers or ctx is cancelled. It is deliberately
// unbounded — per §4.8, time spent waiting for connectivity is not
// counted against a transfer's retry budget — grounded on
// original_source's wait_for_network.
func WaitForReachable(ctx context.Context, client Reachability, checkInterval time.Duration, logger *slog.Logger, onWaiting, onRestored func()) error {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("network appears down, waiting for connectivity", "check_interval", checkInterval)
	if onWaiting != nil {
		onWaiting()
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempts++
			if client.Healthy(ctx) {
				logger.Info("network restored", "elapsed", time.Duration(attempts)*checkInterval)
				if onRestored != nil {
					onRestored()
				}
				return nil
			}
			if attempts%12 == 0 {
				logger.Info("still waiting for network", "elapsed", time.Duration(attempts)*checkInterval)
			}
		}
	}
}
