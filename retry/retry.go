// Package retry runs operations with exponential backoff, retrying only
// errors classified as transient: network timeouts, connection failures, and
// a fixed set of HTTP statuses (429, 500, 502, 503, 504).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrMaxRetriesExceeded wraps the last error once every attempt has failed.
var ErrMaxRetriesExceeded = errors.New("retry: max retries exceeded")

// RetryableError lets error types opt in to retry classification.
type RetryableError interface {
	Retryable() bool
}

// StatusError is an HTTP response treated as an error. It classifies itself
// as retryable for rate-limit and server-side statuses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryable classifies an error. Types implementing RetryableError decide
// for themselves; otherwise network timeouts and connection failures are
// retryable and everything else is terminal.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Config controls backoff behavior. Delay per attempt is
// min(InitialDelay * BackoffBase^attempt, MaxDelay), randomized by +-50% when
// Jitter is set.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	BackoffBase  float64
	Jitter       bool
	Logger       *zap.Logger
}

// DefaultConfig returns the backoff used across the client: 3 retries
// starting at 100ms, doubling, capped at 30s, with jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		BackoffBase:  2,
		Jitter:       true,
	}
}

// Delay computes the backoff before retry number attempt (0-based).
func (c Config) Delay(attempt int) time.Duration {
	base := float64(c.InitialDelay)
	backoff := c.BackoffBase
	if backoff <= 0 {
		backoff = 2
	}
	for i := 0; i < attempt; i++ {
		base *= backoff
	}
	if limit := float64(c.MaxDelay); c.MaxDelay > 0 && base > limit {
		base = limit
	}
	if c.Jitter {
		base *= 0.5 + rand.Float64()
	}
	return time.Duration(base)
}

// Do runs op until it succeeds, fails with a non-retryable error, or exhausts
// MaxRetries. Backoff delays respect ctx cancellation.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		delay := cfg.Delay(attempt)
		logger.Debug("retrying after transient error",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}
