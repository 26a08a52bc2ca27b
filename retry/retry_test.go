package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTransient = &StatusError{StatusCode: 503}

func testConfig(maxRetries int) Config {
	return Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		BackoffBase:  2,
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	result, err := Do(context.Background(), testConfig(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if result != "ok" {
		t.Fatalf("Do() = %q, want ok", result)
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4 (3 failures + success)", attempts)
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	terminal := errors.New("invalid credentials")
	attempts := 0
	_, err := Do(context.Background(), testConfig(5), func(ctx context.Context) (int, error) {
		attempts++
		return 0, terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("Do() error = %v, want %v", err, terminal)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want exactly 1 for non-retryable error", attempts)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), testConfig(3), func(ctx context.Context) (int, error) {
		attempts++
		return 0, errTransient
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("Do() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("Do() error = %v, want wrapped last error", err)
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	cfg := testConfig(3)
	cfg.InitialDelay = time.Minute

	_, err := Do(ctx, cfg, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	if err != context.DeadlineExceeded {
		t.Fatalf("Do() error = %v, want DeadlineExceeded", err)
	}
}

func TestDelayBackoff(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		BackoffBase:  2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	cfg := Config{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		BackoffBase:  10,
	}
	if got := cfg.Delay(6); got != 5*time.Second {
		t.Fatalf("Delay(6) = %v, want cap of 5s", got)
	}
}

func TestDelayJitterRange(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		BackoffBase:  2,
		Jitter:       true,
	}
	for i := 0; i < 100; i++ {
		d := cfg.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered Delay(0) = %v, want within +-50%% of 100ms", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status 429", &StatusError{StatusCode: 429}, true},
		{"status 500", &StatusError{StatusCode: 500}, true},
		{"status 502", &StatusError{StatusCode: 502}, true},
		{"status 503", &StatusError{StatusCode: 503}, true},
		{"status 504", &StatusError{StatusCode: 504}, true},
		{"status 401", &StatusError{StatusCode: 401}, false},
		{"status 404", &StatusError{StatusCode: 404}, false},
		{"wrapped status", fmt.Errorf("request failed: %w", &StatusError{StatusCode: 502}), true},
		{"timeout", timeoutError{}, true},
		{"plain error", errors.New("boom"), false},
		{"nil-ish terminal", errors.New("invalid otp"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
