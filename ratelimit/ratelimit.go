// Package ratelimit provides process-local rate limiting for outbound API
// calls: a sliding-window limiter, a token bucket with fractional consumption,
// and a per-endpoint map that falls back to a shared default.
//
// All limiters compute the required wait under their lock and sleep outside
// it, so concurrent callers do not serialize on the delay itself.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow allows at most maxRequests within a rolling window. Expired
// entries are pruned lazily on each call.
type SlidingWindow struct {
	mu          sync.Mutex
	requests    []time.Time
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewSlidingWindow creates a limiter allowing maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Acquire attempts to claim a slot. It returns zero when the request may
// proceed immediately, otherwise the precise wait until the oldest request in
// the window expires. A non-zero return does not claim a slot.
func (l *SlidingWindow) Acquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.requests) >= l.maxRequests {
		return l.window - now.Sub(l.requests[0])
	}

	l.requests = append(l.requests, now)
	return 0
}

// Wait blocks until a slot is available or the context is done.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	for {
		d := l.Acquire()
		if d <= 0 {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Len reports the number of requests currently inside the window.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.requests)
}

// Reset discards all recorded requests.
func (l *SlidingWindow) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = l.requests[:0]
}

func (l *SlidingWindow) prune(now time.Time) {
	i := 0
	for i < len(l.requests) && now.Sub(l.requests[i]) > l.window {
		i++
	}
	if i > 0 {
		l.requests = append(l.requests[:0], l.requests[i:]...)
	}
}

// TokenBucket models capacity as tokens refilled continuously at a fixed
// rate. Fractional consumption lets expensive calls weigh more than cheap
// ones.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket of maxTokens refilled at refillRate
// tokens per second.
func NewTokenBucket(maxTokens, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TryConsume takes n tokens if available. On success it returns (0, true);
// otherwise it returns the wait until enough tokens will have accumulated.
func (b *TokenBucket) TryConsume(n float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.tokens+elapsed*b.refillRate, b.maxTokens)
	b.lastRefill = now

	if b.tokens >= n {
		b.tokens -= n
		return 0, true
	}

	deficit := n - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second)), false
}

// Consume takes n tokens, sleeping as needed until they are available or the
// context is done.
func (b *TokenBucket) Consume(ctx context.Context, n float64) error {
	for {
		d, ok := b.TryConsume(n)
		if ok {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the current token count after refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.tokens+elapsed*b.refillRate, b.maxTokens)
	b.lastRefill = now
	return b.tokens
}

// EndpointLimiter keys sliding-window limiters by endpoint identifier and
// falls back to a shared default limiter for unconfigured endpoints.
type EndpointLimiter struct {
	mu             sync.RWMutex
	limiters       map[string]*SlidingWindow
	defaultLimiter *SlidingWindow
}

// NewEndpointLimiter creates an endpoint limiter whose default allows 100
// requests per minute.
func NewEndpointLimiter() *EndpointLimiter {
	return &EndpointLimiter{
		limiters:       make(map[string]*SlidingWindow),
		defaultLimiter: NewSlidingWindow(100, time.Minute),
	}
}

// SetLimit installs a dedicated limit for one endpoint.
func (e *EndpointLimiter) SetLimit(endpoint string, maxRequests int, window time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiters[endpoint] = NewSlidingWindow(maxRequests, window)
}

// Acquire claims a slot for the endpoint, returning the wait as with
// SlidingWindow.Acquire.
func (e *EndpointLimiter) Acquire(endpoint string) time.Duration {
	return e.limiterFor(endpoint).Acquire()
}

// Wait blocks until the endpoint's limiter admits the request.
func (e *EndpointLimiter) Wait(ctx context.Context, endpoint string) error {
	return e.limiterFor(endpoint).Wait(ctx)
}

func (e *EndpointLimiter) limiterFor(endpoint string) *SlidingWindow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if l, ok := e.limiters[endpoint]; ok {
		return l
	}
	return e.defaultLimiter
}
