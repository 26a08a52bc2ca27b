// Package client wraps the auth layer with client-side rate limiting so
// downstream API calls respect both a global budget and per-path limits.
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vibheksoni/axiomtrade-go/auth"
	"github.com/vibheksoni/axiomtrade-go/ratelimit"
)

// Default global budget across all endpoints.
const (
	defaultGlobalLimit  = 100
	defaultGlobalWindow = time.Minute
)

// Client is the resilient entry point for API calls: requests pass the
// global limiter, then the per-path limiter, then the auth layer, which owns
// retries and refresh. Rate limiting sits here and nowhere else so a single
// request is never throttled twice.
type Client struct {
	auth    *auth.Client
	global  *ratelimit.SlidingWindow
	perPath *ratelimit.EndpointLimiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGlobalLimit replaces the default 100-per-minute global budget.
func WithGlobalLimit(maxRequests int, window time.Duration) Option {
	return func(c *Client) { c.global = ratelimit.NewSlidingWindow(maxRequests, window) }
}

// WithPathLimit sets a dedicated budget for one request path.
func WithPathLimit(path string, maxRequests int, window time.Duration) Option {
	return func(c *Client) { c.perPath.SetLimit(path, maxRequests, window) }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a rate-limited client on top of an auth client.
func New(authClient *auth.Client, opts ...Option) *Client {
	c := &Client{
		auth:    authClient,
		global:  ratelimit.NewSlidingWindow(defaultGlobalLimit, defaultGlobalWindow),
		perPath: ratelimit.NewEndpointLimiter(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Auth exposes the underlying auth client.
func (c *Client) Auth() *auth.Client { return c.auth }

// Request executes an authenticated call once both limiters admit it,
// decoding a JSON response into out when non-nil.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	if err := c.perPath.Wait(ctx, path); err != nil {
		return err
	}
	c.logger.Debug("dispatching request", zap.String("method", method), zap.String("path", path))
	return c.auth.AuthenticatedRequest(ctx, method, path, body, out)
}

// Get issues a rate-limited GET.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Request(ctx, "GET", path, nil, out)
}

// Post issues a rate-limited POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Request(ctx, "POST", path, body, out)
}
