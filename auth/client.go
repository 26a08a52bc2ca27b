package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vibheksoni/axiomtrade-go/retry"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// Fallback token lifetimes applied when a token carries no readable exp
	// claim.
	accessTokenLifetime = time.Hour
	refreshedLifetime   = 15 * time.Minute

	maxOTPAttempts = 3

	// The custodial signing session outlives the access token by a wide
	// margin.
	turnkeySessionLifetime = 30 * 24 * time.Hour
)

// Client drives the two-phase login handshake, token refresh, and
// authenticated request execution against the trading API. It is safe for
// concurrent use; refreshes are coalesced so concurrent callers share one
// refresh call.
type Client struct {
	http      *resty.Client
	sessions  *SessionStore
	otp       OTPResolver
	creds     *Credentials
	endpoints *endpointPool
	retryCfg  retry.Config
	logger    *zap.Logger
	userAgent string

	credMu sync.Mutex
	hashed *hashedCredentials

	refreshGroup singleflight.Group
}

// hashedCredentials carries the email and pre-hashed wire password, so the
// plaintext password does not have to be retained between logins.
type hashedCredentials struct {
	email       string
	b64Password string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSessionStore supplies the session store; defaults to an in-memory one.
func WithSessionStore(store *SessionStore) ClientOption {
	return func(c *Client) { c.sessions = store }
}

// WithOTPResolver supplies the security-code source used during login.
func WithOTPResolver(resolver OTPResolver) ClientOption {
	return func(c *Client) { c.otp = resolver }
}

// WithCredentials stores a plaintext email/password pair for automatic login
// and re-login. The password is hashed on first use.
func WithCredentials(email, password string) ClientOption {
	return func(c *Client) { c.creds = &Credentials{Email: email, Password: password} }
}

// WithHashedCredentials stores the email and already-hashed wire password.
func WithHashedCredentials(email, b64Password string) ClientOption {
	return func(c *Client) {
		c.hashed = &hashedCredentials{email: email, b64Password: b64Password}
	}
}

// WithUserAgent pins the User-Agent header instead of the session's random
// desktop identity.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) { c.userAgent = userAgent }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRetryConfig overrides the transient-failure backoff policy.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithEndpoints overrides the API base URLs. Mainly for tests.
func WithEndpoints(endpoints ...string) ClientOption {
	return func(c *Client) { c.endpoints = newEndpointPool(endpoints) }
}

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.http.SetTimeout(timeout) }
}

// NewClient builds an auth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:      resty.New().SetTimeout(defaultHTTPTimeout),
		endpoints: newEndpointPool(nil),
		retryCfg:  retry.DefaultConfig(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.sessions == nil {
		c.sessions = NewSessionStore()
	}
	if c.retryCfg.Logger == nil {
		c.retryCfg.Logger = c.logger
	}
	return c
}

// Sessions exposes the client's session store.
func (c *Client) Sessions() *SessionStore { return c.sessions }

// credentials resolves the configured login identity, hashing the plaintext
// password on first use.
func (c *Client) credentials() (*hashedCredentials, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	if c.hashed != nil {
		return c.hashed, nil
	}
	if c.creds != nil {
		c.hashed = &hashedCredentials{
			email:       c.creds.Email,
			b64Password: HashPassword(c.creds.Password),
		}
		return c.hashed, nil
	}
	return nil, ErrNotAuthenticated
}

// LoginPassword performs the first login phase. On success the server has
// emailed a security code and the returned challenge token must accompany the
// code in SubmitOTP.
func (c *Client) LoginPassword(ctx context.Context, email, b64Password string) (string, error) {
	var result loginStep1Response
	_, err := c.post(ctx, "/login-password-v2", nil, loginRequest{
		Email:       email,
		B64Password: b64Password,
	}, &result)
	if err != nil {
		if status := statusOf(err); status == 400 || status == 401 || status == 403 {
			return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return "", fmt.Errorf("auth: password login failed: %w", err)
	}
	if result.OTPJWTToken == "" {
		return "", fmt.Errorf("%w: missing challenge token", ErrOTPRequired)
	}

	c.logger.Debug("password phase accepted, security code sent", zap.String("email", email))
	return result.OTPJWTToken, nil
}

// SubmitOTP performs the second login phase and installs the resulting
// session. The caller's userAgent (possibly empty) seeds the new session's
// identity.
func (c *Client) SubmitOTP(ctx context.Context, otpToken, code, email, b64Password string) (*LoginResult, error) {
	var result loginResponse
	resp, err := c.post(ctx, "/login-otp", map[string]string{
		"Cookie": cookieOTPLogin + "=" + otpToken,
	}, otpRequest{
		Code:        code,
		Email:       email,
		B64Password: b64Password,
	}, &result)
	if err != nil {
		if status := statusOf(err); status == 400 || status == 401 || status == 403 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOTP, err)
		}
		return nil, fmt.Errorf("auth: otp login failed: %w", err)
	}

	cookies := CookiesFromResponse(resp.Cookies())

	// Tokens may arrive in the body, in cookies, or both.
	access := result.AccessToken
	if access == "" {
		access = cookies.AccessToken
	}
	refreshTok := result.RefreshToken
	if refreshTok == "" {
		refreshTok = cookies.RefreshToken
	}
	if access == "" || refreshTok == "" {
		return nil, fmt.Errorf("auth: otp login response carried no tokens")
	}

	expiresAt := TokenExpiry(access)
	if expiresAt == nil {
		t := time.Now().UTC().Add(accessTokenLifetime)
		expiresAt = &t
	}
	tokens := Tokens{
		AccessToken:  access,
		RefreshToken: refreshTok,
		ExpiresAt:    expiresAt,
	}

	login := &LoginResult{Tokens: tokens, User: result.User}
	if result.OrgID != "" || result.UserID != "" || result.ClientSecret != "" {
		login.Turnkey = &TurnkeyCredentials{
			OrganizationID: result.OrgID,
			UserID:         result.UserID,
			ClientSecret:   result.ClientSecret,
		}
	}

	if err := c.sessions.CreateSession(tokens, result.User, &cookies, c.userAgent); err != nil {
		c.logger.Warn("session persistence failed", zap.Error(err))
	}
	if login.Turnkey != nil {
		now := time.Now().UTC()
		turnkeyExp := now.Add(turnkeySessionLifetime)
		if err := c.sessions.SetTurnkeySession(TurnkeySession{
			OrganizationID: login.Turnkey.OrganizationID,
			UserID:         login.Turnkey.UserID,
			ClientSecret:   login.Turnkey.ClientSecret,
			CreatedAt:      now,
			ExpiresAt:      &turnkeyExp,
		}); err != nil {
			c.logger.Warn("turnkey session install failed", zap.Error(err))
		}
	}

	c.logger.Info("login complete", zap.String("email", email))
	return login, nil
}

// Login runs the full two-phase flow using the configured credentials and
// OTP resolver. A rejected security code is re-resolved up to three times
// before the login fails with ErrInvalidOTP.
func (c *Client) Login(ctx context.Context) (*LoginResult, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, fmt.Errorf("auth: login requires credentials: %w", err)
	}
	if c.otp == nil {
		return nil, fmt.Errorf("%w: no resolver configured", ErrOTPRequired)
	}

	otpToken, err := c.LoginPassword(ctx, creds.email, creds.b64Password)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxOTPAttempts; attempt++ {
		code, err := c.otp.ResolveOTP(ctx)
		if err != nil {
			return nil, fmt.Errorf("auth: resolving security code: %w", err)
		}

		result, err := c.SubmitOTP(ctx, otpToken, code, creds.email, creds.b64Password)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrInvalidOTP) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("security code rejected", zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

// Refresh exchanges the session's refresh token for new tokens. Concurrent
// callers are coalesced into a single refresh call. A rejected refresh token
// clears the session and returns ErrTokenExpired.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Client) refresh(ctx context.Context) error {
	refreshTok, err := c.sessions.RefreshToken()
	if err != nil {
		return err
	}

	var result loginResponse
	resp, err := c.post(ctx, "/refresh-access-token", map[string]string{
		"Cookie": cookieRefreshToken + "=" + refreshTok,
	}, nil, &result)
	if err != nil {
		if status := statusOf(err); status == 401 || status == 403 {
			if clearErr := c.sessions.ClearSession(); clearErr != nil {
				c.logger.Warn("session clear failed", zap.Error(clearErr))
			}
			return fmt.Errorf("%w: refresh token rejected", ErrTokenExpired)
		}
		return fmt.Errorf("auth: refresh failed: %w", err)
	}

	cookies := CookiesFromResponse(resp.Cookies())

	access := result.AccessToken
	if access == "" {
		access = cookies.AccessToken
	}
	if access == "" {
		return fmt.Errorf("auth: refresh response carried no access token")
	}
	// The server may rotate the refresh token or leave the old one valid.
	newRefresh := result.RefreshToken
	if newRefresh == "" {
		newRefresh = cookies.RefreshToken
	}
	if newRefresh == "" {
		newRefresh = refreshTok
	}

	expiresAt := TokenExpiry(access)
	if expiresAt == nil {
		t := time.Now().UTC().Add(refreshedLifetime)
		expiresAt = &t
	}

	if err := c.sessions.UpdateTokens(Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return err
	}
	if err := c.sessions.UpdateCookies(cookies); err != nil {
		c.logger.Warn("cookie update failed", zap.Error(err))
	}

	c.logger.Debug("tokens refreshed")
	return nil
}

// EnsureAuthenticated guarantees a usable session: logging in when none
// exists, refreshing when expired, and refreshing opportunistically when the
// session is inside its refresh buffer.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	session := c.sessions.Get()
	if session == nil {
		return c.loginIfPossible(ctx, ErrNotAuthenticated)
	}

	if !session.IsValid() {
		err := c.Refresh(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenNotFound) {
			return c.loginIfPossible(ctx, err)
		}
		return err
	}

	if session.NeedsRefresh() {
		if err := c.Refresh(ctx); err != nil {
			// Still valid for a few more minutes; surface nothing.
			c.logger.Warn("proactive refresh failed", zap.Error(err))
		}
	}
	return nil
}

func (c *Client) loginIfPossible(ctx context.Context, cause error) error {
	c.credMu.Lock()
	hasCreds := c.creds != nil || c.hashed != nil
	c.credMu.Unlock()
	if !hasCreds {
		return cause
	}
	if _, err := c.Login(ctx); err != nil {
		return err
	}
	return nil
}

// AuthenticatedRequest executes a request against a randomly chosen endpoint
// with the session's bearer token and cookies, decoding a JSON response into
// out when non-nil. A 401 triggers one refresh and one retry before
// ErrUnauthorized is returned.
func (c *Client) AuthenticatedRequest(ctx context.Context, method, path string, body, out any) error {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	err := c.doAuthenticated(ctx, method, path, body, out)
	if statusOf(err) != 401 {
		return err
	}

	if refreshErr := c.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, refreshErr)
	}
	if err := c.doAuthenticated(ctx, method, path, body, out); err != nil {
		if statusOf(err) == 401 {
			return fmt.Errorf("%w: request rejected after refresh", ErrUnauthorized)
		}
		return err
	}
	return nil
}

func (c *Client) doAuthenticated(ctx context.Context, method, path string, body, out any) error {
	access, err := c.sessions.AccessToken()
	if err != nil {
		return err
	}

	headers := map[string]string{"Authorization": "Bearer " + access}
	if cookie, ok := c.sessions.CookieHeader(); ok && cookie != "" {
		headers["Cookie"] = cookie
	}

	_, err = c.execute(ctx, method, path, headers, body, out)
	if err != nil {
		return err
	}
	c.sessions.MarkAPICall(c.endpoints.Last())
	return nil
}

// post issues a POST with retry and endpoint rotation.
func (c *Client) post(ctx context.Context, path string, headers map[string]string, body, out any) (*resty.Response, error) {
	return c.execute(ctx, "POST", path, headers, body, out)
}

// execute performs one logical request. Each physical attempt picks a fresh
// endpoint so retries after a server failure land on a different host.
func (c *Client) execute(ctx context.Context, method, path string, headers map[string]string, body, out any) (*resty.Response, error) {
	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) (*resty.Response, error) {
		base := c.endpoints.Next()

		req := c.http.R().
			SetContext(ctx).
			SetHeader("User-Agent", c.resolveUserAgent()).
			SetHeader("Content-Type", "application/json")
		for name, value := range headers {
			req.SetHeader(name, value)
		}
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Execute(method, base+path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 400 {
			return nil, &retry.StatusError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
		}
		return resp, nil
	})
}

func (c *Client) resolveUserAgent() string {
	if c.userAgent != "" {
		return c.userAgent
	}
	return c.sessions.UserAgent()
}

// statusOf extracts the HTTP status from an error chain, or 0.
func statusOf(err error) int {
	var se *retry.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
