package auth

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Expiry buffers: tokens are treated as expired slightly before their actual
// deadline so requests never race the server-side cutoff, and refreshed
// earlier still so the refresh happens off the critical path.
const (
	expiryBuffer  = 5 * time.Minute
	refreshBuffer = 15 * time.Minute

	turnkeyRefreshBuffer = time.Hour
)

// Credentials is a plaintext email/password pair. It is consumed once to
// produce the hashed wire password and never persisted.
type Credentials struct {
	Email    string
	Password string
}

// Tokens holds the access/refresh token pair. A nil ExpiresAt means the
// server declared no lifetime and the tokens are never treated as expired.
type Tokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the access token is inside the 5-minute expiry
// buffer.
func (t Tokens) IsExpired() bool { return t.expiredWithin(expiryBuffer, time.Now()) }

// NeedsRefresh reports whether the access token is inside the 15-minute
// proactive-refresh buffer.
func (t Tokens) NeedsRefresh() bool { return t.expiredWithin(refreshBuffer, time.Now()) }

func (t Tokens) expiredWithin(buffer time.Duration, now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-buffer))
}

// TokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature; the server is authoritative, the client only needs
// the deadline for refresh bookkeeping. Returns nil when the token is not a
// JWT or carries no exp claim.
func TokenExpiry(accessToken string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

// Cookie names used by the remote auth protocol.
const (
	cookieAccessToken  = "auth-access-token"
	cookieRefreshToken = "auth-refresh-token"
	cookieGState       = "g_state"
	cookieOTPLogin     = "auth-otp-login-token"
)

// defaultGState mirrors the value the web client sets before login.
const defaultGState = `{"i_l":0}`

// Cookies is the named cookie set carried alongside tokens. Empty strings
// mean "absent".
type Cookies struct {
	AccessToken  string            `json:"auth_access_token,omitempty"`
	RefreshToken string            `json:"auth_refresh_token,omitempty"`
	GState       string            `json:"g_state,omitempty"`
	Additional   map[string]string `json:"additional_cookies,omitempty"`
}

// DefaultCookies returns the pre-login cookie set.
func DefaultCookies() Cookies {
	return Cookies{GState: defaultGState}
}

// Valid reports whether both auth cookies are present. Anything less and the
// server will not honor cookie-based authentication.
func (c Cookies) Valid() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Header formats the cookie set as a Cookie header value. Additional cookies
// are emitted in sorted order so the output is stable.
func (c Cookies) Header() string {
	var parts []string
	if c.GState != "" {
		parts = append(parts, cookieGState+"="+c.GState)
	}
	if c.RefreshToken != "" {
		parts = append(parts, cookieRefreshToken+"="+c.RefreshToken)
	}
	if c.AccessToken != "" {
		parts = append(parts, cookieAccessToken+"="+c.AccessToken)
	}

	names := make([]string, 0, len(c.Additional))
	for name := range c.Additional {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+c.Additional[name])
	}
	return strings.Join(parts, "; ")
}

// Merge overlays non-empty fields from other onto c.
func (c *Cookies) Merge(other Cookies) {
	if other.AccessToken != "" {
		c.AccessToken = other.AccessToken
	}
	if other.RefreshToken != "" {
		c.RefreshToken = other.RefreshToken
	}
	if other.GState != "" {
		c.GState = other.GState
	}
	for name, value := range other.Additional {
		if c.Additional == nil {
			c.Additional = make(map[string]string)
		}
		c.Additional[name] = value
	}
}

// CookiesFromResponse collects Set-Cookie values from a login or refresh
// response into a Cookies value.
func CookiesFromResponse(cookies []*http.Cookie) Cookies {
	out := DefaultCookies()
	for _, cookie := range cookies {
		switch cookie.Name {
		case cookieAccessToken:
			out.AccessToken = cookie.Value
		case cookieRefreshToken:
			out.RefreshToken = cookie.Value
		case cookieGState:
			out.GState = cookie.Value
		default:
			if out.Additional == nil {
				out.Additional = make(map[string]string)
			}
			out.Additional[cookie.Name] = cookie.Value
		}
	}
	return out
}

// TurnkeyAPIKey describes one active key on the custodial wallet service.
type TurnkeyAPIKey struct {
	APIKeyID   string     `json:"api_key_id"`
	APIKeyName string     `json:"api_key_name"`
	PublicKey  string     `json:"public_key"`
	KeyType    string     `json:"key_type"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// TurnkeySession is the optional custodial-signing session established from
// phase-2 login credentials. Its expiry is tracked independently of Tokens
// with a one-hour buffer.
type TurnkeySession struct {
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	Username       string          `json:"username"`
	ClientSecret   string          `json:"client_secret"`
	APIKeys        []TurnkeyAPIKey `json:"api_keys"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// NeedsRefresh reports whether the custodial session is inside its one-hour
// refresh buffer.
func (s TurnkeySession) NeedsRefresh() bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !time.Now().Before(s.ExpiresAt.Add(-turnkeyRefreshBuffer))
}

// UserInfo is the optional profile block returned by login.
type UserInfo struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// SessionMetadata tracks diagnostic timestamps and client identity. None of
// it affects correctness.
type SessionMetadata struct {
	CreatedAt         time.Time  `json:"created_at"`
	LastRefreshedAt   *time.Time `json:"last_refreshed_at,omitempty"`
	LastAPICallAt     *time.Time `json:"last_api_call_at,omitempty"`
	CurrentAPIServer  string     `json:"current_api_server,omitempty"`
	UserAgent         string     `json:"user_agent"`
	ClientFingerprint string     `json:"client_fingerprint,omitempty"`
}

func newSessionMetadata(userAgent string) SessionMetadata {
	if userAgent == "" {
		userAgent = RandomDesktopUserAgent()
	}
	return SessionMetadata{
		CreatedAt:         time.Now().UTC(),
		UserAgent:         userAgent,
		ClientFingerprint: uuid.NewString(),
	}
}

// AgeMinutes reports how long ago the session was created.
func (m SessionMetadata) AgeMinutes() int64 {
	return int64(time.Since(m.CreatedAt).Minutes())
}

// Session aggregates everything a restored process needs to resume
// authenticated work: tokens, cookies, the optional custodial session, user
// info, and metadata.
type Session struct {
	Tokens   Tokens          `json:"tokens"`
	Cookies  Cookies         `json:"cookies"`
	Turnkey  *TurnkeySession `json:"turnkey_session,omitempty"`
	User     *UserInfo       `json:"user_info,omitempty"`
	Metadata SessionMetadata `json:"session_metadata"`
}

// IsValid reports whether the session's tokens are present and outside the
// expiry buffer. Cookie and custodial validity are informative only.
func (s Session) IsValid() bool {
	return s.Tokens.AccessToken != "" && !s.Tokens.IsExpired()
}

// NeedsRefresh reports whether either the tokens or the custodial session are
// inside their refresh buffers.
func (s Session) NeedsRefresh() bool {
	if s.Tokens.NeedsRefresh() {
		return true
	}
	return s.Turnkey != nil && s.Turnkey.NeedsRefresh()
}

// CookieHeader formats the session's cookies for a Cookie header.
func (s Session) CookieHeader() string { return s.Cookies.Header() }

// Summary renders a one-line diagnostic view of the session.
func (s Session) Summary() string {
	tokenStatus := "VALID"
	switch {
	case s.Tokens.IsExpired():
		tokenStatus = "EXPIRED"
	case s.Tokens.NeedsRefresh():
		tokenStatus = "NEEDS_REFRESH"
	}

	cookieStatus := "MISSING"
	if s.Cookies.Valid() {
		cookieStatus = "PRESENT"
	}

	turnkeyStatus := "NOT_SET"
	if s.Turnkey != nil {
		turnkeyStatus = "ACTIVE"
	}

	lastCall := "NEVER"
	if s.Metadata.LastAPICallAt != nil {
		lastCall = fmt.Sprintf("%dm ago", int64(time.Since(*s.Metadata.LastAPICallAt).Minutes()))
	}

	overall := "INVALID"
	if s.IsValid() {
		overall = "VALID"
	}

	return fmt.Sprintf("Session: %s | Tokens: %s | Cookies: %s | Turnkey: %s | Age: %dm | Last API: %s",
		overall, tokenStatus, cookieStatus, turnkeyStatus, s.Metadata.AgeMinutes(), lastCall)
}

// Wire types for the two-phase login protocol.

type loginRequest struct {
	Email       string `json:"email"`
	B64Password string `json:"b64Password"`
}

type loginStep1Response struct {
	OTPJWTToken string `json:"otpJwtToken"`
}

type otpRequest struct {
	Code        string `json:"code"`
	Email       string `json:"email"`
	B64Password string `json:"b64Password"`
}

type loginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *UserInfo `json:"user"`
	OrgID        string    `json:"orgId"`
	UserID       string    `json:"userId"`
	ClientSecret string    `json:"clientSecret"`
}

// TurnkeyCredentials are the custodial identifiers captured from a phase-2
// login response.
type TurnkeyCredentials struct {
	OrganizationID string
	UserID         string
	ClientSecret   string
}

// LoginResult is the full outcome of a two-phase login.
type LoginResult struct {
	Tokens  Tokens
	Turnkey *TurnkeyCredentials
	User    *UserInfo
}
