package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionStore owns the aggregate Session: tokens, cookies, the optional
// custodial session, user info, and metadata. All access is internally
// synchronized; the lock is held only for in-memory updates, never across
// file or network I/O. Persistence failures degrade to "persistence
// unavailable" and never block authentication.
type SessionStore struct {
	mu       sync.RWMutex
	session  *Session
	path     string
	autoSave bool
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionPath enables file persistence at path.
func WithSessionPath(path string) SessionStoreOption {
	return func(s *SessionStore) { s.path = path }
}

// WithSessionAutoSave controls whether mutations persist synchronously.
func WithSessionAutoSave(autoSave bool) SessionStoreOption {
	return func(s *SessionStore) { s.autoSave = autoSave }
}

// NewSessionStore creates a session store. When a path is configured any
// previously persisted session is loaded best-effort; a missing or corrupt
// file means starting unauthenticated.
func NewSessionStore(opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{autoSave: true}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.path != "" {
		if session, err := loadSession(s.path); err == nil {
			s.session = session
		}
	}
	return s
}

// CreateSession installs a fresh session built from a login. A zero
// userAgent picks a random desktop identity.
func (s *SessionStore) CreateSession(tokens Tokens, user *UserInfo, cookies *Cookies, userAgent string) error {
	session := &Session{
		Tokens:   tokens,
		Cookies:  DefaultCookies(),
		User:     user,
		Metadata: newSessionMetadata(userAgent),
	}
	if cookies != nil {
		session.Cookies = *cookies
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	return s.persist()
}

// Get returns a copy of the current session, or nil when unauthenticated.
func (s *SessionStore) Get() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// IsSessionValid reports whether a session exists with unexpired tokens.
func (s *SessionStore) IsSessionValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.IsValid()
}

// NeedsRefresh reports whether the session exists and is inside a refresh
// buffer.
func (s *SessionStore) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.NeedsRefresh()
}

// UpdateTokens replaces the session's tokens and stamps the refresh time.
func (s *SessionStore) UpdateTokens(tokens Tokens) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	now := time.Now().UTC()
	s.session.Tokens = tokens
	s.session.Metadata.LastRefreshedAt = &now
	s.mu.Unlock()

	return s.persist()
}

// UpdateCookies merges new cookies into the session.
func (s *SessionStore) UpdateCookies(cookies Cookies) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.session.Cookies.Merge(cookies)
	s.mu.Unlock()

	return s.persist()
}

// SetTurnkeySession attaches or replaces the custodial session.
func (s *SessionStore) SetTurnkeySession(turnkey TurnkeySession) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.session.Turnkey = &turnkey
	s.mu.Unlock()

	return s.persist()
}

// TurnkeySession returns a copy of the custodial session if one is attached.
func (s *SessionStore) TurnkeySession() *TurnkeySession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Turnkey == nil {
		return nil
	}
	t := *s.session.Turnkey
	return &t
}

// MarkAPICall updates the last-call timestamp and, when non-empty, the
// current server. Metadata only; no persistence, no error.
func (s *SessionStore) MarkAPICall(server string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	now := time.Now().UTC()
	s.session.Metadata.LastAPICallAt = &now
	if server != "" {
		s.session.Metadata.CurrentAPIServer = server
	}
}

// AccessToken returns the session's access token or ErrTokenNotFound.
func (s *SessionStore) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Tokens.AccessToken == "" {
		return "", ErrTokenNotFound
	}
	return s.session.Tokens.AccessToken, nil
}

// RefreshToken returns the session's refresh token or ErrTokenNotFound.
func (s *SessionStore) RefreshToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Tokens.RefreshToken == "" {
		return "", ErrTokenNotFound
	}
	return s.session.Tokens.RefreshToken, nil
}

// CookieHeader returns the formatted Cookie header for the session.
func (s *SessionStore) CookieHeader() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.CookieHeader(), true
}

// UserAgent returns the session's user agent, or a random one when no
// session exists yet.
func (s *SessionStore) UserAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return RandomDesktopUserAgent()
	}
	return s.session.Metadata.UserAgent
}

// ClearSession wipes the in-memory session and deletes the backing file when
// one is configured.
func (s *SessionStore) ClearSession() error {
	s.mu.Lock()
	s.session = nil
	path := s.path
	s.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("auth: failed to remove session file: %w", err)
		}
	}
	return nil
}

// Save persists the current session to the configured path.
func (s *SessionStore) Save() error {
	s.mu.RLock()
	path := s.path
	snapshot := s.snapshot()
	s.mu.RUnlock()

	if path == "" || snapshot == nil {
		return nil
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: failed to encode session: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("auth: failed to create session directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("auth: failed to write session file: %w", err)
	}
	return nil
}

// Summary returns a one-line diagnostic description of the session.
func (s *SessionStore) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "No active session"
	}
	return s.session.Summary()
}

func (s *SessionStore) persist() error {
	s.mu.RLock()
	autoSave := s.autoSave && s.path != ""
	s.mu.RUnlock()
	if !autoSave {
		return nil
	}
	return s.Save()
}

// snapshot deep-copies the session. Callers must hold at least a read lock.
func (s *SessionStore) snapshot() *Session {
	if s.session == nil {
		return nil
	}
	out := *s.session
	if s.session.Turnkey != nil {
		t := *s.session.Turnkey
		t.APIKeys = append([]TurnkeyAPIKey(nil), s.session.Turnkey.APIKeys...)
		out.Turnkey = &t
	}
	if s.session.User != nil {
		u := *s.session.User
		out.User = &u
	}
	if len(s.session.Cookies.Additional) > 0 {
		extra := make(map[string]string, len(s.session.Cookies.Additional))
		for k, v := range s.session.Cookies.Additional {
			extra[k] = v
		}
		out.Cookies.Additional = extra
	}
	return &out
}

func loadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
