package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// TokenStore holds the current token pair behind a mutex and optionally
// mirrors it to a JSON file so sessions survive process restarts. Loading is
// best-effort: a missing or corrupt file means "no existing tokens", never a
// construction failure.
type TokenStore struct {
	mu       sync.RWMutex
	tokens   *Tokens
	path     string
	autoSave bool
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithTokenPath enables file persistence at path.
func WithTokenPath(path string) TokenStoreOption {
	return func(s *TokenStore) { s.path = path }
}

// WithTokenAutoSave controls whether Set persists synchronously. Defaults to
// true when a path is configured.
func WithTokenAutoSave(autoSave bool) TokenStoreOption {
	return func(s *TokenStore) { s.autoSave = autoSave }
}

// NewTokenStore creates a token store, loading any previously persisted
// tokens when a path is configured.
func NewTokenStore(opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{autoSave: true}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.path != "" {
		if tokens, err := loadTokens(s.path); err == nil {
			s.tokens = tokens
		}
	}
	return s
}

// TokenStoreFromEnv builds an in-memory store from AXIOM_ACCESS_TOKEN and
// AXIOM_REFRESH_TOKEN. The second return is false when either is unset.
func TokenStoreFromEnv() (*TokenStore, bool) {
	access := os.Getenv("AXIOM_ACCESS_TOKEN")
	refresh := os.Getenv("AXIOM_REFRESH_TOKEN")
	if access == "" || refresh == "" {
		return nil, false
	}

	s := NewTokenStore()
	s.tokens = &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    TokenExpiry(access),
	}
	return s, true
}

// Get returns a copy of the stored tokens, or nil when none are set.
func (s *TokenStore) Get() *Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return nil
	}
	t := *s.tokens
	return &t
}

// Set replaces the stored tokens. Tokens are only ever replaced whole, never
// partially updated. With auto-save enabled the new value is persisted before
// Set returns.
func (s *TokenStore) Set(tokens Tokens) error {
	s.mu.Lock()
	s.tokens = &tokens
	autoSave := s.autoSave && s.path != ""
	s.mu.Unlock()

	if autoSave {
		return s.Save()
	}
	return nil
}

// AccessToken returns the current access token or ErrTokenNotFound.
func (s *TokenStore) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return "", ErrTokenNotFound
	}
	return s.tokens.AccessToken, nil
}

// RefreshToken returns the current refresh token or ErrTokenNotFound.
func (s *TokenStore) RefreshToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return "", ErrTokenNotFound
	}
	return s.tokens.RefreshToken, nil
}

// IsExpired reports whether tokens are missing or inside the expiry buffer.
func (s *TokenStore) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens == nil || s.tokens.IsExpired()
}

// NeedsRefresh reports whether tokens are missing or inside the refresh
// buffer.
func (s *TokenStore) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens == nil || s.tokens.NeedsRefresh()
}

// Clear drops the stored tokens and removes the backing file if present.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.tokens = nil
	path := s.path
	s.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("auth: failed to remove token file: %w", err)
		}
	}
	return nil
}

// Save writes the current tokens to the configured path. The snapshot is
// taken under the lock; the file write happens outside it.
func (s *TokenStore) Save() error {
	s.mu.RLock()
	path := s.path
	var snapshot *Tokens
	if s.tokens != nil {
		t := *s.tokens
		snapshot = &t
	}
	s.mu.RUnlock()

	if path == "" || snapshot == nil {
		return nil
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: failed to encode tokens: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("auth: failed to write token file: %w", err)
	}
	return nil
}

func loadTokens(path string) (*Tokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}
