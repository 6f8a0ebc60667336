// Package auth persists the service credential and turns it into the
// Authorization header sent with every upstream request.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/antoniostano/vistaar/internal/reliability"
)

var ErrAuthRequired = reliability.Sentinel(reliability.KindAuth, "authentication required")

// BypassCredential is sent as the Authorization header when auth is
// bypassed and no token is stored.
const BypassCredential = "NA"

// DefaultTokenTTL bounds how long a stored token is used.
const DefaultTokenTTL = 365 * 24 * time.Hour

// StoredToken is the on-disk token record. Expiry is milliseconds since epoch.
type StoredToken struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"`
}

type Config struct {
	// TokenFile persists the token; empty keeps it in memory only.
	TokenFile     string
	PublicKeyFile string
	Bypass        bool
	TTL           time.Duration
}

// Store holds the current token. It is safe for concurrent use.
type Store struct {
	path     string
	bypass   bool
	ttl      time.Duration
	verifier *Verifier
	now      func() time.Time

	mu     sync.Mutex
	cached *StoredToken
}

func NewStore(cfg Config) (*Store, error) {
	s := &Store{
		path:   strings.TrimSpace(cfg.TokenFile),
		bypass: cfg.Bypass,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if keyFile := strings.TrimSpace(cfg.PublicKeyFile); keyFile != "" {
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		v, err := NewVerifier(pem)
		if err != nil {
			return nil, err
		}
		s.verifier = v
	}
	return s, nil
}

// Bypassed reports whether requests may proceed without a token.
func (s *Store) Bypassed() bool { return s.bypass }

// Credential returns the Authorization header value. Without a valid token
// it returns ErrAuthRequired, or BypassCredential when bypass is enabled.
func (s *Store) Credential() (string, error) {
	token, err := s.Token()
	if err == nil {
		return "Bearer " + token, nil
	}
	if errors.Is(err, ErrAuthRequired) && s.bypass {
		return BypassCredential, nil
	}
	return "", err
}

// Token returns the stored token if it has not expired. Expired tokens are
// removed.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached == nil {
		stored, err := s.load()
		if err != nil {
			return "", err
		}
		s.cached = stored
	}
	if s.cached == nil || s.cached.Token == "" {
		return "", ErrAuthRequired
	}
	if s.expired(*s.cached) {
		s.cached = nil
		s.remove()
		return "", fmt.Errorf("%w: token expired", ErrAuthRequired)
	}
	return s.cached.Token, nil
}

// Save validates token (when a public key is configured) and stores it.
func (s *Store) Save(token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, fmt.Errorf("%w: empty token", ErrAuthRequired)
	}

	var user User
	if s.verifier != nil {
		claims, err := s.verifier.Verify(token)
		if err != nil {
			return User{}, err
		}
		user = claims.User()
	} else if claims, err := parseUnverified(token); err == nil {
		user = claims.User()
	}

	stored := StoredToken{
		Token:  token,
		Expiry: s.now().Add(s.ttl).UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(stored); err != nil {
		return User{}, err
	}
	s.cached = &stored
	return user, nil
}

// User returns the identity carried by the stored token.
func (s *Store) User() (User, error) {
	token, err := s.Token()
	if err != nil {
		if s.bypass {
			return BypassUser, nil
		}
		return User{}, err
	}
	claims, err := parseUnverified(token)
	if err != nil {
		return User{Authenticated: true, Name: anonymousName}, nil
	}
	return claims.User(), nil
}

// Logout forgets the token.
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.remove()
}

func (s *Store) expired(t StoredToken) bool {
	now := s.now()
	if t.Expiry > 0 && now.UnixMilli() > t.Expiry {
		return true
	}
	// A JWT's own exp claim also bounds validity.
	if claims, err := parseUnverified(t.Token); err == nil && claims.ExpiresAt != nil {
		return now.After(claims.ExpiresAt.Time)
	}
	return false
}

func (s *Store) load() (*StoredToken, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var stored StoredToken
	if err := json.Unmarshal(data, &stored); err != nil {
		// A corrupt record is treated like a missing one.
		s.remove()
		return nil, nil
	}
	return &stored, nil
}

func (s *Store) write(t StoredToken) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (s *Store) remove() {
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}

func parseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
