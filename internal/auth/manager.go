// Package auth manages the bearer token used to talk to the EVA backend.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTokenLifetime is how long a freshly minted token is trusted.
const DefaultTokenLifetime = time.Hour

// ErrNotAuthenticated is returned when no valid token is available and none can be minted.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenGenerator mints a new bearer token.
type TokenGenerator interface {
	GenerateToken(ctx context.Context) (token string, expiry time.Time, err error)
}

// Manager owns the current token, its expiry and its on-disk copy.
type Manager struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	generator TokenGenerator
	path      string
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithGenerator sets the source of fresh tokens.
func WithGenerator(g TokenGenerator) Option {
	return func(m *Manager) { m.generator = g }
}

// WithTokenFile persists the token to path.
func WithTokenFile(path string) Option {
	return func(m *Manager) { m.path = path }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Without a generator, only tokens set through
// SetToken or loaded from disk are available.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type tokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Load reads a persisted token. A missing file or an expired token is not an error.
func (m *Manager) Load() error {
	if m.path == "" {
		return nil
	}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if tf.Token == "" || !m.now().Before(tf.ExpiresAt) {
		m.logger.Debug("persisted token expired", zap.Time("expires_at", tf.ExpiresAt))
		return nil
	}
	m.token = tf.Token
	m.expiresAt = tf.ExpiresAt
	return nil
}

// Authenticate mints a fresh token and stores it.
func (m *Manager) Authenticate(ctx context.Context) error {
	if m.generator == nil {
		return fmt.Errorf("%w: no token generator configured", ErrNotAuthenticated)
	}

	token, expiry, err := m.generator.GenerateToken(ctx)
	if err != nil {
		m.logger.Error("failed to generate token", zap.Error(err))
		return fmt.Errorf("failed to generate token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("%w: generator returned an empty token", ErrNotAuthenticated)
	}
	if expiry.IsZero() {
		expiry = m.now().Add(DefaultTokenLifetime)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = expiry
	m.logger.Info("authenticated", zap.Time("expires_at", expiry))
	return m.persistLocked()
}

// SetToken installs a token that expires after expiresIn (DefaultTokenLifetime when zero).
func (m *Manager) SetToken(token string, expiresIn time.Duration) error {
	if expiresIn <= 0 {
		expiresIn = DefaultTokenLifetime
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = m.now().Add(expiresIn)
	return m.persistLocked()
}

// IsAuthenticated reports whether a token is present and not expired.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

// ExpiresAt returns the current token expiry; zero when there is no token.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return time.Time{}
	}
	return m.expiresAt
}

// Token returns a valid token, authenticating first if needed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked() {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	if err := m.Authenticate(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// EnsureAuthenticated authenticates unless a valid token is already held.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	_, err := m.Token(ctx)
	return err
}

// Clear forgets the token and removes its persisted copy.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
	if m.path == "" {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (m *Manager) validLocked() bool {
	return m.token != "" && m.now().Before(m.expiresAt)
}

func (m *Manager) persistLocked() error {
	if m.path == "" {
		return nil
	}
	data, err := json.Marshal(tokenFile{Token: m.token, ExpiresAt: m.expiresAt})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
