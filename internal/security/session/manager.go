package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
)

// Defaults for session lifetimes
const (
	DefaultLifetime       = 1800 * time.Second
	DefaultRotateInterval = 300 * time.Second

	idBytes = 32
)

// Manager issues, validates and destroys server-side sessions. Expiry is
// absolute: rotation changes the id but never the deadline.
type Manager struct {
	repo           domain.SessionRepository
	lifetime       time.Duration
	rotateInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time
	newID          func() (string, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithLifetime sets the absolute session lifetime
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithRotateInterval sets how old an id may get before it is replaced
func WithRotateInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.rotateInterval = d
		}
	}
}

// NewManager creates a session manager over repo
func NewManager(repo domain.SessionRepository, opts ...Option) *Manager {
	m := &Manager{
		repo:           repo,
		lifetime:       DefaultLifetime,
		rotateInterval: DefaultRotateInterval,
		logger:         slog.Default(),
		now:            time.Now,
		newID:          NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifetime returns the configured absolute lifetime
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Create starts a session for userID. The session is stored before its id
// is returned.
func (m *Manager) Create(ctx context.Context, userID int64, role domain.Role) (*domain.Session, error) {
	id, err := m.newID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	s := &domain.Session{
		ID:                id,
		UserID:            userID,
		Role:              role,
		CreatedAt:         now,
		LastRegeneratedAt: now,
		ExpiresAt:         now.Add(m.lifetime),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.ObserveSession("created")
	return s, nil
}

// Lookup resolves id to a live session without rotating it. Expired
// sessions are removed.
func (m *Manager) Lookup(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrNoSession
	}

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.ExpiredAt(m.now()) {
		if err := m.repo.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete expired session", slog.String("error", err.Error()))
		}
		metrics.ObserveSession("expired")
		return nil, domain.ErrSessionExpired
	}
	return s, nil
}

// Validate resolves id to a live session. An expired session is removed and
// reported as domain.ErrSessionExpired. A session older than the rotate
// interval is moved to a fresh id; the result then has Rotated set and
// PreviousID holding the old id.
func (m *Manager) Validate(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if now.Sub(s.LastRegeneratedAt) <= m.rotateInterval {
		return s, nil
	}

	return m.rotate(ctx, s, now)
}

func (m *Manager) rotate(ctx context.Context, s *domain.Session, now time.Time) (*domain.Session, error) {
	newID, err := m.newID()
	if err != nil {
		return nil, err
	}
	next := &domain.Session{
		ID:                newID,
		UserID:            s.UserID,
		Role:              s.Role,
		CreatedAt:         s.CreatedAt,
		LastRegeneratedAt: now,
		ExpiresAt:         s.ExpiresAt,
	}

	if err := m.repo.Rotate(ctx, s.ID, next); err != nil {
		if errors.Is(err, domain.ErrNoSession) {
			m.logger.Debug("lost session rotation race", slog.Int64("user_id", s.UserID))
		}
		return nil, err
	}

	next.Rotated = true
	next.PreviousID = s.ID
	metrics.ObserveSession("rotated")
	return next, nil
}

// Destroy removes the session. Unknown ids are not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	metrics.ObserveSession("destroyed")
	return nil
}

// NewID returns 256 bits from crypto/rand as 64 lowercase hex characters
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
