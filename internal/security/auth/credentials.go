package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

// DefaultCost is the bcrypt work factor used for new hashes
const DefaultCost = 12

// CredentialStore verifies passwords against the credential repository.
// It is read-only and does not log.
type CredentialStore struct {
	repo domain.CredentialRepository
	cost int

	// dummy is compared against when the identifier matches no account, so
	// unknown users cost the same bcrypt work as wrong passwords.
	dummyOnce sync.Once
	dummy     []byte
}

// NewCredentialStore creates a credential store hashing at cost. An out of
// range cost falls back to DefaultCost.
func NewCredentialStore(repo domain.CredentialRepository, cost int) *CredentialStore {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &CredentialStore{repo: repo, cost: cost}
}

// Verify looks up identifier as a username (exact) and then as an email
// (case-insensitive) and checks password. Errors: domain.ErrNotFound,
// domain.ErrAccountInactive, domain.ErrPasswordMismatch, or a storage error.
func (s *CredentialStore) Verify(ctx context.Context, identifier, password string) (*domain.Credential, error) {
	cred, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrPasswordMismatch
	}

	if cred.Status != domain.StatusActive {
		return nil, domain.ErrAccountInactive
	}

	return cred, nil
}

// Lookup finds a credential by id without checking a password
func (s *CredentialStore) Lookup(ctx context.Context, userID int64) (*domain.Credential, error) {
	return s.repo.GetByID(ctx, userID)
}

// ChangePassword verifies the current password and stores a hash of next
func (s *CredentialStore) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	cred, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(current)); err != nil {
		return domain.ErrPasswordMismatch
	}

	hash, err := s.Hash(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, userID, hash)
}

// Hash returns a bcrypt hash of password at the store's cost
func (s *CredentialStore) Hash(password string) (string, error) {
	return HashPassword(password, s.cost)
}

// HashPassword returns a bcrypt hash of password
func HashPassword(password string, cost int) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ValidatePassword enforces the minimum rules for a new password. bcrypt
// ignores input past 72 bytes, so longer passwords are refused.
func ValidatePassword(password string) error {
	switch {
	case len(password) < 8:
		return fmt.Errorf("%w: password must be at least 8 characters", domain.ErrInvalidInput)
	case len(password) > 72:
		return fmt.Errorf("%w: password must be at most 72 bytes", domain.ErrInvalidInput)
	}
	return nil
}

func (s *CredentialStore) lookup(ctx context.Context, identifier string) (*domain.Credential, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.ErrNotFound
	}

	cred, err := s.repo.GetByUsername(ctx, identifier)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return cred, err
	}
	if !strings.Contains(identifier, "@") {
		return nil, domain.ErrNotFound
	}
	return s.repo.GetByEmail(ctx, identifier)
}

func (s *CredentialStore) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("gatekeeper-timing-equalizer"), s.cost)
	})
	return s.dummy
}
