package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/pkg/cache"
)

// MemorySessionRepository keeps sessions in process memory. It is used for
// single-instance deployments and tests.
type MemorySessionRepository struct {
	items *cache.Cache[domain.Session]
}

// NewMemorySessionRepository creates an empty store reading time from now
func NewMemorySessionRepository(now func() time.Time) *MemorySessionRepository {
	return &MemorySessionRepository{items: cache.NewWithClock[domain.Session](now)}
}

func (r *MemorySessionRepository) Create(_ context.Context, s *domain.Session) error {
	if !r.items.Add(s.ID, *s, s.ExpiresAt.Add(sessionRetention)) {
		return fmt.Errorf("session id collision")
	}
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	s, ok := r.items.Get(id)
	if !ok {
		return nil, domain.ErrNoSession
	}
	return &s, nil
}

func (r *MemorySessionRepository) Rotate(_ context.Context, oldID string, next *domain.Session) error {
	if !r.items.Rename(oldID, next.ID, *next, next.ExpiresAt.Add(sessionRetention)) {
		if _, ok := r.items.Get(oldID); ok {
			return fmt.Errorf("session id collision")
		}
		return domain.ErrNoSession
	}
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.items.Delete(id)
	return nil
}

// Sweep drops sessions past their deadline and retention
func (r *MemorySessionRepository) Sweep(context.Context) (int, error) {
	return r.items.Sweep(), nil
}

// Len counts stored sessions
func (r *MemorySessionRepository) Len() int {
	return r.items.Len()
}
