package user

import (
	"context"
	"sync"
	"time"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/sentinel"
)

// InMemoryStore is the development default and the primary test double.
// Records are copied on the way in and out so callers never alias store
// state across goroutines.
type InMemoryStore struct {
	mu     sync.RWMutex
	users  map[id.UserID]*models.User
	writes int

	// expiryFn recomputes derived plan expiry on save. The production
	// implementation lives with the user aggregate's own maintenance
	// logic; stores just trigger it.
	expiryFn func(*models.User)
}

type Option func(*InMemoryStore)

// WithExpiryRecompute installs the derived-field recompute hook run on
// every save.
func WithExpiryRecompute(fn func(*models.User)) Option {
	return func(s *InMemoryStore) { s.expiryFn = fn }
}

func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{users: make(map[id.UserID]*models.User)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.UserStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(u), nil
}

func (s *InMemoryStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	cp := clone(user)
	cp.UpdatedAt = time.Now()
	if s.expiryFn != nil {
		s.expiryFn(cp)
	}
	s.users[cp.ID] = cp
	return nil
}

func (s *InMemoryStore) ListIDs(_ context.Context, q ports.UserQuery) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]id.UserID, 0, len(s.users))
	for uid, u := range s.users {
		if q.PaidOnly && !u.Plan.IsPaid() {
			continue
		}
		if q.RequireVerifiedEmail && !u.HasVerifiedEmail {
			continue
		}
		if q.ExcludeBanned && u.IsBanned {
			continue
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// Writes reports the number of Save calls so tests can assert idempotence
// (a second run over unchanged data must not write).
func (s *InMemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Snapshot returns the stored record without the copy-on-read guarantees of
// FindByID; test helper.
func (s *InMemoryStore) Snapshot(userID id.UserID) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

func clone(u *models.User) *models.User {
	cp := *u
	if u.PlanExpiresAt != nil {
		t := *u.PlanExpiresAt
		cp.PlanExpiresAt = &t
	}
	return &cp
}
