package users

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("users: not found")

	// ErrEmailTaken is returned when an email already belongs to another account.
	ErrEmailTaken = errors.New("users: email already registered")
)

// Repository defines account storage.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetMany(ctx context.Context, ids []string) (map[string]*User, error)
	Update(ctx context.Context, u *User) error
	ListByRole(ctx context.Context, role Role) ([]*User, error)
	ListDoctors(ctx context.Context, filter DoctorFilter) ([]*User, error)
	DeleteByRole(ctx context.Context, id string, role Role) (bool, error)
}

// InMemoryRepository keeps accounts in a map. Used when DATABASE_URL is unset and in tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[string]*User)}
}

func clone(u *User) *User {
	cp := *u
	if u.DateOfBirth != nil {
		dob := *u.DateOfBirth
		cp.DateOfBirth = &dob
	}
	return &cp
}

func (r *InMemoryRepository) emailTakenLocked(email, exceptID string) bool {
	for _, u := range r.users {
		if u.ID != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

// Create stores u, assigning an ID when empty.
func (r *InMemoryRepository) Create(ctx context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTakenLocked(u.Email, "") {
		return ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	r.users[u.ID] = clone(u)
	return nil
}

// GetByID returns the account with id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return clone(u), nil
}

// GetByEmail returns the account registered under email.
func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, ErrUserNotFound
}

// GetMany returns the accounts found for ids, keyed by id. Missing ids are skipped.
func (r *InMemoryRepository) GetMany(ctx context.Context, ids []string) (map[string]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = clone(u)
		}
	}
	return out, nil
}

// Update replaces the stored account.
func (r *InMemoryRepository) Update(ctx context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	if r.emailTakenLocked(u.Email, u.ID) {
		return ErrEmailTaken
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[u.ID] = clone(u)
	return nil
}

// ListByRole returns accounts with role, newest first.
func (r *InMemoryRepository) ListByRole(ctx context.Context, role Role) ([]*User, error) {
	r.mu.RLock()
	out := make([]*User, 0)
	for _, u := range r.users {
		if u.Role == role {
			out = append(out, clone(u))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListDoctors returns doctors matching filter, ordered by name.
func (r *InMemoryRepository) ListDoctors(ctx context.Context, filter DoctorFilter) ([]*User, error) {
	needle := strings.ToLower(strings.TrimSpace(filter.Specialization))

	r.mu.RLock()
	out := make([]*User, 0)
	for _, u := range r.users {
		if u.Role != RoleDoctor {
			continue
		}
		if filter.AvailableOnly && !u.IsAvailable {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(u.Specialization), needle) {
			continue
		}
		out = append(out, clone(u))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteByRole removes id only when it has role, reporting whether a row went away.
func (r *InMemoryRepository) DeleteByRole(ctx context.Context, id string, role Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok || u.Role != role {
		return false, nil
	}
	delete(r.users, id)
	return true, nil
}
