package contact

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is append-only message storage.
type Repository interface {
	Create(ctx context.Context, req *CreateRequest) (*Message, error)
	List(ctx context.Context) ([]*Message, error)
}

// InMemoryRepository keeps messages in a slice. Used when DATABASE_URL is unset.
type InMemoryRepository struct {
	mu       sync.RWMutex
	messages []*Message
	now      func() time.Time
}

// NewInMemoryRepository creates an empty inbox.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: func() time.Time { return time.Now().UTC() }}
}

// Create validates and appends a message.
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	msg := &Message{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()

	cp := *msg
	return &cp, nil
}

// List returns every message, newest first.
func (r *InMemoryRepository) List(ctx context.Context) ([]*Message, error) {
	r.mu.RLock()
	out := make([]*Message, 0, len(r.messages))
	for _, m := range r.messages {
		cp := *m
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
