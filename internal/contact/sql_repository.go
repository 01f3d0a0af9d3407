package contact

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLRepository stores messages through database/sql. Production opens the
// handle with the lib/pq driver.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository wraps db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	if db == nil {
		panic("contact: sql db required")
	}
	return &SQLRepository{db: db}
}

// Create inserts a message.
func (r *SQLRepository) Create(ctx context.Context, req *CreateRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := `
		INSERT INTO contact_messages (id, name, email, message)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, id, req.Name, req.Email, req.Message).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("contact: insert failed: %w", err)
	}
	return &Message{
		ID:        id,
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		CreatedAt: createdAt,
	}, nil
}

// List returns every message, newest first.
func (r *SQLRepository) List(ctx context.Context) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, message, created_at
		FROM contact_messages
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("contact: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("contact: scan failed: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact: list failed: %w", err)
	}
	return out, nil
}
