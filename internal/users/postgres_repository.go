package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores accounts in the users table.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("users: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("users: querier required")
	}
	return &PostgresRepository{db: q}
}

const userColumns = `id, name, email, password_hash, role, phone, date_of_birth, gender, address,
	specialization, experience, education, license_number, consultation_fee::float8, is_available,
	profile_image, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		role string
		dob  pgtype.Date
	)
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.Phone,
		&dob,
		&u.Gender,
		&u.Address,
		&u.Specialization,
		&u.Experience,
		&u.Education,
		&u.LicenseNumber,
		&u.ConsultationFee,
		&u.IsAvailable,
		&u.ProfileImage,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	if dob.Valid {
		t := dob.Time
		u.DateOfBirth = &t
	}
	return &u, nil
}

func toPGDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Create inserts u. ID and timestamps are assigned here.
func (r *PostgresRepository) Create(ctx context.Context, u *User) error {
	id := uuid.New()
	query := `
		INSERT INTO users (id, name, email, password_hash, role, phone, date_of_birth, gender, address,
			specialization, experience, education, license_number, consultation_fee, is_available, profile_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	err := r.db.QueryRow(ctx, query,
		id,
		u.Name,
		u.Email,
		u.PasswordHash,
		string(u.Role),
		u.Phone,
		toPGDate(u.DateOfBirth),
		u.Gender,
		u.Address,
		u.Specialization,
		u.Experience,
		u.Education,
		u.LicenseNumber,
		u.ConsultationFee,
		u.IsAvailable,
		u.ProfileImage,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("users: insert failed: %w", err)
	}
	u.ID = id.String()
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
	return nil
}

// GetByID fetches one account.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("users: select by id: %w", err)
	}
	return u, nil
}

// GetByEmail fetches the account registered under email.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("users: select by email: %w", err)
	}
	return u, nil
}

// GetMany fetches several accounts in one round trip.
func (r *PostgresRepository) GetMany(ctx context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(ids))
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if uid, err := uuid.Parse(id); err == nil {
			parsed = append(parsed, uid)
		}
	}
	if len(parsed) == 0 {
		return out, nil
	}
	list, err := r.list(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, parsed)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		out[u.ID] = u
	}
	return out, nil
}

// Update writes every mutable column of u.
func (r *PostgresRepository) Update(ctx context.Context, u *User) error {
	uid, err := uuid.Parse(u.ID)
	if err != nil {
		return ErrUserNotFound
	}
	query := `
		UPDATE users SET name = $2, email = $3, phone = $4, date_of_birth = $5, gender = $6, address = $7,
			specialization = $8, experience = $9, education = $10, license_number = $11,
			consultation_fee = $12, is_available = $13, profile_image = $14, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	var updatedAt time.Time
	err = r.db.QueryRow(ctx, query,
		uid,
		u.Name,
		u.Email,
		u.Phone,
		toPGDate(u.DateOfBirth),
		u.Gender,
		u.Address,
		u.Specialization,
		u.Experience,
		u.Education,
		u.LicenseNumber,
		u.ConsultationFee,
		u.IsAvailable,
		u.ProfileImage,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("users: update failed: %w", err)
	}
	u.UpdatedAt = updatedAt
	return nil
}

// ListByRole returns accounts with role, newest first.
func (r *PostgresRepository) ListByRole(ctx context.Context, role Role) ([]*User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at DESC`, string(role))
}

// ListDoctors returns the public directory, ordered by name.
func (r *PostgresRepository) ListDoctors(ctx context.Context, filter DoctorFilter) ([]*User, error) {
	var (
		clauses = []string{"role = 'doctor'"}
		args    []any
	)
	if s := strings.TrimSpace(filter.Specialization); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		clauses = append(clauses, fmt.Sprintf("specialization ILIKE $%d", len(args)))
	}
	if filter.AvailableOnly {
		clauses = append(clauses, "is_available")
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY name ASC`
	return r.list(ctx, query, args...)
}

// DeleteByRole removes id only when its role matches.
func (r *PostgresRepository) DeleteByRole(ctx context.Context, id string, role Role) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1 AND role = $2`, uid, string(role))
	if err != nil {
		return false, fmt.Errorf("users: delete failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("users: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan failed: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: iterate failed: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
