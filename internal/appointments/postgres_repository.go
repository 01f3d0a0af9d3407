package appointments

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

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores appointments in the appointments table. The
// one-active-booking-per-slot rule is enforced by the partial unique index
// appointments_active_slot_idx.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("appointments: querier required")
	}
	return &PostgresRepository{db: q}
}

const appointmentColumns = `id, patient_id, doctor_id, date, time_slot, status, reason, symptoms,
	notes, prescription, diagnosis, follow_up_date, consultation_fee::float8, payment_status,
	payment_method, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                             Appointment
		status, paymentStatus, method string
		followUp                      pgtype.Date
	)
	if err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.TimeSlot,
		&status,
		&a.Reason,
		&a.Symptoms,
		&a.Notes,
		&a.Prescription,
		&a.Diagnosis,
		&followUp,
		&a.ConsultationFee,
		&paymentStatus,
		&method,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(paymentStatus)
	a.PaymentMethod = PaymentMethod(method)
	a.Date = a.Date.UTC()
	if followUp.Valid {
		d := followUp.Time
		a.FollowUpDate = &d
	}
	return &a, nil
}

func toPGDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

// Create inserts a. A held slot makes the insert a no-op, reported as ErrSlotTaken.
func (r *PostgresRepository) Create(ctx context.Context, a *Appointment) error {
	patientID, err := uuid.Parse(a.PatientID)
	if err != nil {
		return fmt.Errorf("appointments: invalid patient id: %w", err)
	}
	doctorID, err := uuid.Parse(a.DoctorID)
	if err != nil {
		return fmt.Errorf("appointments: invalid doctor id: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time_slot, status, reason, symptoms,
			consultation_fee, payment_status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (doctor_id, date, time_slot) WHERE status IN ('pending', 'confirmed') DO NOTHING
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	err = r.db.QueryRow(ctx, query,
		id,
		patientID,
		doctorID,
		a.Date,
		a.TimeSlot,
		string(a.Status),
		a.Reason,
		a.Symptoms,
		a.ConsultationFee,
		string(a.PaymentStatus),
		string(a.PaymentMethod),
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotTaken
		}
		return fmt.Errorf("appointments: insert failed: %w", err)
	}
	a.ID = id.String()
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return nil
}

// Get fetches one appointment.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	return a, nil
}

// List returns matching appointments in calendar order.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Appointment, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.PatientID != "" {
		uid, err := uuid.Parse(filter.PatientID)
		if err != nil {
			return []*Appointment{}, nil
		}
		add("patient_id = $%d", uid)
	}
	if filter.DoctorID != "" {
		uid, err := uuid.Parse(filter.DoctorID)
		if err != nil {
			return []*Appointment{}, nil
		}
		add("doctor_id = $%d", uid)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Date != nil {
		add("date = $%d", *filter.Date)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY date ASC, time_slot ASC, created_at ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan failed: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: iterate failed: %w", err)
	}
	return out, nil
}

// TakenSlots returns the slots held for doctorID on day.
func (r *PostgresRepository) TakenSlots(ctx context.Context, doctorID string, day time.Time) ([]string, error) {
	out := make([]string, 0)
	uid, err := uuid.Parse(doctorID)
	if err != nil {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT time_slot FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status IN ('pending', 'confirmed')
	`, uid, day)
	if err != nil {
		return nil, fmt.Errorf("appointments: taken slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("appointments: scan slot: %w", err)
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: iterate slots: %w", err)
	}
	return out, nil
}

// UpdateStatus sets the status only while it still equals from.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to Status) (*Appointment, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	a, err := scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns, uid, string(from), string(to)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missingOrStale(ctx, uid)
		}
		return nil, fmt.Errorf("appointments: update status: %w", err)
	}
	return a, nil
}

// MarkPaid records payment while payment is pending and the visit is confirmed or completed.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id string, method PaymentMethod) (*Appointment, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	a, err := scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments SET payment_status = 'paid', payment_method = $2, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending' AND status IN ('confirmed', 'completed')
		RETURNING `+appointmentColumns, uid, string(method)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missingOrStale(ctx, uid)
		}
		return nil, fmt.Errorf("appointments: mark paid: %w", err)
	}
	return a, nil
}

// UpdateDetails writes the doctor-authored fields of a.
func (r *PostgresRepository) UpdateDetails(ctx context.Context, a *Appointment) (*Appointment, error) {
	uid, err := uuid.Parse(a.ID)
	if err != nil {
		return nil, ErrNotFound
	}
	updated, err := scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments SET notes = $2, prescription = $3, diagnosis = $4, follow_up_date = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns, uid, a.Notes, a.Prescription, a.Diagnosis, toPGDate(a.FollowUpDate)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: update details: %w", err)
	}
	return updated, nil
}

// DeleteIfStatus removes id while it still has status.
func (r *PostgresRepository) DeleteIfStatus(ctx context.Context, id string, status Status) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND status = $2`, uid, string(status))
	if err != nil {
		return fmt.Errorf("appointments: delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, uid)
	}
	return nil
}

// missingOrStale explains why a conditional write matched no row.
func (r *PostgresRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists int
	err := r.db.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("appointments: recheck failed: %w", err)
	}
	return ErrStale
}
