package appointments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no appointment has the id.
	ErrNotFound = errors.New("appointments: not found")

	// ErrSlotTaken is returned by Create when the doctor already has a pending
	// or confirmed appointment in that slot.
	ErrSlotTaken = errors.New("appointments: slot already booked")

	// ErrStale is returned by the conditional writes when the row no longer
	// holds the expected status.
	ErrStale = errors.New("appointments: appointment changed concurrently")
)

// Repository defines appointment storage. Writes that depend on the current
// state are conditional so concurrent requests cannot both succeed.
type Repository interface {
	// Create inserts a unless the slot is held, assigning ID and timestamps.
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id string) (*Appointment, error)
	// List returns matches ordered by date, time slot, then creation time.
	List(ctx context.Context, filter ListFilter) ([]*Appointment, error)
	// TakenSlots returns the slots held by pending or confirmed appointments.
	TakenSlots(ctx context.Context, doctorID string, day time.Time) ([]string, error)
	// UpdateStatus sets to only while the status is still from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Appointment, error)
	// MarkPaid records payment only while payment is still pending and the
	// appointment is confirmed or completed.
	MarkPaid(ctx context.Context, id string, method PaymentMethod) (*Appointment, error)
	UpdateDetails(ctx context.Context, a *Appointment) (*Appointment, error)
	// DeleteIfStatus removes the appointment only while it has status.
	DeleteIfStatus(ctx context.Context, id string, status Status) error
}

// InMemoryRepository keeps appointments in a map. Used when DATABASE_URL is
// unset and in tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Appointment
	now   func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		items: make(map[string]*Appointment),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryRepository) slotHeldLocked(doctorID string, day time.Time, slot string) bool {
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.Date.Equal(day) && a.TimeSlot == slot && a.Status.HoldsSlot() {
			return true
		}
	}
	return false
}

// Create checks the slot and inserts under one lock.
func (r *InMemoryRepository) Create(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Status.HoldsSlot() && r.slotHeldLocked(a.DoctorID, a.Date, a.TimeSlot) {
		return ErrSlotTaken
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.items[a.ID] = a.clone()
	return nil
}

// Get returns the appointment with id.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

// List returns matching appointments in calendar order.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Appointment, error) {
	r.mu.RLock()
	out := make([]*Appointment, 0)
	for _, a := range r.items {
		if filter.matches(a) {
			out = append(out, a.clone())
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

// TakenSlots returns the held slots for doctorID on day.
func (r *InMemoryRepository) TakenSlots(ctx context.Context, doctorID string, day time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0)
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.Date.Equal(day) && a.Status.HoldsSlot() {
			out = append(out, a.TimeSlot)
		}
	}
	return out, nil
}

// UpdateStatus compares and swaps the status.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id string, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, ErrStale
	}
	a.Status = to
	a.UpdatedAt = r.now()
	return a.clone(), nil
}

// MarkPaid compares and swaps the payment status.
func (r *InMemoryRepository) MarkPaid(ctx context.Context, id string, method PaymentMethod) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.PaymentStatus != PaymentPending || !payable(a.Status) {
		return nil, ErrStale
	}
	a.PaymentStatus = PaymentPaid
	a.PaymentMethod = method
	a.UpdatedAt = r.now()
	return a.clone(), nil
}

// UpdateDetails writes the doctor-authored fields of a.
func (r *InMemoryRepository) UpdateDetails(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	stored.Notes = a.Notes
	stored.Prescription = a.Prescription
	stored.Diagnosis = a.Diagnosis
	stored.FollowUpDate = nil
	if a.FollowUpDate != nil {
		d := *a.FollowUpDate
		stored.FollowUpDate = &d
	}
	stored.UpdatedAt = r.now()
	return stored.clone(), nil
}

// DeleteIfStatus removes id while it still has status.
func (r *InMemoryRepository) DeleteIfStatus(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != status {
		return ErrStale
	}
	delete(r.items, id)
	return nil
}
