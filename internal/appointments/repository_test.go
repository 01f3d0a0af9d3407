package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func newAppt(patientID, doctorID string, day time.Time, slot string) *Appointment {
	return &Appointment{
		PatientID:     patientID,
		DoctorID:      doctorID,
		Date:          day,
		TimeSlot:      slot,
		Status:        StatusPending,
		Reason:        "checkup",
		PaymentStatus: PaymentPending,
		PaymentMethod: MethodCash,
	}
}

func TestInMemoryCreateRejectsHeldSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	first := newAppt("p1", "d1", monday, "10:00")
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEmpty(t, first.ID)

	assert.ErrorIs(t, repo.Create(ctx, newAppt("p2", "d1", monday, "10:00")), ErrSlotTaken)
	assert.NoError(t, repo.Create(ctx, newAppt("p2", "d2", monday, "10:00")), "other doctors are independent")
	assert.NoError(t, repo.Create(ctx, newAppt("p2", "d1", monday.AddDate(0, 0, 1), "10:00")))
}

func TestInMemoryReleasedSlotsCanBeRebooked(t *testing.T) {
	ctx := context.Background()
	for _, terminal := range []Status{StatusCancelled, StatusCompleted} {
		repo := NewInMemoryRepository()
		a := newAppt("p1", "d1", monday, "10:00")
		require.NoError(t, repo.Create(ctx, a))
		if terminal == StatusCompleted {
			_, err := repo.UpdateStatus(ctx, a.ID, StatusPending, StatusConfirmed)
			require.NoError(t, err)
			_, err = repo.UpdateStatus(ctx, a.ID, StatusConfirmed, StatusCompleted)
			require.NoError(t, err)
		} else {
			_, err := repo.UpdateStatus(ctx, a.ID, StatusPending, StatusCancelled)
			require.NoError(t, err)
		}

		taken, err := repo.TakenSlots(ctx, "d1", monday)
		require.NoError(t, err)
		assert.Empty(t, taken, "%s frees the slot", terminal)
		assert.NoError(t, repo.Create(ctx, newAppt("p2", "d1", monday, "10:00")))
	}
}

func TestInMemoryConcurrentBookingsOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	const attempts = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		clashes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, newAppt("p", "d1", monday, "09:00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotTaken):
				clashes++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, clashes)
}

func TestInMemoryUpdateStatusCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	a := newAppt("p1", "d1", monday, "10:00")
	require.NoError(t, repo.Create(ctx, a))

	updated, err := repo.UpdateStatus(ctx, a.ID, StatusPending, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	_, err = repo.UpdateStatus(ctx, a.ID, StatusPending, StatusCancelled)
	assert.ErrorIs(t, err, ErrStale)

	_, err = repo.UpdateStatus(ctx, "missing", StatusPending, StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryMarkPaid(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	a := newAppt("p1", "d1", monday, "10:00")
	require.NoError(t, repo.Create(ctx, a))

	_, err := repo.MarkPaid(ctx, a.ID, MethodCard)
	assert.ErrorIs(t, err, ErrStale, "pending appointments are not payable")

	_, err = repo.UpdateStatus(ctx, a.ID, StatusPending, StatusConfirmed)
	require.NoError(t, err)
	paid, err := repo.MarkPaid(ctx, a.ID, MethodCard)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, MethodCard, paid.PaymentMethod)

	_, err = repo.MarkPaid(ctx, a.ID, MethodCard)
	assert.ErrorIs(t, err, ErrStale)
}

func TestInMemoryDeleteIfStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	a := newAppt("p1", "d1", monday, "10:00")
	require.NoError(t, repo.Create(ctx, a))

	assert.ErrorIs(t, repo.DeleteIfStatus(ctx, a.ID, StatusConfirmed), ErrStale)
	require.NoError(t, repo.DeleteIfStatus(ctx, a.ID, StatusPending))
	assert.ErrorIs(t, repo.DeleteIfStatus(ctx, a.ID, StatusPending), ErrNotFound)
}

func TestInMemoryListOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	tick := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	late := newAppt("p1", "d1", monday, "14:00")
	early := newAppt("p1", "d1", monday, "09:30")
	nextDay := newAppt("p2", "d1", monday.AddDate(0, 0, 1), "09:00")
	otherDoc := newAppt("p1", "d2", monday, "09:00")
	for _, a := range []*Appointment{late, nextDay, early, otherDoc} {
		require.NoError(t, repo.Create(ctx, a))
	}
	_, err := repo.UpdateStatus(ctx, late.ID, StatusPending, StatusCancelled)
	require.NoError(t, err)

	all, err := repo.List(ctx, ListFilter{DoctorID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID, late.ID, nextDay.ID}, ids(all))

	day := monday
	onDay, err := repo.List(ctx, ListFilter{DoctorID: "d1", Date: &day, Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID}, ids(onDay))

	mine, err := repo.List(ctx, ListFilter{PatientID: "p1"})
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestInMemoryUpdateDetails(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	a := newAppt("p1", "d1", monday, "10:00")
	require.NoError(t, repo.Create(ctx, a))

	follow := monday.AddDate(0, 0, 14)
	a.Notes = "rest"
	a.FollowUpDate = &follow
	updated, err := repo.UpdateDetails(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "rest", updated.Notes)
	require.NotNil(t, updated.FollowUpDate)
	assert.True(t, follow.Equal(*updated.FollowUpDate))
	assert.Equal(t, StatusPending, updated.Status, "details never touch the status")
}

func ids(list []*Appointment) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}
