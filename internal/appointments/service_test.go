package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/slots"
	"github.com/wolfman30/doctor-booking/internal/users"
)

type fixture struct {
	svc      *Service
	repo     *InMemoryRepository
	accounts *users.InMemoryRepository
	cache    *memoryCache
	doctor   auth.Principal
	patient  auth.Principal
	patient2 auth.Principal
	admin    auth.Principal
}

// today is the Monday before the booking scenarios.
var today = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	accounts := users.NewInMemoryRepository()
	mk := func(name string, role users.Role, fee float64) auth.Principal {
		u := &users.User{Name: name, Email: name + "@example.com", Role: role, Phone: "555-" + name}
		if role == users.RoleDoctor {
			u.Specialization = "Cardiology"
			u.ConsultationFee = fee
			u.IsAvailable = true
		}
		require.NoError(t, accounts.Create(ctx, u))
		return auth.Principal{UserID: u.ID, Role: role}
	}
	f := &fixture{
		repo:     NewInMemoryRepository(),
		accounts: accounts,
		cache:    newMemoryCache(),
		doctor:   mk("rao", users.RoleDoctor, 500),
		patient:  mk("ann", users.RolePatient, 0),
		patient2: mk("bo", users.RolePatient, 0),
		admin:    mk("root", users.RoleAdmin, 0),
	}
	f.svc = NewService(f.repo, accounts, nil,
		WithCache(f.cache),
		WithClock(func() time.Time { return today }),
	)
	return f
}

func (f *fixture) book(t *testing.T, patient auth.Principal, date, slot string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), patient.UserID, BookRequest{
		DoctorID: f.doctor.UserID, Date: date, TimeSlot: slot, Reason: "checkup",
	})
	require.NoError(t, err)
	return appt
}

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string][]string
	generations map[string]int64
	invalidated int
	failReads   bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]string{}, generations: map[string]int64{}}
}

func cacheKey(doctorID string, day time.Time) string {
	return doctorID + "|" + day.Format(slots.DateLayout)
}

func (c *memoryCache) Get(_ context.Context, doctorID string, day time.Time) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.entries[cacheKey(doctorID, day)]
	return v, ok, nil
}

func (c *memoryCache) Generation(_ context.Context, doctorID string, day time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[cacheKey(doctorID, day)], nil
}

func (c *memoryCache) Set(_ context.Context, doctorID string, day time.Time, gen int64, free []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(doctorID, day)
	if c.generations[key] != gen {
		return false, nil
	}
	c.entries[key] = free
	return true, nil
}

func (c *memoryCache) Invalidate(_ context.Context, doctorID string, day time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(doctorID, day)
	delete(c.entries, key)
	c.generations[key]++
	c.invalidated++
	return nil
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, f.patient, "2024-06-10", "10:00")
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, PaymentPending, appt.PaymentStatus)
	assert.Equal(t, MethodCash, appt.PaymentMethod)
	assert.Equal(t, 500.0, appt.ConsultationFee)
	assert.True(t, monday.Equal(appt.Date))
	require.NotNil(t, appt.Doctor)
	assert.Equal(t, "Cardiology", appt.Doctor.Specialization)
	require.NotNil(t, appt.Patient)
	assert.Equal(t, "ann@example.com", appt.Patient.Email)

	_, err := f.svc.Book(ctx, f.patient2.UserID, BookRequest{
		DoctorID: f.doctor.UserID, Date: "2024-06-10", TimeSlot: "10:00", Reason: "checkup",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "This time slot is already booked", err.Error())

	confirmed, err := f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.svc.AdminUpdateStatus(ctx, f.admin, appt.ID, StatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAdminDeleteOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.book(t, f.patient, "2024-06-10", "10:00")
	_, err := f.svc.UpdateStatus(ctx, f.doctor, confirmed.ID, StatusConfirmed)
	require.NoError(t, err)
	pending := f.book(t, f.patient, "2024-06-10", "11:00")

	err = f.svc.AdminDelete(ctx, f.admin, confirmed.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "Current status is 'confirmed'")

	require.NoError(t, f.svc.AdminDelete(ctx, f.admin, pending.ID))
	_, err = f.repo.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.svc.AdminDelete(ctx, f.patient, confirmed.ID), apperr.ErrPermission)
	assert.ErrorIs(t, f.svc.AdminDelete(ctx, f.admin, "missing"), apperr.ErrNotFound)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := func(mut func(*BookRequest)) BookRequest {
		r := BookRequest{DoctorID: f.doctor.UserID, Date: "2024-06-10", TimeSlot: "10:00", Reason: "checkup"}
		mut(&r)
		return r
	}

	tests := []struct {
		name string
		req  BookRequest
		kind error
		msg  string
	}{
		{"missing reason", req(func(r *BookRequest) { r.Reason = "  " }), apperr.ErrValidation, "All fields are required"},
		{"missing doctor", req(func(r *BookRequest) { r.DoctorID = "" }), apperr.ErrValidation, "All fields are required"},
		{"bad date", req(func(r *BookRequest) { r.Date = "10/06/2024" }), apperr.ErrValidation, "Invalid date"},
		{"off-catalog slot", req(func(r *BookRequest) { r.TimeSlot = "13:00" }), apperr.ErrValidation, "Invalid time slot"},
		{"unknown doctor", req(func(r *BookRequest) { r.DoctorID = "ghost" }), apperr.ErrNotFound, "Doctor not found or not available"},
		{"patient as doctor", req(func(r *BookRequest) { r.DoctorID = f.patient2.UserID }), apperr.ErrNotFound, "Doctor not found or not available"},
		{"past date", req(func(r *BookRequest) { r.Date = "2024-06-02" }), apperr.ErrValidation, "Cannot book appointments in the past"},
		{"weekend", req(func(r *BookRequest) { r.Date = "2024-06-08" }), apperr.ErrValidation, "The clinic is closed on weekends"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, f.patient.UserID, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

func TestBookTodayAllowed(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, f.patient, "2024-06-03", "16:00")
	assert.True(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC).Equal(appt.Date))
}

func TestBookUsesClinicTimezoneForToday(t *testing.T) {
	f := newFixture(t)
	loc := time.FixedZone("UTC+10", 10*3600)
	// 2024-06-03 20:00 UTC is already 2024-06-04 in the clinic.
	svc := NewService(f.repo, f.accounts, nil,
		WithLocation(loc),
		WithClock(func() time.Time { return time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC) }),
	)
	_, err := svc.Book(context.Background(), f.patient.UserID, BookRequest{
		DoctorID: f.doctor.UserID, Date: "2024-06-03", TimeSlot: "10:00", Reason: "checkup",
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBookUnavailableDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.accounts.GetByID(ctx, f.doctor.UserID)
	require.NoError(t, err)
	doc.IsAvailable = false
	require.NoError(t, f.accounts.Update(ctx, doc))

	_, err = f.svc.Book(ctx, f.patient.UserID, BookRequest{DoctorID: doc.ID, Date: "2024-06-10", TimeSlot: "10:00", Reason: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFeeIsSnapshotAtBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	doc, err := f.accounts.GetByID(ctx, f.doctor.UserID)
	require.NoError(t, err)
	doc.ConsultationFee = 900
	require.NoError(t, f.accounts.Update(ctx, doc))

	got, err := f.svc.Get(ctx, f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.ConsultationFee)
}

func TestConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(ctx, f.patient.UserID, BookRequest{
				DoctorID: f.doctor.UserID, Date: "2024-06-10", TimeSlot: "09:00", Reason: "rush",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free, err := f.svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, slots.Catalog(), free)

	a := f.book(t, f.patient, "2024-06-10", "10:00")
	b := f.book(t, f.patient, "2024-06-10", "14:30")
	assert.GreaterOrEqual(t, f.cache.invalidated, 2)

	free, err = f.svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.Len(t, free, 14)
	assert.NotContains(t, free, "10:00")
	assert.NotContains(t, free, "14:30")
	for _, s := range free {
		assert.True(t, slots.Valid(s))
	}

	_, err = f.svc.CancelByPatient(ctx, f.patient, a.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.doctor, b.ID, StatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.doctor, b.ID, StatusCompleted)
	require.NoError(t, err)

	// Cancelled and completed appointments both release their slot.
	free, err = f.svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, slots.Catalog(), free)
}

func TestAvailabilityWeekendAndInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free, err := f.svc.Availability(ctx, f.doctor.UserID, "2024-06-15")
	require.NoError(t, err)
	assert.NotNil(t, free)
	assert.Empty(t, free)

	_, err = f.svc.Availability(ctx, f.doctor.UserID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Availability(ctx, f.doctor.UserID, "June 10")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAvailabilityServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Set(ctx, f.doctor.UserID, monday, 0, []string{"17:30"})
	require.NoError(t, err)

	free, err := f.svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"17:30"}, free)

	f.cache.failReads = true
	free, err = f.svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err, "cache failures fall back to the store")
	assert.Len(t, free, 16)
}

func TestStatusTransitionsThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	_, err := f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrConflict, "doctor cannot skip confirmation")

	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, Status("done"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	otherDoctor := auth.Principal{UserID: "someone-else", Role: users.RoleDoctor}
	_, err = f.svc.UpdateStatus(ctx, otherDoctor, appt.ID, StatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = f.svc.CancelByPatient(ctx, f.patient2, appt.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = f.svc.CancelByPatient(ctx, f.patient, appt.ID)
	require.Error(t, err)
	assert.Equal(t, "Cannot cancel completed appointment", err.Error())

	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusCancelled)
	assert.ErrorIs(t, err, apperr.ErrConflict, "completed is terminal")

	_, err = f.svc.UpdateStatus(ctx, f.doctor, "missing", StatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPatientCancelsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")
	_, err := f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelByPatient(ctx, f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.CancelByPatient(ctx, f.patient, appt.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict, "cancelling twice is not a silent no-op")
}

func TestAdminUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	_, err := f.svc.AdminUpdateStatus(ctx, f.admin, appt.ID, StatusCompleted)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.AdminUpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	updated, err := f.svc.AdminUpdateStatus(ctx, f.admin, appt.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, updated.Patient)
}

func TestPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	_, err := f.svc.Pay(ctx, f.patient, appt.ID, MethodCard)
	require.Error(t, err)
	assert.Equal(t, "Payment can only be made for confirmed or completed appointments", err.Error())

	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, f.patient2, appt.ID, MethodCard)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = f.svc.Pay(ctx, f.patient, appt.ID, PaymentMethod("barter"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	result, err := f.svc.Pay(ctx, f.patient, appt.ID, "")
	require.NoError(t, err)
	assert.Equal(t, &PaymentResult{ID: appt.ID, PaymentStatus: PaymentPaid, PaymentMethod: MethodOnline, ConsultationFee: 500}, result)

	_, err = f.svc.Pay(ctx, f.patient, appt.ID, MethodCash)
	require.Error(t, err)
	assert.Equal(t, "Payment has already been processed", err.Error())

	_, err = f.svc.VerifyPayment(ctx, f.patient, appt.ID, VerifyRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestVerifyPaymentOnCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")
	_, err := f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusCompleted)
	require.NoError(t, err)

	result, err := f.svc.VerifyPayment(ctx, f.patient, appt.ID, VerifyRequest{OrderID: "o1", PaymentID: "pay1", Signature: "sig"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, result.PaymentStatus)
	assert.Equal(t, MethodOnline, result.PaymentMethod)
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	notes, follow := "  bring reports ", "2024-06-24"
	updated, err := f.svc.UpdateDetails(ctx, f.doctor, appt.ID, DetailsUpdate{Notes: &notes, FollowUpDate: &follow})
	require.NoError(t, err)
	assert.Equal(t, "bring reports", updated.Notes)
	require.NotNil(t, updated.FollowUpDate)
	assert.Equal(t, "2024-06-24", updated.FollowUpDate.Format(slots.DateLayout))
	assert.Equal(t, StatusPending, updated.Status)

	empty := ""
	updated, err = f.svc.UpdateDetails(ctx, f.doctor, appt.ID, DetailsUpdate{FollowUpDate: &empty})
	require.NoError(t, err)
	assert.Nil(t, updated.FollowUpDate)
	assert.Equal(t, "bring reports", updated.Notes, "absent fields are kept")

	bad := "next week"
	_, err = f.svc.UpdateDetails(ctx, f.doctor, appt.ID, DetailsUpdate{FollowUpDate: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.UpdateDetails(ctx, f.patient, appt.ID, DetailsUpdate{Notes: &notes})
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.patient, "2024-06-11", "09:00")
	b := f.book(t, f.patient2, "2024-06-10", "15:00")
	c := f.book(t, f.patient, "2024-06-10", "09:30")
	_, err := f.svc.UpdateStatus(ctx, f.doctor, c.ID, StatusConfirmed)
	require.NoError(t, err)

	mine, err := f.svc.ListForPatient(ctx, f.patient.UserID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID}, ids(mine))
	require.NotNil(t, mine[0].Doctor)
	assert.Equal(t, "rao", mine[0].Doctor.Name)

	confirmed, err := f.svc.ListForPatient(ctx, f.patient.UserID, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(confirmed))

	_, err = f.svc.ListForPatient(ctx, f.patient.UserID, "bogus")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	onDay, err := f.svc.ListForDoctor(ctx, f.doctor.UserID, "", "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID}, ids(onDay))
	require.NotNil(t, onDay[1].Patient)
	assert.Equal(t, "bo", onDay[1].Patient.Name)

	all, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all))
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	_, err := f.svc.Get(ctx, f.patient, appt.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.doctor, appt.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.patient2, appt.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)
	_, err = f.svc.Get(ctx, f.patient, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type staleRepo struct {
	*InMemoryRepository
	once sync.Once
	race func()
}

func (r *staleRepo) UpdateStatus(ctx context.Context, id string, from, to Status) (*Appointment, error) {
	r.once.Do(r.race)
	return r.InMemoryRepository.UpdateStatus(ctx, id, from, to)
}

func TestTransitionLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, f.patient, "2024-06-10", "10:00")

	repo := &staleRepo{InMemoryRepository: f.repo}
	repo.race = func() {
		_, err := f.repo.UpdateStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		require.NoError(t, err)
	}
	svc := NewService(repo, f.accounts, nil, WithClock(func() time.Time { return today }))

	_, err := svc.UpdateStatus(ctx, f.doctor, appt.ID, StatusConfirmed)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "'cancelled'")
}

// slowTakenSlots lets a booking commit after the availability query has read
// the store but before its result reaches the cache.
type slowTakenSlots struct {
	*InMemoryRepository
	once  sync.Once
	after func()
}

func (r *slowTakenSlots) TakenSlots(ctx context.Context, doctorID string, day time.Time) ([]string, error) {
	taken, err := r.InMemoryRepository.TakenSlots(ctx, doctorID, day)
	r.once.Do(r.after)
	return taken, err
}

func TestAvailabilityIgnoresResultReadBeforeBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	repo := &slowTakenSlots{InMemoryRepository: f.repo}
	svc := NewService(repo, f.accounts, nil,
		WithCache(f.cache),
		WithClock(func() time.Time { return today }),
	)
	repo.after = func() {
		_, err := svc.Book(ctx, f.patient.UserID, BookRequest{
			DoctorID: f.doctor.UserID, Date: "2024-06-10", TimeSlot: "10:00", Reason: "checkup",
		})
		require.NoError(t, err)
	}

	stale, err := svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.Contains(t, stale, "10:00", "the in-flight read predates the booking")

	free, err := svc.Availability(ctx, f.doctor.UserID, "2024-06-10")
	require.NoError(t, err)
	assert.NotContains(t, free, "10:00")
	assert.Len(t, free, 15)

	cached, ok, err := f.cache.Get(ctx, f.doctor.UserID, monday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, free, cached)
}

type failingParticipants struct {
	*users.InMemoryRepository
}

func (failingParticipants) GetMany(context.Context, []string) (map[string]*users.User, error) {
	return nil, errors.New("directory unavailable")
}

func TestBookSucceedsWhenSummariesUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewService(f.repo, failingParticipants{f.accounts}, nil,
		WithClock(func() time.Time { return today }))

	appt, err := svc.Book(ctx, f.patient.UserID, BookRequest{
		DoctorID: f.doctor.UserID, Date: "2024-06-10", TimeSlot: "11:00", Reason: "checkup",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, appt.ID)
	assert.Nil(t, appt.Patient)
	assert.Nil(t, appt.Doctor)

	stored, err := f.repo.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}
