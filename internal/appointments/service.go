package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/observability/metrics"
	"github.com/wolfman30/doctor-booking/internal/slots"
	"github.com/wolfman30/doctor-booking/internal/users"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

var appointmentsTracer = otel.Tracer("booking.internal.appointments")

// Directory resolves the accounts appointments refer to.
type Directory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
	GetMany(ctx context.Context, ids []string) (map[string]*users.User, error)
}

// SlotCache is a read-through cache of free-slot lists. Set must refuse to
// store a list computed under a generation that Invalidate has since bumped.
type SlotCache interface {
	Get(ctx context.Context, doctorID string, day time.Time) ([]string, bool, error)
	Generation(ctx context.Context, doctorID string, day time.Time) (int64, error)
	Set(ctx context.Context, doctorID string, day time.Time, gen int64, free []string) (bool, error)
	Invalidate(ctx context.Context, doctorID string, day time.Time) error
}

// Service implements availability, booking, the status machine and mock payments.
type Service struct {
	repo      Repository
	directory Directory
	cache     SlotCache
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	loc       *time.Location
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache serves availability through cache.
func WithCache(cache SlotCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithMetrics records booking outcomes.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLocation sets the clinic timezone used for "today" and for timestamps in dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the appointments service.
func NewService(repo Repository, directory Directory, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if directory == nil {
		panic("appointments: directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:      repo,
		directory: directory,
		logger:    logger,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(op string, start time.Time) {
	s.metrics.ObserveLatency(op, time.Since(start).Seconds())
}

func (s *Service) parseDay(raw string) (time.Time, error) {
	day, err := slots.ParseDate(raw, s.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("Invalid date")
	}
	return day, nil
}

// Availability returns the free slots of doctorID on the day in rawDate.
func (s *Service) Availability(ctx context.Context, doctorID, rawDate string) ([]string, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.availability",
		trace.WithAttributes(attribute.String("booking.doctor_id", doctorID)))
	defer span.End()
	defer s.observe("availability", time.Now())

	if strings.TrimSpace(rawDate) == "" {
		return nil, apperr.Validation("Date is required")
	}
	day, err := s.parseDay(rawDate)
	if err != nil {
		return nil, err
	}
	if slots.IsWeekend(day) {
		return []string{}, nil
	}

	cacheable := false
	var gen int64
	if s.cache != nil {
		free, ok, err := s.cache.Get(ctx, doctorID, day)
		if err != nil {
			s.logger.Warn("availability cache read failed", "error", err, "doctor_id", doctorID)
		} else if ok {
			s.metrics.ObserveAvailability(true)
			return free, nil
		}
		// The generation must be read before the store so a booking that
		// commits in between makes the write below a no-op.
		if gen, err = s.cache.Generation(ctx, doctorID, day); err != nil {
			s.logger.Warn("availability cache generation read failed", "error", err, "doctor_id", doctorID)
		} else {
			cacheable = true
		}
	}

	taken, err := s.repo.TakenSlots(ctx, doctorID, day)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	free := slots.Available(day, taken)
	s.metrics.ObserveAvailability(false)

	if cacheable {
		stored, err := s.cache.Set(ctx, doctorID, day, gen, free)
		if err != nil {
			s.logger.Warn("availability cache write failed", "error", err, "doctor_id", doctorID)
		} else if !stored {
			s.logger.Debug("availability cache write skipped after invalidation", "doctor_id", doctorID)
		}
	}
	return free, nil
}

func (s *Service) invalidate(ctx context.Context, a *Appointment) {
	if s.cache == nil || a == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, a.DoctorID, a.Date); err != nil {
		s.logger.Warn("availability cache invalidate failed", "error", err, "doctor_id", a.DoctorID)
	}
}

// Book creates a pending appointment for patientID. The slot check and insert
// are a single conditional write, so concurrent bookings of one slot cannot
// both succeed.
func (s *Service) Book(ctx context.Context, patientID string, req BookRequest) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	defer s.observe("book", time.Now())

	appt, err := s.book(ctx, patientID, req)
	switch {
	case err == nil:
		s.metrics.ObserveBooking("booked")
	case errors.Is(err, apperr.ErrConflict):
		s.metrics.ObserveBooking("conflict")
	case isClientError(err):
		s.metrics.ObserveBooking("rejected")
	default:
		span.RecordError(err)
		s.metrics.ObserveBooking("error")
	}
	return appt, err
}

func (s *Service) book(ctx context.Context, patientID string, req BookRequest) (*Appointment, error) {
	req.normalize()
	if req.DoctorID == "" || req.Date == "" || req.TimeSlot == "" || req.Reason == "" {
		return nil, apperr.Validation("All fields are required")
	}
	day, err := s.parseDay(req.Date)
	if err != nil {
		return nil, err
	}
	if !slots.Valid(req.TimeSlot) {
		return nil, apperr.Validation("Invalid time slot")
	}

	doctor, err := s.directory.GetByID(ctx, req.DoctorID)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return nil, err
	}
	if doctor == nil || !doctor.IsDoctor() || !doctor.IsAvailable {
		return nil, apperr.NotFound("Doctor not found or not available")
	}

	if day.Before(slots.Day(s.now(), s.loc)) {
		return nil, apperr.Validation("Cannot book appointments in the past")
	}
	if slots.IsWeekend(day) {
		return nil, apperr.Validation("The clinic is closed on weekends")
	}

	appt := &Appointment{
		PatientID:       patientID,
		DoctorID:        doctor.ID,
		Date:            day,
		TimeSlot:        req.TimeSlot,
		Status:          StatusPending,
		Reason:          req.Reason,
		Symptoms:        req.Symptoms,
		ConsultationFee: doctor.ConsultationFee,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   MethodCash,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, apperr.Conflict("This time slot is already booked")
		}
		return nil, err
	}
	s.invalidate(ctx, appt)
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"date", appt.Date.Format(slots.DateLayout),
		"time_slot", appt.TimeSlot,
	)

	// The slot is already held, so a failed lookup only drops the summaries.
	if err := s.hydrate(ctx, appt); err != nil {
		s.logger.Warn("booked appointment hydrate failed", "error", err, "appointment_id", appt.ID)
		appt.Patient, appt.Doctor = nil, nil
	}
	return appt, nil
}

func isClientError(err error) bool {
	_, ok := apperr.As(err)
	return ok
}

func (s *Service) load(ctx context.Context, id string) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Appointment not found")
		}
		return nil, err
	}
	return appt, nil
}

// transition moves id to the target status on behalf of actor, after the
// ownership check for action and the actor's row of the transition table.
func (s *Service) transition(ctx context.Context, actor auth.Principal, id string, to Status, action Action) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.transition", trace.WithAttributes(
		attribute.String("booking.role", string(actor.Role)),
		attribute.String("booking.status_to", string(to)),
	))
	defer span.End()
	defer s.observe("transition", time.Now())

	updated, err := s.doTransition(ctx, actor, id, to, action)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		if !isClientError(err) {
			outcome = "error"
			span.RecordError(err)
		}
	}
	s.metrics.ObserveTransition(string(actor.Role), string(to), outcome)
	return updated, err
}

func (s *Service) doTransition(ctx context.Context, actor auth.Principal, id string, to Status, action Action) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Validation("Invalid status")
	}
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, appt, action); err != nil {
		return nil, err
	}
	if err := CheckTransition(actor.Role, appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrStale) {
			return nil, s.explainStale(ctx, id, func(current *Appointment) error {
				return CheckTransition(actor.Role, current.Status, to)
			})
		}
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Appointment not found")
		}
		return nil, err
	}
	s.invalidate(ctx, updated)
	s.logger.Info("appointment status changed",
		"appointment_id", id,
		"from", appt.Status,
		"to", to,
		"actor_role", actor.Role,
	)
	return updated, nil
}

// explainStale rereads an appointment after a conditional write lost a race
// and reports the rule the new state breaks.
func (s *Service) explainStale(ctx context.Context, id string, check func(*Appointment) error) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := check(current); err != nil {
		return err
	}
	return apperr.Conflict("Appointment was modified by another request, please retry")
}

// UpdateStatus is the doctor's status change on their own appointment.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Principal, id string, to Status) (*Appointment, error) {
	updated, err := s.transition(ctx, actor, id, to, ActionSetStatus)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelByPatient cancels the patient's own pending or confirmed appointment.
func (s *Service) CancelByPatient(ctx context.Context, actor auth.Principal, id string) (*Appointment, error) {
	return s.transition(ctx, actor, id, StatusCancelled, ActionCancel)
}

// AdminUpdateStatus lets an admin confirm or cancel a pending appointment.
func (s *Service) AdminUpdateStatus(ctx context.Context, actor auth.Principal, id string, to Status) (*Appointment, error) {
	updated, err := s.transition(ctx, actor, id, to, ActionAdminSetStatus)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func adminDeleteRule(a *Appointment) error {
	if a.Status != StatusPending {
		return apperr.Conflict("Cannot delete appointment. Current status is '%s'. Only pending appointments can be deleted.", a.Status)
	}
	return nil
}

// AdminDelete removes a pending appointment.
func (s *Service) AdminDelete(ctx context.Context, actor auth.Principal, id string) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.admin_delete")
	defer span.End()

	appt, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, appt, ActionAdminDelete); err != nil {
		return err
	}
	if err := adminDeleteRule(appt); err != nil {
		return err
	}
	if err := s.repo.DeleteIfStatus(ctx, id, StatusPending); err != nil {
		switch {
		case errors.Is(err, ErrStale):
			return s.explainStale(ctx, id, adminDeleteRule)
		case errors.Is(err, ErrNotFound):
			return apperr.NotFound("Appointment not found")
		}
		span.RecordError(err)
		return err
	}
	s.invalidate(ctx, appt)
	s.logger.Info("appointment deleted", "appointment_id", id, "actor_id", actor.UserID)
	return nil
}

// UpdateDetails applies the owning doctor's clinical notes.
func (s *Service) UpdateDetails(ctx context.Context, actor auth.Principal, id string, patch DetailsUpdate) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.update_details")
	defer span.End()

	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, appt, ActionEditDetails); err != nil {
		return nil, err
	}
	if patch.Notes != nil {
		appt.Notes = strings.TrimSpace(*patch.Notes)
	}
	if patch.Prescription != nil {
		appt.Prescription = strings.TrimSpace(*patch.Prescription)
	}
	if patch.Diagnosis != nil {
		appt.Diagnosis = strings.TrimSpace(*patch.Diagnosis)
	}
	if patch.FollowUpDate != nil {
		if strings.TrimSpace(*patch.FollowUpDate) == "" {
			appt.FollowUpDate = nil
		} else {
			d, err := slots.ParseDate(*patch.FollowUpDate, s.loc)
			if err != nil {
				return nil, apperr.Validation("Invalid follow-up date")
			}
			appt.FollowUpDate = &d
		}
	}

	updated, err := s.repo.UpdateDetails(ctx, appt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Appointment not found")
		}
		span.RecordError(err)
		return nil, err
	}
	if err := s.hydrate(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func paymentRule(a *Appointment) error {
	if !payable(a.Status) {
		return apperr.Conflict("Payment can only be made for confirmed or completed appointments")
	}
	if a.PaymentStatus != PaymentPending {
		return apperr.Conflict("Payment has already been processed")
	}
	return nil
}

// Pay records a mock payment by the owning patient. An empty method means online.
func (s *Service) Pay(ctx context.Context, actor auth.Principal, id string, method PaymentMethod) (*PaymentResult, error) {
	if method == "" {
		method = MethodOnline
	}
	if !method.Valid() {
		return nil, apperr.Validation("Invalid payment method")
	}
	return s.pay(ctx, actor, id, method)
}

// VerifyPayment accepts a gateway confirmation and records an online payment.
// The mock gateway has nothing to verify the signature against.
func (s *Service) VerifyPayment(ctx context.Context, actor auth.Principal, id string, req VerifyRequest) (*PaymentResult, error) {
	s.logger.Info("payment verification received",
		"appointment_id", id,
		"order_id", req.OrderID,
		"payment_id", req.PaymentID,
	)
	return s.pay(ctx, actor, id, MethodOnline)
}

func (s *Service) pay(ctx context.Context, actor auth.Principal, id string, method PaymentMethod) (*PaymentResult, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.pay",
		trace.WithAttributes(attribute.String("booking.payment_method", string(method))))
	defer span.End()
	defer s.observe("pay", time.Now())

	result, err := s.doPay(ctx, actor, id, method)
	outcome := "paid"
	if err != nil {
		outcome = "rejected"
		if !isClientError(err) {
			outcome = "error"
			span.RecordError(err)
		}
	}
	s.metrics.ObservePayment(string(method), outcome)
	return result, err
}

func (s *Service) doPay(ctx context.Context, actor auth.Principal, id string, method PaymentMethod) (*PaymentResult, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, appt, ActionPay); err != nil {
		return nil, err
	}
	if err := paymentRule(appt); err != nil {
		return nil, err
	}

	paid, err := s.repo.MarkPaid(ctx, id, method)
	if err != nil {
		switch {
		case errors.Is(err, ErrStale):
			return nil, s.explainStale(ctx, id, paymentRule)
		case errors.Is(err, ErrNotFound):
			return nil, apperr.NotFound("Appointment not found")
		}
		return nil, err
	}
	s.logger.Info("appointment paid", "appointment_id", id, "method", method, "fee", paid.ConsultationFee)
	return &PaymentResult{
		ID:              paid.ID,
		PaymentStatus:   paid.PaymentStatus,
		PaymentMethod:   paid.PaymentMethod,
		ConsultationFee: paid.ConsultationFee,
	}, nil
}

// Get returns an appointment visible to actor.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Appointment, error) {
	appt, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, appt, ActionView); err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

func parseStatusFilter(raw string) (Status, error) {
	status := Status(strings.TrimSpace(raw))
	if status != "" && !status.Valid() {
		return "", apperr.Validation("Invalid status")
	}
	return status, nil
}

// ListForPatient returns the patient's appointments, optionally by status.
func (s *Service) ListForPatient(ctx context.Context, patientID, status string) ([]*Appointment, error) {
	st, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, ListFilter{PatientID: patientID, Status: st})
}

// ListForDoctor returns the doctor's appointments, optionally by status and day.
func (s *Service) ListForDoctor(ctx context.Context, doctorID, status, date string) ([]*Appointment, error) {
	st, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	filter := ListFilter{DoctorID: doctorID, Status: st}
	if strings.TrimSpace(date) != "" {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		filter.Date = &day
	}
	return s.list(ctx, filter)
}

// ListAll returns every appointment for the admin console.
func (s *Service) ListAll(ctx context.Context) ([]*Appointment, error) {
	return s.list(ctx, ListFilter{})
}

func (s *Service) list(ctx context.Context, filter ListFilter) ([]*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.list")
	defer span.End()

	out, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.hydrate(ctx, out...); err != nil {
		return nil, err
	}
	return out, nil
}

// hydrate embeds patient and doctor summaries. Accounts deleted since booking
// are left nil.
func (s *Service) hydrate(ctx context.Context, appts ...*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(appts)*2)
	ids := make([]string, 0, len(appts)*2)
	for _, a := range appts {
		for _, id := range []string{a.PatientID, a.DoctorID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	accounts, err := s.directory.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("appointments: load participants: %w", err)
	}
	for _, a := range appts {
		a.Patient = patientSummary(accounts[a.PatientID])
		a.Doctor = doctorSummary(accounts[a.DoctorID])
	}
	return nil
}
