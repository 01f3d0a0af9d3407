package appointments

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/http/respond"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// Handler serves the appointment and availability endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates the appointments handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// AppointmentResponse wraps a single appointment with an acknowledgement.
type AppointmentResponse struct {
	Message     string       `json:"message"`
	Appointment *Appointment `json:"appointment"`
}

// PaymentResponse wraps the payment fields with an acknowledgement.
type PaymentResponse struct {
	Message     string         `json:"message"`
	Appointment *PaymentResult `json:"appointment"`
}

// AvailabilityResponse is the body of the availability endpoint.
type AvailabilityResponse struct {
	AvailableSlots []string `json:"availableSlots"`
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respond.Message(w, http.StatusUnauthorized, "Access token required")
	}
	return p, ok
}

// Availability handles GET /doctors/{id}/availability?date=.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	free, err := h.svc.Availability(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("date"))
	if err != nil {
		respond.Error(w, h.logger, "get availability", err)
		return
	}
	respond.JSON(w, http.StatusOK, AvailabilityResponse{AvailableSlots: free})
}

// Book handles POST /appointments.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req BookRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "book appointment", err)
		return
	}
	appt, err := h.svc.Book(r.Context(), p.UserID, req)
	if err != nil {
		respond.Error(w, h.logger, "book appointment", err)
		return
	}
	respond.JSON(w, http.StatusCreated, AppointmentResponse{Message: "Appointment booked successfully", Appointment: appt})
}

// MyAppointments handles GET /appointments/my-appointments?status=.
func (h *Handler) MyAppointments(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListForPatient(r.Context(), p.UserID, r.URL.Query().Get("status"))
	if err != nil {
		respond.Error(w, h.logger, "list patient appointments", err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

// DoctorAppointments handles GET /doctors/appointments?status=&date=.
func (h *Handler) DoctorAppointments(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.svc.ListForDoctor(r.Context(), p.UserID, q.Get("status"), q.Get("date"))
	if err != nil {
		respond.Error(w, h.logger, "list doctor appointments", err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

// Get handles GET /appointments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, "get appointment", err)
		return
	}
	respond.JSON(w, http.StatusOK, appt)
}

// UpdateStatus handles the doctor's PATCH /appointments/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "update appointment status", err)
		return
	}
	appt, err := h.svc.UpdateStatus(r.Context(), p, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respond.Error(w, h.logger, "update appointment status", err)
		return
	}
	respond.JSON(w, http.StatusOK, AppointmentResponse{Message: "Appointment status updated successfully", Appointment: appt})
}

// UpdateDetails handles the doctor's PUT /appointments/{id}.
func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var patch DetailsUpdate
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, h.logger, "update appointment details", err)
		return
	}
	appt, err := h.svc.UpdateDetails(r.Context(), p, chi.URLParam(r, "id"), patch)
	if err != nil {
		respond.Error(w, h.logger, "update appointment details", err)
		return
	}
	respond.JSON(w, http.StatusOK, AppointmentResponse{Message: "Appointment details updated successfully", Appointment: appt})
}

// Pay handles POST /appointments/{id}/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req PayRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "pay appointment", err)
		return
	}
	result, err := h.svc.Pay(r.Context(), p, chi.URLParam(r, "id"), req.PaymentMethod)
	if err != nil {
		respond.Error(w, h.logger, "pay appointment", err)
		return
	}
	respond.JSON(w, http.StatusOK, PaymentResponse{Message: "Payment processed successfully", Appointment: result})
}

// VerifyPayment handles POST /appointments/{id}/verify-payment.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req VerifyRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "verify payment", err)
		return
	}
	result, err := h.svc.VerifyPayment(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		respond.Error(w, h.logger, "verify payment", err)
		return
	}
	respond.JSON(w, http.StatusOK, PaymentResponse{Message: "Payment verified and processed successfully", Appointment: result})
}

// Cancel handles the patient's DELETE /appointments/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.CancelByPatient(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respond.Error(w, h.logger, "cancel appointment", err)
		return
	}
	respond.Message(w, http.StatusOK, "Appointment cancelled successfully")
}

// AdminList handles GET /admin/appointments.
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAll(r.Context())
	if err != nil {
		respond.Error(w, h.logger, "list all appointments", err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

// AdminUpdateStatus handles PATCH /admin/appointments/{id}/status.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "admin update status", err)
		return
	}
	appt, err := h.svc.AdminUpdateStatus(r.Context(), p, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respond.Error(w, h.logger, "admin update status", err)
		return
	}
	respond.JSON(w, http.StatusOK, AppointmentResponse{Message: "Status updated", Appointment: appt})
}

// AdminDelete handles DELETE /admin/appointments/{id}.
func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.svc.AdminDelete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respond.Error(w, h.logger, "admin delete appointment", err)
		return
	}
	respond.Message(w, http.StatusOK, "Appointment deleted")
}
