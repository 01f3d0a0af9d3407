package users

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/http/respond"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// CallerFunc resolves the authenticated account id from the request. The auth
// middleware owns the context key, so the router injects this.
type CallerFunc func(r *http.Request) (string, bool)

// Handler serves the auth, profile and doctor directory endpoints.
type Handler struct {
	svc    *Service
	caller CallerFunc
	logger *logging.Logger
}

// NewHandler creates the accounts handler.
func NewHandler(svc *Service, caller CallerFunc, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, caller: caller, logger: logger}
}

func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.caller != nil {
		if id, ok := h.caller(r); ok {
			return id, true
		}
	}
	respond.Message(w, http.StatusUnauthorized, "Access token required")
	return "", false
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "register", err)
		return
	}
	resp, err := h.svc.Register(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, "register", err)
		return
	}
	respond.JSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "login", err)
		return
	}
	resp, err := h.svc.Login(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, "login", err)
		return
	}
	respond.JSON(w, http.StatusOK, resp)
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callerID(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, h.logger, "get current user", err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]*User{"user": u})
}

// UpdateProfile handles PUT /auth/profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var patch ProfileUpdate
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, h.logger, "update profile", err)
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), id, patch)
	if err != nil {
		respond.Error(w, h.logger, "update profile", err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// ListDoctors handles GET /doctors?specialization=&available=true.
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := DoctorFilter{
		Specialization: q.Get("specialization"),
		AvailableOnly:  strings.EqualFold(q.Get("available"), "true"),
	}
	doctors, err := h.svc.ListDoctors(r.Context(), filter)
	if err != nil {
		respond.Error(w, h.logger, "list doctors", err)
		return
	}
	respond.JSON(w, http.StatusOK, doctors)
}

// GetDoctor handles GET /doctors/{id}.
func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	doctor, err := h.svc.GetDoctor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, "get doctor", err)
		return
	}
	respond.JSON(w, http.StatusOK, doctor)
}

// UpdateDoctorProfile handles PUT /doctors/profile.
func (h *Handler) UpdateDoctorProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var patch DoctorProfileUpdate
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, h.logger, "update doctor profile", err)
		return
	}
	u, err := h.svc.UpdateDoctorProfile(r.Context(), id, patch)
	if err != nil {
		respond.Error(w, h.logger, "update doctor profile", err)
		return
	}
	respond.JSON(w, http.StatusOK, u)
}

// ListAccounts handles the admin GET /admin/doctors and /admin/patients listings.
func (h *Handler) ListAccounts(role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := h.svc.ListByRole(r.Context(), role)
		if err != nil {
			respond.Error(w, h.logger, "list "+string(role)+"s", err)
			return
		}
		respond.JSON(w, http.StatusOK, accounts)
	}
}

// DeleteAccount handles the admin DELETE /admin/doctors/{id} and /admin/patients/{id}.
func (h *Handler) DeleteAccount(role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			respond.Error(w, h.logger, "delete account", apperr.Validation("Account id is required"))
			return
		}
		if err := h.svc.DeleteAccount(r.Context(), id, role); err != nil {
			respond.Error(w, h.logger, "delete account", err)
			return
		}
		respond.Message(w, http.StatusOK, titleRole(role)+" deleted")
	}
}
