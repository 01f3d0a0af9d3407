package contact

import (
	"net/http"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/http/respond"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// Handler serves the contact inbox.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a contact handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /contact-messages.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, "decode contact message", err)
		return
	}

	msg, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			respond.Error(w, h.logger, "create contact message", err)
			return
		}
		h.logger.Error("failed to create contact message", "error", err)
		respond.Message(w, http.StatusInternalServerError, "Failed to send message.")
		return
	}

	h.logger.Info("contact message received", "id", msg.ID)
	respond.Message(w, http.StatusCreated, "Message sent successfully.")
}

// List handles GET /contact-messages for admins.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	messages, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list contact messages", "error", err)
		respond.Message(w, http.StatusInternalServerError, "Failed to fetch messages.")
		return
	}
	respond.JSON(w, http.StatusOK, messages)
}
