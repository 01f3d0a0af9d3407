package respond

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// maxBodyBytes bounds request bodies; every payload in this API is small.
const maxBodyBytes = 1 << 20

// MessageBody is the shape of every error response and of plain acknowledgements.
type MessageBody struct {
	Message string `json:"message"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Message writes {"message": msg}.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, MessageBody{Message: msg})
}

// Error converts err to a {message} response. Business-rule errors carry their own
// message; anything else is logged and reported as a generic server error.
func Error(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	if e, ok := apperr.As(err); ok {
		Message(w, apperr.HTTPStatus(err), e.Error())
		return
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Error(op+" failed", "error", err)
	Message(w, http.StatusInternalServerError, "Server error")
}

// Decode reads a JSON body into dst. An empty body leaves dst untouched.
func Decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation("Invalid request body")
	}
	return nil
}
