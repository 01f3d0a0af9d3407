// Package contact stores messages sent through the public contact form.
package contact

import (
	"strings"
	"time"

	"github.com/wolfman30/doctor-booking/internal/apperr"
)

// Message is one contact-form submission. Messages are never edited.
type Message struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRequest is the body of POST /contact-messages.
type CreateRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Validate trims the request and checks every field is present.
func (r *CreateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Message = strings.TrimSpace(r.Message)
	if r.Name == "" || r.Email == "" || r.Message == "" {
		return apperr.Validation("All fields are required.")
	}
	return nil
}
