package users

import (
	"net/mail"
	"strings"
	"time"

	"github.com/wolfman30/doctor-booking/internal/apperr"
)

// Role discriminates accounts. It is fixed at registration.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

const minPasswordLength = 6

// User is a patient, doctor or admin account. Doctor-only fields are zero for
// other roles.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Phone        string     `json:"phone,omitempty"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	Address      string     `json:"address,omitempty"`

	Specialization  string  `json:"specialization,omitempty"`
	Experience      int     `json:"experience,omitempty"`
	Education       string  `json:"education,omitempty"`
	LicenseNumber   string  `json:"licenseNumber,omitempty"`
	ConsultationFee float64 `json:"consultationFee"`
	IsAvailable     bool    `json:"isAvailable"`
	ProfileImage    string  `json:"profileImage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDoctor reports whether the account is a doctor.
func (u *User) IsDoctor() bool { return u != nil && u.Role == RoleDoctor }

// Summary is the public view embedded in other resources.
type Summary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

// Summarize returns the embedded view of u.
func (u *User) Summarize() *Summary {
	if u == nil {
		return nil
	}
	return &Summary{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		Specialization: u.Specialization,
	}
}

// AccountView is the {id,name,email,role} block returned with tokens.
type AccountView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	Phone     string `json:"phone"`
	AdminCode string `json:"adminCode"`

	Specialization  string  `json:"specialization"`
	Experience      int     `json:"experience"`
	Education       string  `json:"education"`
	LicenseNumber   string  `json:"licenseNumber"`
	ConsultationFee float64 `json:"consultationFee"`
}

// Normalize trims fields, lower-cases email and defaults the role to patient.
func (r *RegisterRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	if r.Role == "" {
		r.Role = RolePatient
	}
}

// Validate checks required fields. Call Normalize first.
func (r *RegisterRequest) Validate() error {
	if r.Name == "" || r.Email == "" || r.Password == "" {
		return apperr.Validation("Name, email and password are required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return apperr.Validation("Invalid email address")
	}
	if len(r.Password) < minPasswordLength {
		return apperr.Validation("Password must be at least %d characters", minPasswordLength)
	}
	if !r.Role.Valid() {
		return apperr.Validation("Invalid role")
	}
	if r.Role == RoleDoctor && r.ConsultationFee < 0 {
		return apperr.Validation("Consultation fee cannot be negative")
	}
	if r.Role == RoleDoctor && r.Experience < 0 {
		return apperr.Validation("Experience cannot be negative")
	}
	return nil
}

// LoginRequest is the body of POST /auth/login. Role is optional; when set the
// account must have that role.
type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      Role   `json:"role"`
	AdminCode string `json:"adminCode"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    AccountView `json:"user"`
}

// ProfileUpdate is the self-service patch for any account. Nil fields are left alone.
type ProfileUpdate struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	DateOfBirth *string `json:"dateOfBirth"`
	Gender      *string `json:"gender"`
	Address     *string `json:"address"`
}

// DoctorProfileUpdate is the patch a doctor applies to their own listing.
type DoctorProfileUpdate struct {
	Name            *string  `json:"name"`
	Phone           *string  `json:"phone"`
	Specialization  *string  `json:"specialization"`
	Experience      *int     `json:"experience"`
	Education       *string  `json:"education"`
	LicenseNumber   *string  `json:"licenseNumber"`
	IsAvailable     *bool    `json:"isAvailable"`
	ProfileImage    *string  `json:"profileImage"`
	ConsultationFee *float64 `json:"consultationFee"`
}

// DoctorFilter narrows the public directory.
type DoctorFilter struct {
	// Specialization matches case-insensitively as a substring.
	Specialization string
	AvailableOnly  bool
}

// NormalizeEmail trims and lower-cases an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
