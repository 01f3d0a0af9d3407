package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/slots"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

var usersTracer = otel.Tracer("booking.internal.users")

// TokenIssuer signs session tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(userID string, role Role) (string, error)
}

// Service implements registration, login and profile management.
type Service struct {
	repo      Repository
	tokens    TokenIssuer
	adminCode string
	hashCost  int
	logger    *logging.Logger
}

// NewService constructs the accounts service. adminCode gates the admin role.
func NewService(repo Repository, tokens TokenIssuer, adminCode string, logger *logging.Logger) *Service {
	if repo == nil {
		panic("users: repository required")
	}
	if tokens == nil {
		panic("users: token issuer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      repo,
		tokens:    tokens,
		adminCode: adminCode,
		hashCost:  bcrypt.DefaultCost,
		logger:    logger,
	}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) {
	s.hashCost = cost
}

func (s *Service) adminCodeMatches(code string) bool {
	if code == "" || s.adminCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.adminCode)) == 1
}

// Register creates an account and returns a session token for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	ctx, span := usersTracer.Start(ctx, "users.register")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.role", string(req.Role)))

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperr.Auth("User already exists with this email")
	} else if !errors.Is(err, ErrUserNotFound) {
		span.RecordError(err)
		return nil, err
	}

	if req.Role == RoleAdmin && !s.adminCodeMatches(req.AdminCode) {
		s.logger.Warn("admin registration rejected", "email", req.Email)
		return nil, apperr.Auth("Invalid admin code. Please contact system administrator.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	u := &User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
		Phone:        req.Phone,
	}
	if req.Role == RoleDoctor {
		u.Specialization = strings.TrimSpace(req.Specialization)
		u.Experience = req.Experience
		u.Education = strings.TrimSpace(req.Education)
		u.LicenseNumber = strings.TrimSpace(req.LicenseNumber)
		u.ConsultationFee = req.ConsultationFee
		u.IsAvailable = true
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Auth("User already exists with this email")
		}
		span.RecordError(err)
		return nil, err
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("users: issue token: %w", err)
	}
	s.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	return &AuthResponse{Message: "User registered successfully", Token: token, User: accountView(u)}, nil
}

// Login verifies credentials. When req.Role is set the account must have that
// role, and admin logins must present the admin code again.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	ctx, span := usersTracer.Start(ctx, "users.login")
	defer span.End()

	u, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.Auth("Invalid credentials")
		}
		span.RecordError(err)
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, apperr.Auth("Invalid credentials")
	}

	if req.Role != "" {
		if !req.Role.Valid() {
			return nil, apperr.Validation("Invalid role")
		}
		if u.Role != req.Role {
			return nil, apperr.Auth("You are not authorized to login as %s", req.Role)
		}
		if req.Role == RoleAdmin && !s.adminCodeMatches(req.AdminCode) {
			return nil, apperr.Auth("Invalid admin code. Please contact system administrator.")
		}
	}

	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("users: issue token: %w", err)
	}
	s.logger.Info("user logged in", "user_id", u.ID, "role", u.Role)
	return &AuthResponse{Message: "Login successful", Token: token, User: accountView(u)}, nil
}

// Get returns the account with id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, err
	}
	return u, nil
}

// UpdateProfile applies the self-service patch to the caller's own account.
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch ProfileUpdate) (*User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Validation("Name cannot be empty")
		}
		u.Name = name
	}
	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperr.Validation("Invalid email address")
		}
		u.Email = email
	}
	if patch.Phone != nil {
		u.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.DateOfBirth != nil {
		if strings.TrimSpace(*patch.DateOfBirth) == "" {
			u.DateOfBirth = nil
		} else {
			dob, err := slots.ParseDate(*patch.DateOfBirth, nil)
			if err != nil {
				return nil, apperr.Validation("Invalid date of birth")
			}
			u.DateOfBirth = &dob
		}
	}
	if patch.Gender != nil {
		u.Gender = strings.TrimSpace(*patch.Gender)
	}
	if patch.Address != nil {
		u.Address = strings.TrimSpace(*patch.Address)
	}
	return s.save(ctx, u)
}

// UpdateDoctorProfile applies a doctor's patch to their own listing.
func (s *Service) UpdateDoctorProfile(ctx context.Context, doctorID string, patch DoctorProfileUpdate) (*User, error) {
	u, err := s.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !u.IsDoctor() {
		return nil, apperr.Permission("Access denied")
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Validation("Name cannot be empty")
		}
		u.Name = name
	}
	if patch.Phone != nil {
		u.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Specialization != nil {
		u.Specialization = strings.TrimSpace(*patch.Specialization)
	}
	if patch.Experience != nil {
		if *patch.Experience < 0 {
			return nil, apperr.Validation("Experience cannot be negative")
		}
		u.Experience = *patch.Experience
	}
	if patch.Education != nil {
		u.Education = strings.TrimSpace(*patch.Education)
	}
	if patch.LicenseNumber != nil {
		u.LicenseNumber = strings.TrimSpace(*patch.LicenseNumber)
	}
	if patch.IsAvailable != nil {
		u.IsAvailable = *patch.IsAvailable
	}
	if patch.ProfileImage != nil {
		u.ProfileImage = strings.TrimSpace(*patch.ProfileImage)
	}
	if patch.ConsultationFee != nil {
		if *patch.ConsultationFee < 0 {
			return nil, apperr.Validation("Consultation fee cannot be negative")
		}
		u.ConsultationFee = *patch.ConsultationFee
	}
	updated, err := s.save(ctx, u)
	if err != nil {
		return nil, err
	}
	s.logger.Info("doctor profile updated", "doctor_id", doctorID, "available", updated.IsAvailable)
	return updated, nil
}

func (s *Service) save(ctx context.Context, u *User) (*User, error) {
	if err := s.repo.Update(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return nil, apperr.Conflict("Email is already in use")
		case errors.Is(err, ErrUserNotFound):
			return nil, apperr.NotFound("User not found")
		}
		return nil, err
	}
	return u, nil
}

// ListDoctors returns the public directory.
func (s *Service) ListDoctors(ctx context.Context, filter DoctorFilter) ([]*User, error) {
	return s.repo.ListDoctors(ctx, filter)
}

// GetDoctor returns a doctor's public record.
func (s *Service) GetDoctor(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.NotFound("Doctor not found")
		}
		return nil, err
	}
	if !u.IsDoctor() {
		return nil, apperr.NotFound("Doctor not found")
	}
	return u, nil
}

// ListByRole backs the admin doctor and patient listings.
func (s *Service) ListByRole(ctx context.Context, role Role) ([]*User, error) {
	return s.repo.ListByRole(ctx, role)
}

// DeleteAccount removes a doctor or patient. Admin accounts cannot be deleted here.
func (s *Service) DeleteAccount(ctx context.Context, id string, role Role) error {
	if role != RoleDoctor && role != RolePatient {
		return apperr.Permission("Only doctor and patient accounts can be deleted")
	}
	deleted, err := s.repo.DeleteByRole(ctx, id, role)
	if err != nil {
		return err
	}
	if !deleted {
		return apperr.NotFound("%s not found", titleRole(role))
	}
	s.logger.Info("account deleted", "user_id", id, "role", role)
	return nil
}

func accountView(u *User) AccountView {
	return AccountView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func titleRole(r Role) string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
