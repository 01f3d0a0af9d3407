package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/doctor-booking/internal/appointments"
	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/contact"
	httpmiddleware "github.com/wolfman30/doctor-booking/internal/http/middleware"
	"github.com/wolfman30/doctor-booking/internal/http/respond"
	"github.com/wolfman30/doctor-booking/internal/users"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	Tokens              httpmiddleware.TokenParser
	Accounts            httpmiddleware.AccountLookup
	UsersService        *users.Service
	AppointmentsHandler *appointments.Handler
	ContactHandler      *contact.Handler
	AuthRateLimiter     *httpmiddleware.RateLimiter
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
}

// CallerID resolves the authenticated account id for the users handler.
func CallerID(r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	return p.UserID, ok
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	usersHandler := users.NewHandler(cfg.UsersService, CallerID, logger)
	appts := cfg.AppointmentsHandler

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))

	authenticated := httpmiddleware.Authenticate(cfg.Tokens, cfg.Accounts, logger)
	role := httpmiddleware.RequireRole

	r.Get("/health", Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(r chi.Router) {
			r.Group(func(public chi.Router) {
				if cfg.AuthRateLimiter != nil {
					public.Use(cfg.AuthRateLimiter.Middleware)
				}
				public.Post("/register", usersHandler.Register)
				public.Post("/login", usersHandler.Login)
			})
			r.Group(func(private chi.Router) {
				private.Use(authenticated)
				private.Get("/me", usersHandler.Me)
				private.Put("/profile", usersHandler.UpdateProfile)
			})
		})

		api.Route("/doctors", func(r chi.Router) {
			r.Get("/", usersHandler.ListDoctors)
			r.Get("/{id}", usersHandler.GetDoctor)
			r.Get("/{id}/availability", appts.Availability)
			r.Group(func(doctor chi.Router) {
				doctor.Use(authenticated, role(users.RoleDoctor))
				doctor.Put("/profile", usersHandler.UpdateDoctorProfile)
				doctor.Get("/appointments", appts.DoctorAppointments)
			})
		})

		api.Route("/appointments", func(r chi.Router) {
			r.Use(authenticated)
			r.With(role(users.RolePatient)).Post("/", appts.Book)
			r.With(role(users.RolePatient)).Get("/my-appointments", appts.MyAppointments)
			r.Get("/{id}", appts.Get)
			r.With(role(users.RoleDoctor)).Patch("/{id}/status", appts.UpdateStatus)
			r.With(role(users.RoleDoctor)).Put("/{id}", appts.UpdateDetails)
			r.With(role(users.RolePatient)).Post("/{id}/pay", appts.Pay)
			r.With(role(users.RolePatient)).Post("/{id}/verify-payment", appts.VerifyPayment)
			r.With(role(users.RolePatient)).Delete("/{id}", appts.Cancel)
		})

		api.Route("/admin", func(r chi.Router) {
			r.Use(authenticated, role(users.RoleAdmin))
			r.Get("/doctors", usersHandler.ListAccounts(users.RoleDoctor))
			r.Delete("/doctors/{id}", usersHandler.DeleteAccount(users.RoleDoctor))
			r.Get("/patients", usersHandler.ListAccounts(users.RolePatient))
			r.Delete("/patients/{id}", usersHandler.DeleteAccount(users.RolePatient))
			r.Get("/appointments", appts.AdminList)
			r.Delete("/appointments/{id}", appts.AdminDelete)
			r.Patch("/appointments/{id}/status", appts.AdminUpdateStatus)
		})

		api.Route("/contact-messages", func(r chi.Router) {
			r.Post("/", cfg.ContactHandler.Create)
			r.With(authenticated, role(users.RoleAdmin)).Get("/", cfg.ContactHandler.List)
		})
	})

	return r
}
