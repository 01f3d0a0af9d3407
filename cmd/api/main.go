package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/doctor-booking/internal/api/router"
	"github.com/wolfman30/doctor-booking/internal/app/bootstrap"
	"github.com/wolfman30/doctor-booking/internal/appointments"
	"github.com/wolfman30/doctor-booking/internal/auth"
	appconfig "github.com/wolfman30/doctor-booking/internal/config"
	"github.com/wolfman30/doctor-booking/internal/contact"
	httpmiddleware "github.com/wolfman30/doctor-booking/internal/http/middleware"
	"github.com/wolfman30/doctor-booking/internal/observability/metrics"
	"github.com/wolfman30/doctor-booking/internal/users"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

func main() {
	// Load configuration
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting doctor-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// setupMetrics registers the booking counters on a fresh registry and returns
// the /metrics handler for it.
func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(registry)
}

// buildServer wires stores, services and the router. cleanup releases the
// database and Redis handles.
func buildServer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*http.Server, func(), error) {
	secret, err := bootstrap.ResolveJWTSecret(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	issuer := auth.NewIssuer(secret, cfg.TokenTTL)

	// Initialize repositories and services
	stores, err := bootstrap.BuildStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	cleanup := func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		stores.Close()
	}

	metricsHandler, bookingMetrics := setupMetrics()

	usersService := users.NewService(stores.Users, issuer, cfg.AdminCode, logger)
	apptOpts := []appointments.Option{
		appointments.WithMetrics(bookingMetrics),
		appointments.WithLocation(cfg.ClinicLocation()),
	}
	if cache := bootstrap.BuildAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL); cache != nil {
		apptOpts = append(apptOpts, appointments.WithCache(cache))
		logger.Info("availability cache enabled", "ttl", cfg.AvailabilityCacheTTL)
	}
	appointmentsService := appointments.NewService(stores.Appointments, stores.Users, logger, apptOpts...)

	// Setup router
	r := router.New(&router.Config{
		Logger:              logger,
		Tokens:              issuer,
		Accounts:            stores.Users,
		UsersService:        usersService,
		AppointmentsHandler: appointments.NewHandler(appointmentsService, logger),
		ContactHandler:      contact.NewHandler(stores.Contact, logger),
		AuthRateLimiter:     httpmiddleware.NewRateLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst),
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, cleanup, nil
}
