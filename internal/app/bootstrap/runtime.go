package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/doctor-booking/internal/appointments"
	"github.com/wolfman30/doctor-booking/internal/availability"
	appconfig "github.com/wolfman30/doctor-booking/internal/config"
	"github.com/wolfman30/doctor-booking/internal/contact"
	"github.com/wolfman30/doctor-booking/internal/users"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, availability cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildAvailabilityCache returns the Redis slot cache, or nil without Redis.
func BuildAvailabilityCache(redisClient *redis.Client, ttl time.Duration) appointments.SlotCache {
	if redisClient == nil {
		return nil
	}
	return availability.NewCache(redisClient, ttl)
}

// Stores bundles the repositories the API serves from.
type Stores struct {
	Users        users.Repository
	Appointments appointments.Repository
	Contact      contact.Repository

	closers []func()
}

// Close releases database handles.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// InMemoryStores backs every repository with process memory.
func InMemoryStores() *Stores {
	return &Stores{
		Users:        users.NewInMemoryRepository(),
		Appointments: appointments.NewInMemoryRepository(),
		Contact:      contact.NewInMemoryRepository(),
	}
}

// BuildStores connects to Postgres when DATABASE_URL is set and falls back to
// in-memory stores otherwise. Accounts and appointments use pgx; the contact
// inbox goes through database/sql with the lib/pq driver.
func BuildStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Stores, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return InMemoryStores(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info("postgres stores enabled")
	return &Stores{
		Users:        users.NewPostgresRepository(pool),
		Appointments: appointments.NewPostgresRepository(pool),
		Contact:      contact.NewSQLRepository(sqlDB),
		closers: []func(){
			pool.Close,
			func() { _ = sqlDB.Close() },
		},
	}, nil
}

// ResolveJWTSecret returns the configured secret. Outside production an empty
// secret is replaced by a random one, so tokens do not survive a restart.
func ResolveJWTSecret(cfg *appconfig.Config, logger *logging.Logger) (string, error) {
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		return secret, nil
	}
	if cfg.IsProduction() {
		return "", fmt.Errorf("bootstrap: JWT_SECRET is required in production")
	}
	if logger == nil {
		logger = logging.Default()
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("bootstrap: generate jwt secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set, using a random secret for this process")
	return hex.EncodeToString(buf), nil
}
