package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/http/respond"
	"github.com/wolfman30/doctor-booking/internal/users"
	"github.com/wolfman30/doctor-booking/pkg/logging"
)

// TokenParser verifies bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AccountLookup loads the account a token refers to.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// Authenticate requires a valid bearer token for an account that still exists.
// The principal's role comes from the stored account, so deleted users lose access
// immediately.
func Authenticate(tokens TokenParser, accounts AccountLookup, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				respond.Message(w, http.StatusUnauthorized, "Access token required")
				return
			}
			claims, err := tokens.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				respond.Message(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			account, err := accounts.GetByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, users.ErrUserNotFound) {
					respond.Message(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				logger.Error("auth lookup failed", "error", err, "user_id", claims.Subject)
				respond.Message(w, http.StatusInternalServerError, "Server error")
				return
			}
			ctx := auth.WithPrincipal(r.Context(), auth.Principal{UserID: account.ID, Role: account.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not in roles.
// It must run after Authenticate.
func RequireRole(roles ...users.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				respond.Message(w, http.StatusUnauthorized, "Access token required")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Message(w, http.StatusForbidden, "Access denied")
		})
	}
}
