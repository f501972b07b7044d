package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/logging"
)

// TokenValidator verifies session tokens.
type TokenValidator interface {
	Validate(value string) (auth.Claims, error)
}

type claimsKey struct{}

// WithClaims stores verified session claims on the context.
func WithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the session claims set by Authenticate.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user's id or "".
func UserIDFromContext(ctx context.Context) string {
	claims, _ := ClaimsFromContext(ctx)
	return claims.UserID()
}

// Authenticate rejects requests without a valid session token. The token is
// read from the session cookie, falling back to a bearer Authorization header.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context())

			token := sessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized - No token provided")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					logger.Info("expired session token")
				} else {
					logger.Warn("rejected session token", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized - Invalid token")
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = logging.With(ctx, "user_id", claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireVerified rejects sessions issued before the email was verified.
// It must run after Authenticate.
func RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized - No token provided")
			return
		}
		if !claims.Verified {
			writeError(w, http.StatusForbidden, "email verification required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(auth.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
