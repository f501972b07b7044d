package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/linguachat/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts AccountService
	Resets   PasswordResetService
	Friends  FriendService
	Tokens   middleware.TokenValidator
	// Limiter throttles the unauthenticated auth endpoints; nil disables it.
	Limiter middleware.RateLimiter
	// TrustedProxies may set X-Forwarded-For for throttling purposes.
	TrustedProxies middleware.Proxies
	SecureCookies  bool
	MaxAvatarBytes int64
	// Health pings backing stores for GET /healthz.
	Health map[string]HealthCheck
}

// NewRouter wires every HTTP route.
func NewRouter(deps Dependencies) *mux.Router {
	health := HealthHandler{Checks: deps.Health}
	authH := AuthHandler{
		Accounts:       deps.Accounts,
		Resets:         deps.Resets,
		SecureCookies:  deps.SecureCookies,
		MaxAvatarBytes: deps.MaxAvatarBytes,
	}
	users := UserHandler{Friends: deps.Friends}

	authenticate := middleware.Authenticate(deps.Tokens)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", health.Handle).Methods(http.MethodGet)

	throttle := middleware.Throttle(deps.Limiter, deps.TrustedProxies, "auth")
	verified := func(h http.Handler) http.Handler { return authenticate(middleware.RequireVerified(h)) }

	// Middleware is applied per route: a matcher-less subrouter would swallow
	// method mismatches as 404s.
	authRoutes := r.PathPrefix("/api/auth").Subrouter()
	authRoutes.HandleFunc("/logout", authH.Logout).Methods(http.MethodPost)
	authRoutes.Handle("/signup", throttle(http.HandlerFunc(authH.Signup))).Methods(http.MethodPost)
	authRoutes.Handle("/login", throttle(http.HandlerFunc(authH.Login))).Methods(http.MethodPost)
	authRoutes.Handle("/verify-code", throttle(http.HandlerFunc(authH.VerifyCode))).Methods(http.MethodPost)
	authRoutes.Handle("/send-reset-code", throttle(http.HandlerFunc(authH.SendResetCode))).Methods(http.MethodPost)
	authRoutes.Handle("/verify-reset-code", throttle(http.HandlerFunc(authH.VerifyResetCode))).Methods(http.MethodPost)
	authRoutes.Handle("/reset-password", throttle(http.HandlerFunc(authH.ResetPassword))).Methods(http.MethodPost)
	authRoutes.Handle("/me", authenticate(http.HandlerFunc(authH.Me))).Methods(http.MethodGet)
	authRoutes.Handle("/resend-code", authenticate(http.HandlerFunc(authH.ResendCode))).Methods(http.MethodPost)
	authRoutes.Handle("/onboarding", verified(http.HandlerFunc(authH.Onboard))).Methods(http.MethodPost)

	userRoutes := r.PathPrefix("/api/users").Subrouter()
	userRoutes.Use(authenticate, middleware.RequireVerified)
	userRoutes.HandleFunc("", users.Recommended).Methods(http.MethodGet)
	userRoutes.HandleFunc("/friends", users.ListFriends).Methods(http.MethodGet)
	userRoutes.HandleFunc("/friend-requests", users.Incoming).Methods(http.MethodGet)
	userRoutes.HandleFunc("/outgoing-friend-requests", users.Outgoing).Methods(http.MethodGet)
	userRoutes.HandleFunc("/friend-request/{id}", users.SendRequest).Methods(http.MethodPost)
	userRoutes.HandleFunc("/friend-request/{id}", users.CancelRequest).Methods(http.MethodDelete)
	userRoutes.HandleFunc("/friend-request/{id}/accept", users.AcceptRequest).Methods(http.MethodPut)
	userRoutes.HandleFunc("/me/avatar", authH.UpdateAvatar).Methods(http.MethodPut)

	return r
}
