package handlers

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/linguachat/backend/internal/accounts"
	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/middleware"
	"github.com/linguachat/backend/internal/models"
)

// DefaultMaxAvatarBytes caps avatar uploads when no limit is configured.
const DefaultMaxAvatarBytes = 2 << 20

// AuthHandler implements the /api/auth endpoints and avatar uploads.
type AuthHandler struct {
	Accounts AccountService
	Resets   PasswordResetService
	// SecureCookies marks the session cookie Secure; enabled in production.
	SecureCookies  bool
	MaxAvatarBytes int64
	NowFunc        func() time.Time
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyCodeRequest struct {
	Email string     `json:"email"`
	Code  codeString `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type onboardRequest struct {
	FullName         string `json:"fullName"`
	Bio              string `json:"bio"`
	NativeLanguage   string `json:"nativeLanguage"`
	LearningLanguage string `json:"learningLanguage"`
	Location         string `json:"location"`
	ProfilePic       string `json:"profilePic"`
}

type authResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	User    *models.Profile `json:"user,omitempty"`
	Token   string          `json:"token,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Signup handles POST /api/auth/signup.
func (h AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	session, err := h.Accounts.Signup(ctx, accounts.SignupInput{Email: req.Email, Password: req.Password, FullName: req.FullName})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	logging.FromContext(ctx).Info("user signed up", "userId", session.User.ID)
	respondJSON(ctx, w, http.StatusCreated, sessionResponse(session, "Signup successful. Please verify your email."))
}

// Login handles POST /api/auth/login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	session, err := h.Accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	respondJSON(ctx, w, http.StatusOK, sessionResponse(session, ""))
}

// Logout handles POST /api/auth/logout. Sessions are stateless, so this only
// expires the cookie.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.SecureCookies,
	})
	respondJSON(r.Context(), w, http.StatusOK, messageResponse{Success: true, Message: "Logout successful"})
}

// VerifyCode handles POST /api/auth/verify-code.
func (h AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	session, err := h.Accounts.VerifySignupCode(ctx, req.Email, string(req.Code))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	respondJSON(ctx, w, http.StatusOK, sessionResponse(session, "Email verified successfully"))
}

// ResendCode handles POST /api/auth/resend-code for the signed-in user.
func (h AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Accounts.ResendVerification(ctx, middleware.UserIDFromContext(ctx)); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: "Verification code sent"})
}

// Onboard handles POST /api/auth/onboarding.
func (h AuthHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.Accounts.Onboard(ctx, middleware.UserIDFromContext(ctx), accounts.OnboardInput{
		FullName:         req.FullName,
		Bio:              req.Bio,
		NativeLanguage:   req.NativeLanguage,
		LearningLanguage: req.LearningLanguage,
		Location:         req.Location,
		ProfilePic:       req.ProfilePic,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	profile := user.Profile(true)
	respondJSON(ctx, w, http.StatusOK, authResponse{Success: true, User: &profile})
}

// Me handles GET /api/auth/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.Accounts.Me(ctx, middleware.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	profile := user.Profile(true)
	respondJSON(ctx, w, http.StatusOK, authResponse{Success: true, User: &profile})
}

// UpdateAvatar handles PUT /api/users/me/avatar. The body is the raw image.
func (h AuthHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.MaxAvatarBytes
	if limit <= 0 {
		limit = DefaultMaxAvatarBytes
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		logging.FromContext(ctx).Warn("read avatar body", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if int64(len(data)) > limit {
		respondJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Image is too large"})
		return
	}
	if len(data) == 0 {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Image is required", MissingFields: []string{"avatar"}})
		return
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || contentType == "application/octet-stream" {
		contentType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}

	user, err := h.Accounts.UpdateAvatar(ctx, middleware.UserIDFromContext(ctx), contentType, bytes.NewReader(data))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	profile := user.Profile(true)
	respondJSON(ctx, w, http.StatusOK, authResponse{Success: true, User: &profile})
}

// SendResetCode handles POST /api/auth/send-reset-code.
func (h AuthHandler) SendResetCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.Resets.RequestReset(ctx, req.Email); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: "If an account exists for that email, a reset code has been sent"})
}

// VerifyResetCode handles POST /api/auth/verify-reset-code.
func (h AuthHandler) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.Resets.VerifyResetCode(ctx, req.Email, string(req.Code)); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: "OTP verified successfully"})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.Resets.ResetPassword(ctx, req.Email, req.Password); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: "Password reset successfully"})
}

func (h AuthHandler) setSessionCookie(w http.ResponseWriter, token auth.Token) {
	maxAge := int(token.ExpiresAt.Sub(h.now()) / time.Second)
	if maxAge <= 0 {
		maxAge = int(auth.DefaultSessionTTL / time.Second)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token.Value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.SecureCookies,
	})
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func sessionResponse(session accounts.Session, message string) authResponse {
	profile := session.User.Profile(true)
	return authResponse{Success: true, Message: message, User: &profile, Token: session.Token.Value}
}
