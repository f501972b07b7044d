// Package accounts implements signup, email verification, login, onboarding
// and password reset on top of the credential store.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/identity"
	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/mail"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/otc"
	"github.com/linguachat/backend/internal/repositories"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	Issue(userID string, verified bool) (auth.Token, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
	CompareDummy(plain string)
}

// AvatarStore persists uploaded profile pictures and returns their URL.
type AvatarStore interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// Session is the result of a successful signup, verification or login.
type Session struct {
	User  models.User
	Token auth.Token
}

// SignupInput carries the signup form.
type SignupInput struct {
	Email    string
	Password string
	FullName string
}

// OnboardInput carries the onboarding form. ProfilePic is optional.
type OnboardInput struct {
	FullName         string
	Bio              string
	NativeLanguage   string
	LearningLanguage string
	Location         string
	ProfilePic       string
}

// Auth drives the signup and login state machine.
type Auth struct {
	Users     repositories.UserRepository
	Codes     *otc.Engine
	Sessions  SessionIssuer
	Passwords PasswordHasher
	Identity  identity.Gateway
	Mail      mail.Sender
	Avatars   AvatarStore

	NowFunc    func() time.Time
	NewID      func() string
	AvatarFunc func() string
}

var errAlreadyVerified = errors.New("already verified")

// Signup creates an unverified account, mails its verification code and
// returns an unverified session.
func (a *Auth) Signup(ctx context.Context, in SignupInput) (Session, error) {
	if missing := missingFields(
		field{"email", in.Email},
		field{"password", in.Password},
		field{"fullName", in.FullName},
	); len(missing) > 0 {
		return Session{}, apperr.Validation("All fields are required", missing...)
	}
	if len(in.Password) < MinPasswordLength {
		return Session{}, apperr.Validation("Password must be at least 6 characters", "password")
	}
	if !emailPattern.MatchString(in.Email) {
		return Session{}, apperr.Validation("Invalid email format", "email")
	}

	if _, err := a.Users.FindByEmail(ctx, in.Email); err == nil {
		return Session{}, apperr.Conflict("Email already exists, please use a different one")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return Session{}, apperr.Unavailable("look up email", err)
	}

	hash, err := a.Passwords.Hash(in.Password)
	if err != nil {
		return Session{}, apperr.Unavailable("hash password", err)
	}

	code, err := a.Codes.Generate()
	if err != nil {
		return Session{}, apperr.Unavailable("generate verification code", err)
	}

	now := a.now()
	user := models.User{
		ID:           a.newID(),
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		ProfilePic:   a.avatar(),
		SignupCode:   &code,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return Session{}, apperr.Conflict("Email already exists, please use a different one")
		}
		return Session{}, apperr.Unavailable("create user", err)
	}

	if err := a.sendVerification(ctx, user, code); err != nil {
		logging.FromContext(ctx).Warn("verification email not sent", "userId", user.ID, "error", err)
	}

	token, err := a.Sessions.Issue(user.ID, false)
	if err != nil {
		return Session{}, apperr.Unavailable("issue session", err)
	}

	identity.Sync(ctx, a.Identity, user)

	return Session{User: user, Token: token}, nil
}

// VerifySignupCode consumes the signup code and marks the account verified.
func (a *Auth) VerifySignupCode(ctx context.Context, email, code string) (Session, error) {
	user, err := a.Codes.Consume(ctx, email, otc.SlotSignup, code, func(u *models.User, _ time.Time) {
		u.Verified = true
	})
	if err != nil {
		return Session{}, classify("verify signup code", err)
	}

	token, err := a.Sessions.Issue(user.ID, true)
	if err != nil {
		return Session{}, apperr.Unavailable("issue session", err)
	}
	return Session{User: user, Token: token}, nil
}

// ResendVerification replaces the pending signup code and mails it again.
func (a *Auth) ResendVerification(ctx context.Context, userID string) error {
	code, user, err := a.Codes.IssueForUser(ctx, userID, otc.SlotSignup, func(u *models.User) error {
		if u.Verified {
			return errAlreadyVerified
		}
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyVerified):
		return apperr.Conflict("Email already verified")
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound("User not found")
	case err != nil:
		return apperr.Unavailable("issue verification code", err)
	}

	if err := a.sendVerification(ctx, user, code); err != nil {
		return apperr.Unavailable("send verification email", err)
	}
	return nil
}

// Login checks the password and returns a session carrying the stored
// verification flag. Unknown emails and wrong passwords fail identically.
func (a *Auth) Login(ctx context.Context, email, password string) (Session, error) {
	if missing := missingFields(field{"email", email}, field{"password", password}); len(missing) > 0 {
		return Session{}, apperr.Validation("All fields are required", missing...)
	}

	user, err := a.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			a.Passwords.CompareDummy(password)
			return Session{}, apperr.InvalidCredentials()
		}
		return Session{}, apperr.Unavailable("look up user", err)
	}

	if !a.Passwords.Compare(user.PasswordHash, password) {
		return Session{}, apperr.InvalidCredentials()
	}

	token, err := a.Sessions.Issue(user.ID, user.Verified)
	if err != nil {
		return Session{}, apperr.Unavailable("issue session", err)
	}
	return Session{User: user, Token: token}, nil
}

// Onboard stores the profile fields and marks the account onboarded.
func (a *Auth) Onboard(ctx context.Context, userID string, in OnboardInput) (models.User, error) {
	if missing := missingFields(
		field{"fullName", in.FullName},
		field{"bio", in.Bio},
		field{"nativeLanguage", in.NativeLanguage},
		field{"learningLanguage", in.LearningLanguage},
		field{"location", in.Location},
	); len(missing) > 0 {
		return models.User{}, apperr.Validation("All fields are required", missing...)
	}

	user, err := a.Users.Update(ctx, userID, func(u *models.User) error {
		u.FullName = in.FullName
		u.Bio = in.Bio
		u.NativeLanguage = in.NativeLanguage
		u.LearningLanguage = in.LearningLanguage
		u.Location = in.Location
		if strings.TrimSpace(in.ProfilePic) != "" {
			u.ProfilePic = in.ProfilePic
		}
		u.Onboarded = true
		u.UpdatedAt = a.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperr.NotFound("User not found")
		}
		return models.User{}, apperr.Unavailable("update user", err)
	}

	identity.Sync(ctx, a.Identity, user)
	return user, nil
}

// Me returns the caller's own account.
func (a *Auth) Me(ctx context.Context, userID string) (models.User, error) {
	user, err := a.Users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperr.NotFound("User not found")
		}
		return models.User{}, apperr.Unavailable("look up user", err)
	}
	return user, nil
}

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UpdateAvatar uploads a new profile picture and points the account at it.
func (a *Auth) UpdateAvatar(ctx context.Context, userID, contentType string, body io.Reader) (models.User, error) {
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return models.User{}, apperr.Validation("Unsupported image type", "avatar")
	}
	if a.Avatars == nil {
		return models.User{}, apperr.Unavailable("avatar storage is not configured", nil)
	}

	if _, err := a.Me(ctx, userID); err != nil {
		return models.User{}, err
	}

	key := fmt.Sprintf("avatars/%s/%s%s", userID, a.newID(), ext)
	url, err := a.Avatars.Save(ctx, key, body, contentType)
	if err != nil {
		return models.User{}, apperr.Unavailable("store avatar", err)
	}

	user, err := a.Users.Update(ctx, userID, func(u *models.User) error {
		u.ProfilePic = url
		u.UpdatedAt = a.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperr.NotFound("User not found")
		}
		return models.User{}, apperr.Unavailable("update user", err)
	}

	identity.Sync(ctx, a.Identity, user)
	return user, nil
}

func (a *Auth) sendVerification(ctx context.Context, user models.User, code models.OneTimeCode) error {
	if a.Mail == nil {
		return errors.New("no mail sender configured")
	}
	msg, err := mail.VerificationMessage(user.Email, user.FullName, code.Value, code.ExpiresAt.Sub(a.now()))
	if err != nil {
		return err
	}
	return a.Mail.Send(ctx, msg)
}

func (a *Auth) now() time.Time {
	if a.NowFunc != nil {
		return a.NowFunc()
	}
	return time.Now().UTC()
}

func (a *Auth) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

func (a *Auth) avatar() string {
	if a.AvatarFunc != nil {
		return a.AvatarFunc()
	}
	return RandomAvatar()
}

// RandomAvatar picks one of the hundred generated placeholder avatars.
func RandomAvatar() string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/adventurer/svg?seed=%d", rand.Intn(100)+1)
}

type field struct {
	name  string
	value string
}

func missingFields(fields ...field) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// classify passes domain errors through and reports anything else as a
// backend failure.
func classify(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Unavailable(op, err)
}
