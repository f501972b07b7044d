package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/mail"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/otc"
	"github.com/linguachat/backend/internal/repositories"
)

// DefaultResetGrantTTL is how long a verified reset code authorises a password change.
const DefaultResetGrantTTL = 10 * time.Minute

// PasswordReset drives the request, verify, change sequence. The reset slot
// is independent of the signup slot.
type PasswordReset struct {
	Users     repositories.UserRepository
	Codes     *otc.Engine
	Passwords PasswordHasher
	Mail      mail.Sender

	GrantTTL time.Duration
	NowFunc  func() time.Time
}

var errNoResetGrant = errors.New("no verified reset code")

// RequestReset issues a reset code and mails it. An unknown email is logged
// and reported as success so the endpoint does not reveal which addresses
// have accounts.
func (p *PasswordReset) RequestReset(ctx context.Context, email string) error {
	if email == "" {
		return apperr.Validation("Email is required", "email")
	}

	code, user, err := p.Codes.IssueForEmail(ctx, email, otc.SlotReset, func(u *models.User) error {
		u.ResetVerifiedUntil = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logging.FromContext(ctx).Info("password reset requested for unknown email")
			return nil
		}
		return apperr.Unavailable("issue reset code", err)
	}

	if p.Mail == nil {
		return apperr.Unavailable("send reset email", errors.New("no mail sender configured"))
	}
	msg, err := mail.ResetMessage(user.Email, user.FullName, code.Value, code.ExpiresAt.Sub(p.now()))
	if err != nil {
		return apperr.Unavailable("render reset email", err)
	}
	if err := p.Mail.Send(ctx, msg); err != nil {
		return apperr.Unavailable("send reset email", err)
	}
	return nil
}

// VerifyResetCode consumes the reset code and opens a short window in which
// ResetPassword is allowed.
func (p *PasswordReset) VerifyResetCode(ctx context.Context, email, code string) error {
	_, err := p.Codes.Consume(ctx, email, otc.SlotReset, code, func(u *models.User, now time.Time) {
		until := now.Add(p.grantTTL())
		u.ResetVerifiedUntil = &until
	})
	if err != nil {
		return classify("verify reset code", err)
	}
	return nil
}

// ResetPassword replaces the password of an account whose reset code was
// verified within the grant window.
func (p *PasswordReset) ResetPassword(ctx context.Context, email, newPassword string) error {
	if missing := missingFields(field{"email", email}, field{"password", newPassword}); len(missing) > 0 {
		return apperr.Validation("All fields are required", missing...)
	}
	if len(newPassword) < MinPasswordLength {
		return apperr.Validation("Password must be at least 6 characters", "password")
	}

	hash, err := p.Passwords.Hash(newPassword)
	if err != nil {
		return apperr.Unavailable("hash password", err)
	}

	_, err = p.Users.UpdateByEmail(ctx, email, func(u *models.User) error {
		now := p.now()
		if u.ResetVerifiedUntil == nil || !now.Before(*u.ResetVerifiedUntil) {
			return errNoResetGrant
		}
		u.PasswordHash = hash
		u.ResetCode = nil
		u.ResetVerifiedUntil = nil
		u.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound("User not found")
	case errors.Is(err, errNoResetGrant):
		return apperr.InvalidOrExpiredCode()
	case err != nil:
		return apperr.Unavailable("update password", err)
	}
	return nil
}

func (p *PasswordReset) now() time.Time {
	if p.NowFunc != nil {
		return p.NowFunc()
	}
	return time.Now().UTC()
}

func (p *PasswordReset) grantTTL() time.Duration {
	if p.GrantTTL > 0 {
		return p.GrantTTL
	}
	return DefaultResetGrantTTL
}
