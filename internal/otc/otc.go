// Package otc issues and consumes six digit one-time codes stored on a user.
package otc

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/repositories"
)

// DefaultTTL is how long a code stays valid after it is generated.
const DefaultTTL = 10 * time.Minute

const (
	codeFloor = 100000
	codeSpan  = 900000
)

// Slot selects which code on the user an operation targets. The slots are
// independent; touching one never alters the other.
type Slot int

const (
	SlotSignup Slot = iota
	SlotReset
)

func (s Slot) String() string {
	switch s {
	case SlotSignup:
		return "signup"
	case SlotReset:
		return "reset"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Store is the compare-and-write subset of the user repository the engine needs.
type Store interface {
	Update(ctx context.Context, id string, mutate repositories.Mutator) (models.User, error)
	UpdateByEmail(ctx context.Context, email string, mutate repositories.Mutator) (models.User, error)
}

var errCodeMismatch = errors.New("otc: code mismatch")

// Engine generates, attaches and consumes one-time codes.
type Engine struct {
	Store   Store
	TTL     time.Duration
	NowFunc func() time.Time
	// Random defaults to crypto/rand.Reader.
	Random io.Reader
}

// Generate returns a fresh code uniform over 100000-999999 expiring TTL from now.
func (e *Engine) Generate() (models.OneTimeCode, error) {
	random := e.Random
	if random == nil {
		random = rand.Reader
	}

	n, err := rand.Int(random, big.NewInt(codeSpan))
	if err != nil {
		return models.OneTimeCode{}, fmt.Errorf("generate code: %w", err)
	}

	return models.OneTimeCode{
		Value:     fmt.Sprintf("%06d", codeFloor+n.Int64()),
		ExpiresAt: e.now().Add(e.ttl()),
	}, nil
}

// IssueForUser attaches a new code to the user's slot. The optional check runs
// inside the same write and can veto it.
func (e *Engine) IssueForUser(ctx context.Context, userID string, slot Slot, check repositories.Mutator) (models.OneTimeCode, models.User, error) {
	return e.issue(slot, check, func(mutate repositories.Mutator) (models.User, error) {
		return e.Store.Update(ctx, userID, mutate)
	})
}

// IssueForEmail is IssueForUser keyed by email address. An unknown email
// yields repositories.ErrNotFound.
func (e *Engine) IssueForEmail(ctx context.Context, email string, slot Slot, check repositories.Mutator) (models.OneTimeCode, models.User, error) {
	return e.issue(slot, check, func(mutate repositories.Mutator) (models.User, error) {
		return e.Store.UpdateByEmail(ctx, email, mutate)
	})
}

func (e *Engine) issue(slot Slot, check repositories.Mutator, write func(repositories.Mutator) (models.User, error)) (models.OneTimeCode, models.User, error) {
	code, err := e.Generate()
	if err != nil {
		return models.OneTimeCode{}, models.User{}, err
	}

	user, err := write(func(u *models.User) error {
		if check != nil {
			if err := check(u); err != nil {
				return err
			}
		}
		Attach(u, slot, code)
		u.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return models.OneTimeCode{}, models.User{}, err
	}
	return code, user, nil
}

// Consume validates code against the slot of the user with the given email
// and, in the same write, clears the slot and applies then. Every failure of
// the code check, an unknown email included, is reported as
// apperr.KindInvalidOrExpiredCode.
func (e *Engine) Consume(ctx context.Context, email string, slot Slot, code string, then func(u *models.User, now time.Time)) (models.User, error) {
	if email == "" || code == "" {
		return models.User{}, apperr.InvalidOrExpiredCode()
	}

	user, err := e.Store.UpdateByEmail(ctx, email, func(u *models.User) error {
		now := e.now()
		if !slotOf(u, slot).Matches(code, now) {
			return errCodeMismatch
		}
		Clear(u, slot)
		if then != nil {
			then(u, now)
		}
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, errCodeMismatch) || errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperr.InvalidOrExpiredCode()
		}
		return models.User{}, fmt.Errorf("consume %s code: %w", slot, err)
	}
	return user, nil
}

// Attach sets the slot to code.
func Attach(u *models.User, slot Slot, code models.OneTimeCode) {
	setSlot(u, slot, &code)
}

// Clear empties the slot.
func Clear(u *models.User, slot Slot) {
	setSlot(u, slot, nil)
}

func setSlot(u *models.User, slot Slot, code *models.OneTimeCode) {
	switch slot {
	case SlotSignup:
		u.SignupCode = code
	case SlotReset:
		u.ResetCode = code
	}
}

func slotOf(u *models.User, slot Slot) *models.OneTimeCode {
	switch slot {
	case SlotSignup:
		return u.SignupCode
	case SlotReset:
		return u.ResetCode
	default:
		return nil
	}
}

func (e *Engine) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now().UTC()
}

func (e *Engine) ttl() time.Duration {
	if e.TTL > 0 {
		return e.TTL
	}
	return DefaultTTL
}
