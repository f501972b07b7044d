// Package identity publishes users' public identity to the external chat
// directory. Publishing is best effort: callers commit their own state first
// and only log a failed sync.
package identity

import (
	"context"
	"log/slog"

	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/models"
)

// Identity is the presentable subset of a user known to the chat directory.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"image"`
}

// FromUser projects a user onto its directory identity.
func FromUser(u models.User) Identity {
	return Identity{ID: u.ID, DisplayName: u.FullName, AvatarURL: u.ProfilePic}
}

// Gateway upserts identities into the directory. Upserts are idempotent.
type Gateway interface {
	Upsert(ctx context.Context, identity Identity) error
}

// Sync upserts the users' identities and logs any failure. It never returns
// an error so it cannot fail the caller's request.
func Sync(ctx context.Context, gateway Gateway, users ...models.User) {
	if gateway == nil {
		return
	}
	logger := logging.FromContext(ctx)
	for _, u := range users {
		if err := gateway.Upsert(ctx, FromUser(u)); err != nil {
			logger.Warn("identity sync failed", "userId", u.ID, "error", err)
		}
	}
}

// LogDirectory is a Gateway that only logs. It stands in for the chat
// directory when no credentials are configured.
type LogDirectory struct {
	Logger *slog.Logger
}

// Upsert logs the identity.
func (d LogDirectory) Upsert(ctx context.Context, identity Identity) error {
	logger := d.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger.Debug("identity upsert", "userId", identity.ID, "name", identity.DisplayName)
	return nil
}
