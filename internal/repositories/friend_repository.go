package repositories

import (
	"context"
	"time"

	"github.com/linguachat/backend/internal/models"
)

// FriendRepository defines data access for friend edges.
//
// Implementations enforce at most one edge per unordered pair of users; a
// second Create for the same pair, in either direction, fails with ErrConflict.
type FriendRepository interface {
	Create(ctx context.Context, edge models.FriendEdge) error
	FindByID(ctx context.Context, id string) (models.FriendEdge, error)
	FindBetween(ctx context.Context, a, b string) (models.FriendEdge, error)
	// DeletePending removes the requester->recipient edge only while it is pending.
	DeletePending(ctx context.Context, requesterID, recipientID string) error
	// Accept moves a pending edge to accepted. An edge that is no longer
	// pending yields ErrConflict.
	Accept(ctx context.Context, id string, at time.Time) (models.FriendEdge, error)
	ListForUser(ctx context.Context, userID string) ([]models.FriendEdge, error)
}
