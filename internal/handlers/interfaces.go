package handlers

import (
	"context"
	"io"

	"github.com/linguachat/backend/internal/accounts"
	"github.com/linguachat/backend/internal/friends"
	"github.com/linguachat/backend/internal/models"
)

// AccountService covers signup, verification, login and profile updates.
type AccountService interface {
	Signup(ctx context.Context, in accounts.SignupInput) (accounts.Session, error)
	VerifySignupCode(ctx context.Context, email, code string) (accounts.Session, error)
	ResendVerification(ctx context.Context, userID string) error
	Login(ctx context.Context, email, password string) (accounts.Session, error)
	Onboard(ctx context.Context, userID string, in accounts.OnboardInput) (models.User, error)
	Me(ctx context.Context, userID string) (models.User, error)
	UpdateAvatar(ctx context.Context, userID, contentType string, body io.Reader) (models.User, error)
}

// PasswordResetService covers the three password reset steps.
type PasswordResetService interface {
	RequestReset(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, newPassword string) error
}

// FriendService covers friend requests and recommendations.
type FriendService interface {
	SendRequest(ctx context.Context, requesterID, recipientID string) (models.FriendEdge, error)
	CancelRequest(ctx context.Context, requesterID, recipientID string) error
	AcceptRequest(ctx context.Context, edgeID, recipientID string) (models.FriendEdge, error)
	ListFriends(ctx context.Context, userID string) ([]models.User, error)
	ListIncoming(ctx context.Context, userID string) ([]friends.Request, error)
	ListOutgoing(ctx context.Context, userID string) ([]friends.Request, error)
	Recommend(ctx context.Context, userID string, page models.Page) ([]models.User, error)
}
