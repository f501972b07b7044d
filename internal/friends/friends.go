// Package friends manages friend requests and recommendations.
package friends

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/identity"
	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/repositories"
)

// DefaultRecommendLimit caps a recommendation page when the caller gives no limit.
const DefaultRecommendLimit = 50

// Request is a pending edge together with the user on the other side of it.
type Request struct {
	Edge models.FriendEdge
	User models.User
}

// Service implements the friend relationship operations.
type Service struct {
	Users    repositories.UserRepository
	Edges    repositories.FriendRepository
	Identity identity.Gateway

	RecommendLimit int
	NowFunc        func() time.Time
	NewID          func() string
}

// SendRequest creates a pending edge from requester to recipient. Any edge
// already joining the pair, in either direction and any status, is a conflict.
func (s *Service) SendRequest(ctx context.Context, requesterID, recipientID string) (models.FriendEdge, error) {
	if requesterID == recipientID {
		return models.FriendEdge{}, apperr.Conflict("You can't send a friend request to yourself")
	}

	if _, err := s.Users.FindByID(ctx, recipientID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendEdge{}, apperr.NotFound("Recipient not found")
		}
		return models.FriendEdge{}, apperr.Unavailable("look up recipient", err)
	}

	existing, err := s.Edges.FindBetween(ctx, requesterID, recipientID)
	switch {
	case err == nil:
		if existing.Status == models.FriendStatusAccepted {
			return models.FriendEdge{}, apperr.Conflict("You are already friends with this user")
		}
		return models.FriendEdge{}, apperr.Conflict("A friend request already exists between you and this user")
	case !errors.Is(err, repositories.ErrNotFound):
		return models.FriendEdge{}, apperr.Unavailable("look up friend request", err)
	}

	edge := models.FriendEdge{
		ID:          s.newID(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      models.FriendStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.Edges.Create(ctx, edge); err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return models.FriendEdge{}, apperr.Conflict("A friend request already exists between you and this user")
		case errors.Is(err, repositories.ErrNotFound):
			return models.FriendEdge{}, apperr.NotFound("Recipient not found")
		default:
			return models.FriendEdge{}, apperr.Unavailable("create friend request", err)
		}
	}
	return edge, nil
}

// CancelRequest withdraws a pending request the caller sent. Accepted edges
// are never removed.
func (s *Service) CancelRequest(ctx context.Context, requesterID, recipientID string) error {
	if err := s.Edges.DeletePending(ctx, requesterID, recipientID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return apperr.NotFound("Friend request not found")
		}
		return apperr.Unavailable("cancel friend request", err)
	}
	return nil
}

// AcceptRequest accepts a pending edge addressed to recipientID and syncs
// both users to the chat directory. Accepting an accepted edge again returns
// it unchanged.
func (s *Service) AcceptRequest(ctx context.Context, edgeID, recipientID string) (models.FriendEdge, error) {
	edge, err := s.findEdge(ctx, edgeID)
	if err != nil {
		return models.FriendEdge{}, err
	}
	if edge.RecipientID != recipientID {
		return models.FriendEdge{}, apperr.Forbidden("You are not authorized to accept this request")
	}
	if edge.Status == models.FriendStatusAccepted {
		return edge, nil
	}

	accepted, err := s.Edges.Accept(ctx, edgeID, s.now())
	switch {
	case errors.Is(err, repositories.ErrConflict):
		// lost a race with another accept
		return s.findEdge(ctx, edgeID)
	case errors.Is(err, repositories.ErrNotFound):
		return models.FriendEdge{}, apperr.NotFound("Friend request not found")
	case err != nil:
		return models.FriendEdge{}, apperr.Unavailable("accept friend request", err)
	}

	users, err := s.Users.ListByIDs(ctx, []string{accepted.RequesterID, accepted.RecipientID})
	if err != nil {
		logging.FromContext(ctx).Warn("load users for identity sync", "edgeId", accepted.ID, "error", err)
		return accepted, nil
	}
	identity.Sync(ctx, s.Identity, users...)

	return accepted, nil
}

// ListFriends returns the users joined to userID by an accepted edge.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	edges, err := s.edgesFor(ctx, userID, func(e models.FriendEdge) bool {
		return e.Status == models.FriendStatusAccepted
	})
	if err != nil {
		return nil, err
	}

	requests, err := s.attachUsers(ctx, userID, edges)
	if err != nil {
		return nil, err
	}
	friends := make([]models.User, 0, len(requests))
	for _, r := range requests {
		friends = append(friends, r.User)
	}
	return friends, nil
}

// ListIncoming returns pending requests addressed to userID with their senders.
func (s *Service) ListIncoming(ctx context.Context, userID string) ([]Request, error) {
	edges, err := s.edgesFor(ctx, userID, func(e models.FriendEdge) bool {
		return e.Status == models.FriendStatusPending && e.RecipientID == userID
	})
	if err != nil {
		return nil, err
	}
	return s.attachUsers(ctx, userID, edges)
}

// ListOutgoing returns pending requests sent by userID with their recipients.
func (s *Service) ListOutgoing(ctx context.Context, userID string) ([]Request, error) {
	edges, err := s.edgesFor(ctx, userID, func(e models.FriendEdge) bool {
		return e.Status == models.FriendStatusPending && e.RequesterID == userID
	})
	if err != nil {
		return nil, err
	}
	return s.attachUsers(ctx, userID, edges)
}

// Recommend lists users that are neither userID itself nor joined to it by
// any edge, newest first.
func (s *Service) Recommend(ctx context.Context, userID string, page models.Page) ([]models.User, error) {
	edges, err := s.edgesFor(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	exclude := make([]string, 0, len(edges)+1)
	exclude = append(exclude, userID)
	for _, e := range edges {
		exclude = append(exclude, e.Counterparty(userID))
	}

	if page.Limit <= 0 {
		page.Limit = s.recommendLimit()
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	users, err := s.Users.ListExcept(ctx, exclude, page)
	if err != nil {
		return nil, apperr.Unavailable("list recommended users", err)
	}
	return users, nil
}

func (s *Service) findEdge(ctx context.Context, id string) (models.FriendEdge, error) {
	edge, err := s.Edges.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendEdge{}, apperr.NotFound("Friend request not found")
		}
		return models.FriendEdge{}, apperr.Unavailable("look up friend request", err)
	}
	return edge, nil
}

func (s *Service) edgesFor(ctx context.Context, userID string, keep func(models.FriendEdge) bool) ([]models.FriendEdge, error) {
	all, err := s.Edges.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable("list friend requests", err)
	}
	if keep == nil {
		return all, nil
	}
	edges := all[:0]
	for _, e := range all {
		if keep(e) {
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// attachUsers pairs each edge with its counterparty, keeping edge order. Edges
// whose counterparty no longer exists are dropped.
func (s *Service) attachUsers(ctx context.Context, userID string, edges []models.FriendEdge) ([]Request, error) {
	if len(edges) == 0 {
		return []Request{}, nil
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Counterparty(userID))
	}

	users, err := s.Users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Unavailable("load users", err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	requests := make([]Request, 0, len(edges))
	for _, e := range edges {
		u, ok := byID[e.Counterparty(userID)]
		if !ok {
			continue
		}
		requests = append(requests, Request{Edge: e, User: u})
	}
	return requests, nil
}

func (s *Service) recommendLimit() int {
	if s.RecommendLimit > 0 {
		return s.RecommendLimit
	}
	return DefaultRecommendLimit
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
