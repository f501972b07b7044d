package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/linguachat/backend/internal/friends"
	"github.com/linguachat/backend/internal/middleware"
	"github.com/linguachat/backend/internal/models"
)

// UserHandler implements the /api/users endpoints.
type UserHandler struct {
	Friends FriendService
}

type edgeResponse struct {
	ID          string     `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
}

type friendRequestResponse struct {
	edgeResponse
	Sender    *models.Profile `json:"sender,omitempty"`
	Recipient *models.Profile `json:"recipient,omitempty"`
}

// Recommended handles GET /api/users?limit=&offset=.
func (h UserHandler) Recommended(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, ok := parsePage(r)
	if !ok {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "limit and offset must be non-negative integers"})
		return
	}

	users, err := h.Friends.Recommend(ctx, middleware.UserIDFromContext(ctx), page)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, profiles(users))
}

// ListFriends handles GET /api/users/friends.
func (h UserHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.Friends.ListFriends(ctx, middleware.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, profiles(users))
}

// Incoming handles GET /api/users/friend-requests.
func (h UserHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.Friends.ListIncoming(ctx, middleware.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	out := make([]friendRequestResponse, 0, len(requests))
	for _, req := range requests {
		sender := req.User.Profile(false)
		out = append(out, friendRequestResponse{edgeResponse: toEdgeResponse(req.Edge), Sender: &sender})
	}
	respondJSON(ctx, w, http.StatusOK, out)
}

// Outgoing handles GET /api/users/outgoing-friend-requests.
func (h UserHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.Friends.ListOutgoing(ctx, middleware.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	out := make([]friendRequestResponse, 0, len(requests))
	for _, req := range requests {
		recipient := req.User.Profile(false)
		out = append(out, friendRequestResponse{edgeResponse: toEdgeResponse(req.Edge), Recipient: &recipient})
	}
	respondJSON(ctx, w, http.StatusOK, out)
}

// SendRequest handles POST /api/users/friend-request/{id}, where id is the recipient.
func (h UserHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	edge, err := h.Friends.SendRequest(ctx, middleware.UserIDFromContext(ctx), mux.Vars(r)["id"])
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, toEdgeResponse(edge))
}

// CancelRequest handles DELETE /api/users/friend-request/{id}, where id is the recipient.
func (h UserHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Friends.CancelRequest(ctx, middleware.UserIDFromContext(ctx), mux.Vars(r)["id"]); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: "Friend request cancelled"})
}

// AcceptRequest handles PUT /api/users/friend-request/{id}/accept, where id is the request.
func (h UserHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	edge, err := h.Friends.AcceptRequest(ctx, mux.Vars(r)["id"], middleware.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, toEdgeResponse(edge))
}

func parsePage(r *http.Request) (models.Page, bool) {
	var page models.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return models.Page{}, false
		}
		*dst = n
	}
	if page.Limit > friends.DefaultRecommendLimit {
		page.Limit = friends.DefaultRecommendLimit
	}
	return page, true
}

func profiles(users []models.User) []models.Profile {
	out := make([]models.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile(false))
	}
	return out
}

func toEdgeResponse(edge models.FriendEdge) edgeResponse {
	return edgeResponse{
		ID:          edge.ID,
		SenderID:    edge.RequesterID,
		RecipientID: edge.RecipientID,
		Status:      string(edge.Status),
		CreatedAt:   edge.CreatedAt,
		AcceptedAt:  edge.AcceptedAt,
	}
}
