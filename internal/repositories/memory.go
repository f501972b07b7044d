package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linguachat/backend/internal/models"
)

// MemoryUserRepository keeps users in process memory. It is used for local
// development and tests.
type MemoryUserRepository struct {
	mu      sync.Mutex
	byID    map[string]models.User
	byEmail map[string]string
}

// NewMemoryUserRepository constructs an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

// Create persists a new user record.
func (r *MemoryUserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return ErrConflict
	}
	if _, exists := r.byID[user.ID]; exists {
		return ErrConflict
	}
	r.byID[user.ID] = user.Clone()
	r.byEmail[user.Email] = user.ID
	return nil
}

// FindByID fetches a user by id.
func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user.Clone(), nil
}

// FindByEmail fetches a user by their email address.
func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

// Update applies mutate to the stored user under the repository lock.
func (r *MemoryUserRepository) Update(_ context.Context, id string, mutate Mutator) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updateLocked(id, mutate)
}

// UpdateByEmail applies mutate to the user with the given email.
func (r *MemoryUserRepository) UpdateByEmail(_ context.Context, email string, mutate Mutator) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.updateLocked(id, mutate)
}

func (r *MemoryUserRepository) updateLocked(id string, mutate Mutator) (models.User, error) {
	current, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrNotFound
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return models.User{}, err
	}
	next.ID = current.ID
	next.Email = current.Email
	next.Version = current.Version + 1

	r.byID[id] = next
	return next.Clone(), nil
}

// ListByIDs returns the users with the given ids. Unknown ids are skipped.
func (r *MemoryUserRepository) ListByIDs(_ context.Context, ids []string) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.byID[id]; ok {
			users = append(users, user.Clone())
		}
	}
	return users, nil
}

// ListExcept returns users not in exclude ordered by newest first.
func (r *MemoryUserRepository) ListExcept(_ context.Context, exclude []string, page models.Page) ([]models.User, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	r.mu.Lock()
	users := make([]models.User, 0, len(r.byID))
	for id, user := range r.byID {
		if _, ok := skip[id]; ok {
			continue
		}
		users = append(users, user.Clone())
	}
	r.mu.Unlock()

	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})

	return paginate(users, page), nil
}

func paginate(users []models.User, page models.Page) []models.User {
	if page.Offset >= len(users) {
		return []models.User{}
	}
	if page.Offset > 0 {
		users = users[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(users) {
		users = users[:page.Limit]
	}
	return users
}

// MemoryFriendRepository keeps friend edges in process memory.
type MemoryFriendRepository struct {
	mu     sync.Mutex
	edges  map[string]models.FriendEdge
	byPair map[string]string
}

// NewMemoryFriendRepository constructs an empty in-memory friend repository.
func NewMemoryFriendRepository() *MemoryFriendRepository {
	return &MemoryFriendRepository{
		edges:  make(map[string]models.FriendEdge),
		byPair: make(map[string]string),
	}
}

// Create stores a new edge unless the pair is already connected.
func (r *MemoryFriendRepository) Create(_ context.Context, edge models.FriendEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := edge.PairKey()
	if _, exists := r.byPair[key]; exists {
		return ErrConflict
	}
	if _, exists := r.edges[edge.ID]; exists {
		return ErrConflict
	}
	r.edges[edge.ID] = edge
	r.byPair[key] = edge.ID
	return nil
}

// FindByID fetches an edge by id.
func (r *MemoryFriendRepository) FindByID(_ context.Context, id string) (models.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	edge, ok := r.edges[id]
	if !ok {
		return models.FriendEdge{}, ErrNotFound
	}
	return edge, nil
}

// FindBetween fetches the edge joining a and b in either direction.
func (r *MemoryFriendRepository) FindBetween(_ context.Context, a, b string) (models.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPair[models.PairKey(a, b)]
	if !ok {
		return models.FriendEdge{}, ErrNotFound
	}
	return r.edges[id], nil
}

// DeletePending removes a pending requester->recipient edge.
func (r *MemoryFriendRepository) DeletePending(_ context.Context, requesterID, recipientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := models.PairKey(requesterID, recipientID)
	id, ok := r.byPair[key]
	if !ok {
		return ErrNotFound
	}
	edge := r.edges[id]
	if edge.RequesterID != requesterID || edge.Status != models.FriendStatusPending {
		return ErrNotFound
	}
	delete(r.edges, id)
	delete(r.byPair, key)
	return nil
}

// Accept transitions a pending edge to accepted.
func (r *MemoryFriendRepository) Accept(_ context.Context, id string, at time.Time) (models.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	edge, ok := r.edges[id]
	if !ok {
		return models.FriendEdge{}, ErrNotFound
	}
	if edge.Status != models.FriendStatusPending {
		return models.FriendEdge{}, ErrConflict
	}
	edge.Status = models.FriendStatusAccepted
	edge.AcceptedAt = &at
	r.edges[id] = edge
	return edge, nil
}

// ListForUser returns every edge touching userID, newest first.
func (r *MemoryFriendRepository) ListForUser(_ context.Context, userID string) ([]models.FriendEdge, error) {
	r.mu.Lock()
	var edges []models.FriendEdge
	for _, edge := range r.edges {
		if edge.RequesterID == userID || edge.RecipientID == userID {
			edges = append(edges, edge)
		}
	}
	r.mu.Unlock()

	sort.Slice(edges, func(i, j int) bool {
		return edges[i].CreatedAt.After(edges[j].CreatedAt)
	})
	return edges, nil
}
