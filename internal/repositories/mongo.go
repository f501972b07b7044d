package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linguachat/backend/internal/models"
)

// maxVersionRetries bounds how often a contended compare-and-write is retried.
const maxVersionRetries = 16

type codeDocument struct {
	Value     string    `bson:"value"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

type userDocument struct {
	ID                 string        `bson:"_id"`
	Email              string        `bson:"email"`
	PasswordHash       string        `bson:"passwordHash"`
	FullName           string        `bson:"fullName"`
	ProfilePic         string        `bson:"profilePic"`
	Bio                string        `bson:"bio"`
	NativeLanguage     string        `bson:"nativeLanguage"`
	LearningLanguage   string        `bson:"learningLanguage"`
	Location           string        `bson:"location"`
	Verified           bool          `bson:"isVerified"`
	Onboarded          bool          `bson:"isOnboarded"`
	SignupCode         *codeDocument `bson:"signupCode,omitempty"`
	ResetCode          *codeDocument `bson:"resetCode,omitempty"`
	ResetVerifiedUntil *time.Time    `bson:"resetVerifiedUntil,omitempty"`
	Version            int64         `bson:"version"`
	CreatedAt          time.Time     `bson:"createdAt"`
	UpdatedAt          time.Time     `bson:"updatedAt"`
}

func newUserDocument(u models.User) userDocument {
	doc := userDocument{
		ID:                 u.ID,
		Email:              u.Email,
		PasswordHash:       u.PasswordHash,
		FullName:           u.FullName,
		ProfilePic:         u.ProfilePic,
		Bio:                u.Bio,
		NativeLanguage:     u.NativeLanguage,
		LearningLanguage:   u.LearningLanguage,
		Location:           u.Location,
		Verified:           u.Verified,
		Onboarded:          u.Onboarded,
		ResetVerifiedUntil: u.ResetVerifiedUntil,
		Version:            u.Version,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
	if u.SignupCode != nil {
		doc.SignupCode = &codeDocument{Value: u.SignupCode.Value, ExpiresAt: u.SignupCode.ExpiresAt}
	}
	if u.ResetCode != nil {
		doc.ResetCode = &codeDocument{Value: u.ResetCode.Value, ExpiresAt: u.ResetCode.ExpiresAt}
	}
	return doc
}

func (d userDocument) model() models.User {
	u := models.User{
		ID:               d.ID,
		Email:            d.Email,
		PasswordHash:     d.PasswordHash,
		FullName:         d.FullName,
		ProfilePic:       d.ProfilePic,
		Bio:              d.Bio,
		NativeLanguage:   d.NativeLanguage,
		LearningLanguage: d.LearningLanguage,
		Location:         d.Location,
		Verified:         d.Verified,
		Onboarded:        d.Onboarded,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if d.SignupCode != nil {
		u.SignupCode = &models.OneTimeCode{Value: d.SignupCode.Value, ExpiresAt: d.SignupCode.ExpiresAt.UTC()}
	}
	if d.ResetCode != nil {
		u.ResetCode = &models.OneTimeCode{Value: d.ResetCode.Value, ExpiresAt: d.ResetCode.ExpiresAt.UTC()}
	}
	if d.ResetVerifiedUntil != nil {
		t := d.ResetVerifiedUntil.UTC()
		u.ResetVerifiedUntil = &t
	}
	return u
}

// MongoUserRepository stores users in a MongoDB collection.
type MongoUserRepository struct {
	users *mongo.Collection
}

// NewMongoUserRepository binds the repository to the "users" collection and
// ensures the unique email index exists.
func NewMongoUserRepository(ctx context.Context, database *mongo.Database) (*MongoUserRepository, error) {
	users := database.Collection("users")

	_, err := users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create user indexes: %w", err)
	}

	return &MongoUserRepository{users: users}, nil
}

// Create persists a new user record.
func (r *MongoUserRepository) Create(ctx context.Context, user models.User) error {
	if _, err := r.users.InsertOne(ctx, newUserDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByID fetches a user by id.
func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail fetches a user by their email address.
func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (models.User, error) {
	var doc userDocument
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.model(), nil
}

// Update applies mutate and replaces the document only if nobody else wrote
// it in between, retrying on contention.
func (r *MongoUserRepository) Update(ctx context.Context, id string, mutate Mutator) (models.User, error) {
	return r.update(ctx, bson.M{"_id": id}, mutate)
}

// UpdateByEmail is Update keyed by email address.
func (r *MongoUserRepository) UpdateByEmail(ctx context.Context, email string, mutate Mutator) (models.User, error) {
	return r.update(ctx, bson.M{"email": email}, mutate)
}

func (r *MongoUserRepository) update(ctx context.Context, filter bson.M, mutate Mutator) (models.User, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		current, err := r.findOne(ctx, filter)
		if err != nil {
			return models.User{}, err
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return models.User{}, err
		}
		next.ID = current.ID
		next.Email = current.Email
		next.Version = current.Version + 1

		res, err := r.users.ReplaceOne(ctx,
			bson.M{"_id": current.ID, "version": current.Version},
			newUserDocument(next))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return models.User{}, ErrConflict
			}
			return models.User{}, fmt.Errorf("replace user: %w", err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return models.User{}, fmt.Errorf("update user after %d attempts: %w", maxVersionRetries, errStaleWrite)
}

// ListByIDs returns the users with the given ids.
func (r *MongoUserRepository) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
}

// ListExcept returns users whose id is not in exclude, newest first.
func (r *MongoUserRepository) ListExcept(ctx context.Context, exclude []string, page models.Page) ([]models.User, error) {
	if exclude == nil {
		exclude = []string{}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset))
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$nin": exclude}}, opts)
}

func (r *MongoUserRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cursor, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

type edgeDocument struct {
	ID          string     `bson:"_id"`
	RequesterID string     `bson:"requesterId"`
	RecipientID string     `bson:"recipientId"`
	PairKey     string     `bson:"pairKey"`
	Status      string     `bson:"status"`
	CreatedAt   time.Time  `bson:"createdAt"`
	AcceptedAt  *time.Time `bson:"acceptedAt,omitempty"`
}

func (d edgeDocument) model() models.FriendEdge {
	edge := models.FriendEdge{
		ID:          d.ID,
		RequesterID: d.RequesterID,
		RecipientID: d.RecipientID,
		Status:      models.FriendStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
	}
	if d.AcceptedAt != nil {
		t := d.AcceptedAt.UTC()
		edge.AcceptedAt = &t
	}
	return edge
}

// MongoFriendRepository stores friend edges in a MongoDB collection.
type MongoFriendRepository struct {
	edges *mongo.Collection
}

// NewMongoFriendRepository binds the repository to the "friend_edges"
// collection. The unique pairKey index is what rejects duplicate edges when
// two requests race.
func NewMongoFriendRepository(ctx context.Context, database *mongo.Database) (*MongoFriendRepository, error) {
	edges := database.Collection("friend_edges")

	_, err := edges.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pairKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "requesterId", Value: 1}}},
		{Keys: bson.D{{Key: "recipientId", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create friend edge indexes: %w", err)
	}

	return &MongoFriendRepository{edges: edges}, nil
}

// Create persists a new friend edge.
func (r *MongoFriendRepository) Create(ctx context.Context, edge models.FriendEdge) error {
	doc := edgeDocument{
		ID:          edge.ID,
		RequesterID: edge.RequesterID,
		RecipientID: edge.RecipientID,
		PairKey:     edge.PairKey(),
		Status:      string(edge.Status),
		CreatedAt:   edge.CreatedAt,
		AcceptedAt:  edge.AcceptedAt,
	}
	if _, err := r.edges.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert friend edge: %w", err)
	}
	return nil
}

// FindByID fetches an edge by id.
func (r *MongoFriendRepository) FindByID(ctx context.Context, id string) (models.FriendEdge, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindBetween fetches the edge joining a and b in either direction.
func (r *MongoFriendRepository) FindBetween(ctx context.Context, a, b string) (models.FriendEdge, error) {
	return r.findOne(ctx, bson.M{"pairKey": models.PairKey(a, b)})
}

func (r *MongoFriendRepository) findOne(ctx context.Context, filter bson.M) (models.FriendEdge, error) {
	var doc edgeDocument
	if err := r.edges.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.FriendEdge{}, ErrNotFound
		}
		return models.FriendEdge{}, fmt.Errorf("find friend edge: %w", err)
	}
	return doc.model(), nil
}

// DeletePending removes a requester->recipient edge while it is still pending.
func (r *MongoFriendRepository) DeletePending(ctx context.Context, requesterID, recipientID string) error {
	res, err := r.edges.DeleteOne(ctx, bson.M{
		"requesterId": requesterID,
		"recipientId": recipientID,
		"status":      string(models.FriendStatusPending),
	})
	if err != nil {
		return fmt.Errorf("delete friend edge: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Accept moves a pending edge to accepted.
func (r *MongoFriendRepository) Accept(ctx context.Context, id string, at time.Time) (models.FriendEdge, error) {
	var doc edgeDocument
	err := r.edges.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(models.FriendStatusPending)},
		bson.M{"$set": bson.M{"status": string(models.FriendStatusAccepted), "acceptedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.FriendEdge{}, fmt.Errorf("accept friend edge: %w", err)
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return models.FriendEdge{}, err
	}
	return models.FriendEdge{}, ErrConflict
}

// ListForUser returns edges where the user is the requester or recipient.
func (r *MongoFriendRepository) ListForUser(ctx context.Context, userID string) ([]models.FriendEdge, error) {
	cursor, err := r.edges.Find(ctx,
		bson.M{"$or": bson.A{bson.M{"requesterId": userID}, bson.M{"recipientId": userID}}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find friend edges: %w", err)
	}
	defer cursor.Close(ctx)

	var edges []models.FriendEdge
	for cursor.Next(ctx) {
		var doc edgeDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode friend edge: %w", err)
		}
		edges = append(edges, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend edges: %w", err)
	}
	return edges, nil
}
