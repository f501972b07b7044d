package models

import (
	"crypto/subtle"
	"time"
)

// User represents an account within the LinguaChat platform.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FullName         string
	ProfilePic       string
	Bio              string
	NativeLanguage   string
	LearningLanguage string
	Location         string
	Verified         bool
	Onboarded        bool

	SignupCode *OneTimeCode
	ResetCode  *OneTimeCode
	// ResetVerifiedUntil is set once a reset code has been verified and bounds
	// how long the password may still be changed without a new code.
	ResetVerifiedUntil *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the user that shares no pointers with the receiver.
func (u User) Clone() User {
	if u.SignupCode != nil {
		c := *u.SignupCode
		u.SignupCode = &c
	}
	if u.ResetCode != nil {
		c := *u.ResetCode
		u.ResetCode = &c
	}
	if u.ResetVerifiedUntil != nil {
		t := *u.ResetVerifiedUntil
		u.ResetVerifiedUntil = &t
	}
	return u
}

// Profile is the public projection of a user.
type Profile struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	FullName         string    `json:"fullName"`
	ProfilePic       string    `json:"profilePic"`
	Bio              string    `json:"bio"`
	NativeLanguage   string    `json:"nativeLanguage"`
	LearningLanguage string    `json:"learningLanguage"`
	Location         string    `json:"location"`
	Verified         bool      `json:"isVerified"`
	Onboarded        bool      `json:"isOnboarded"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Profile returns the public view of the user. The email address is only
// included for the account owner.
func (u User) Profile(includeEmail bool) Profile {
	p := Profile{
		ID:               u.ID,
		FullName:         u.FullName,
		ProfilePic:       u.ProfilePic,
		Bio:              u.Bio,
		NativeLanguage:   u.NativeLanguage,
		LearningLanguage: u.LearningLanguage,
		Location:         u.Location,
		Verified:         u.Verified,
		Onboarded:        u.Onboarded,
		CreatedAt:        u.CreatedAt,
	}
	if includeEmail {
		p.Email = u.Email
	}
	return p
}

// OneTimeCode is a short numeric code with an absolute expiry.
type OneTimeCode struct {
	Value     string
	ExpiresAt time.Time
}

// Matches reports whether value equals the code and the code is still live at now.
func (c *OneTimeCode) Matches(value string, now time.Time) bool {
	if c == nil || value == "" {
		return false
	}
	equal := subtle.ConstantTimeCompare([]byte(c.Value), []byte(value)) == 1
	return equal && now.Before(c.ExpiresAt)
}

// FriendStatus is the lifecycle state of a FriendEdge.
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
)

// FriendEdge represents a directed friend request between two users.
type FriendEdge struct {
	ID          string
	RequesterID string
	RecipientID string
	Status      FriendStatus
	CreatedAt   time.Time
	AcceptedAt  *time.Time
}

// PairKey identifies the unordered pair of users joined by the edge.
func (e FriendEdge) PairKey() string {
	return PairKey(e.RequesterID, e.RecipientID)
}

// Counterparty returns the other side of the edge relative to userID.
func (e FriendEdge) Counterparty(userID string) string {
	if e.RequesterID == userID {
		return e.RecipientID
	}
	return e.RequesterID
}

// PairKey builds the order-independent key for two user ids.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}
