package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the fixed lifetime of an issued session token.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// CookieName is the cookie that carries the session token.
	CookieName = "jwt"
)

var (
	// ErrInvalidToken indicates the token is malformed or its signature does not verify.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenExpired indicates the token verified but is past its expiry.
	ErrTokenExpired = errors.New("session token expired")
)

// Claims carried by a session token. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Verified bool `json:"verified"`
}

// UserID returns the subject of the token.
func (c Claims) UserID() string {
	return c.Subject
}

// Token is a signed session token and its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and validates stateless session tokens with a shared secret.
// Tokens cannot be refreshed or revoked; they live until expiry or until the
// secret is rotated.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer. A non-positive ttl falls back to DefaultSessionTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithNowFunc allows tests to override the time source.
func (i *Issuer) WithNowFunc(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for userID carrying the verified flag.
func (i *Issuer) Issue(userID string, verified bool) (Token, error) {
	if userID == "" {
		return Token{}, errors.New("user id must be provided")
	}

	now := i.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Verified: verified,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}

	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Validate verifies the signature and expiry of value and returns its claims.
func (i *Issuer) Validate(value string) (Claims, error) {
	if value == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	return *claims, nil
}
