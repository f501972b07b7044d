package accounts

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/linguachat/backend/internal/auth"
	"github.com/linguachat/backend/internal/identity"
	"github.com/linguachat/backend/internal/mail"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/otc"
	"github.com/linguachat/backend/internal/password"
	"github.com/linguachat/backend/internal/repositories"
)

type recordingGateway struct {
	mu    sync.Mutex
	calls []identity.Identity
	err   error
}

func (g *recordingGateway) Upsert(_ context.Context, id identity.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, id)
	return g.err
}

func (g *recordingGateway) Calls() []identity.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]identity.Identity(nil), g.calls...)
}

type capturingSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (s *capturingSender) Send(_ context.Context, msg mail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *capturingSender) Sent() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.sent...)
}

type avatarStoreStub struct {
	key         string
	contentType string
	body        string
	err         error
}

func (s *avatarStoreStub) Save(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, _ := io.ReadAll(r)
	s.key, s.contentType, s.body = key, contentType, string(data)
	return "https://cdn.example.com/" + key, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	auth    *Auth
	reset   *PasswordReset
	users   *repositories.MemoryUserRepository
	issuer  *auth.Issuer
	gateway *recordingGateway
	mail    *capturingSender
	avatars *avatarStoreStub
	clock   *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	users := repositories.NewMemoryUserRepository()
	issuer, err := auth.NewIssuer("test-secret", auth.DefaultSessionTTL)
	require.NoError(t, err)
	issuer.WithNowFunc(clk.Now)

	codes := &otc.Engine{Store: users, TTL: otc.DefaultTTL, NowFunc: clk.Now}
	hasher := password.NewHasher(bcrypt.MinCost)
	gateway := &recordingGateway{}
	sender := &capturingSender{}
	avatars := &avatarStoreStub{}

	var seq int
	var seqMu sync.Mutex
	newID := func() string {
		seqMu.Lock()
		defer seqMu.Unlock()
		seq++
		return "id-" + strconv.Itoa(seq)
	}

	return &harness{
		auth: &Auth{
			Users:      users,
			Codes:      codes,
			Sessions:   issuer,
			Passwords:  hasher,
			Identity:   gateway,
			Mail:       sender,
			Avatars:    avatars,
			NowFunc:    clk.Now,
			NewID:      newID,
			AvatarFunc: func() string { return "https://api.dicebear.com/7.x/adventurer/svg?seed=7" },
		},
		reset: &PasswordReset{
			Users:     users,
			Codes:     codes,
			Passwords: hasher,
			Mail:      sender,
			NowFunc:   clk.Now,
		},
		users:   users,
		issuer:  issuer,
		gateway: gateway,
		mail:    sender,
		avatars: avatars,
		clock:   clk,
	}
}

func (h *harness) signup(t *testing.T, email, fullName string) models.User {
	t.Helper()
	session, err := h.auth.Signup(context.Background(), SignupInput{Email: email, Password: "secret1", FullName: fullName})
	require.NoError(t, err)
	return session.User
}

func (h *harness) storedUser(t *testing.T, id string) models.User {
	t.Helper()
	u, err := h.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

var errBoom = errors.New("boom")
