package accounts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/identity"
	"github.com/linguachat/backend/internal/models"
)

func TestSignupVerifyOnboardScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.auth.Signup(ctx, SignupInput{Email: "a@x.com", Password: "secret1", FullName: "Alice"})
	require.NoError(t, err)
	assert.False(t, session.User.Verified)
	assert.Equal(t, "Alice", session.User.FullName)

	claims, err := h.issuer.Validate(session.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID())
	assert.False(t, claims.Verified)

	stored := h.storedUser(t, session.User.ID)
	require.NotNil(t, stored.SignupCode)
	code := stored.SignupCode.Value

	sent := h.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Contains(t, sent[0].HTML, code)

	_, err = h.auth.VerifySignupCode(ctx, "a@x.com", wrongCode(code))
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredCode)

	verified, err := h.auth.VerifySignupCode(ctx, "a@x.com", code)
	require.NoError(t, err)
	assert.True(t, verified.User.Verified)
	assert.Nil(t, verified.User.SignupCode)

	claims, err = h.issuer.Validate(verified.Token.Value)
	require.NoError(t, err)
	assert.True(t, claims.Verified)

	_, err = h.auth.VerifySignupCode(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredCode)

	_, err = h.auth.Onboard(ctx, session.User.ID, OnboardInput{
		FullName:         "Alice",
		Bio:              "hi",
		NativeLanguage:   "english",
		LearningLanguage: "spanish",
	})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, []string{"location"}, appErr.Fields)

	assert.True(t, h.storedUser(t, session.User.ID).Verified, "verified never reverts")
}

func TestSignupValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		in     SignupInput
		fields []string
	}{
		{"all missing", SignupInput{}, []string{"email", "password", "fullName"}},
		{"blank name", SignupInput{Email: "a@x.com", Password: "secret1", FullName: "  "}, []string{"fullName"}},
		{"short password", SignupInput{Email: "a@x.com", Password: "12345", FullName: "A"}, []string{"password"}},
		{"bad email", SignupInput{Email: "a@x", Password: "secret1", FullName: "A"}, []string{"email"}},
		{"email with space", SignupInput{Email: "a b@x.com", Password: "secret1", FullName: "A"}, []string{"email"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.auth.Signup(ctx, tc.in)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperr.KindValidation, appErr.Kind)
			assert.Equal(t, tc.fields, appErr.Fields)
		})
	}

	assert.Empty(t, h.mail.Sent())
	assert.Empty(t, h.gateway.Calls())
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.signup(t, "a@x.com", "Alice")

	_, err := h.auth.Signup(ctx, SignupInput{Email: "a@x.com", Password: "another1", FullName: "Other"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	users, err := h.users.ListExcept(ctx, nil, models.Page{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, first.ID, users[0].ID)
}

func TestConcurrentSignupsCreateOneUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.auth.Signup(ctx, SignupInput{Email: "race@x.com", Password: "secret1", FullName: "Race"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSignupSurvivesMailAndSyncFailures(t *testing.T) {
	h := newHarness(t)
	h.mail.err = errBoom
	h.gateway.err = errBoom

	session, err := h.auth.Signup(context.Background(), SignupInput{Email: "a@x.com", Password: "secret1", FullName: "Alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token.Value)

	calls := h.gateway.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, identity.Identity{
		ID:          session.User.ID,
		DisplayName: "Alice",
		AvatarURL:   "https://api.dicebear.com/7.x/adventurer/svg?seed=7",
	}, calls[0])
}

func TestVerifyCodeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := h.signup(t, "a@x.com", "Alice")
	code := h.storedUser(t, user.ID).SignupCode.Value

	h.clock.Advance(10 * time.Minute)
	_, err := h.auth.VerifySignupCode(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, apperr.ErrInvalidOrExpiredCode)
	assert.False(t, h.storedUser(t, user.ID).Verified)
}

func TestResendVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := h.signup(t, "a@x.com", "Alice")
	first := h.storedUser(t, user.ID).SignupCode

	h.clock.Advance(11 * time.Minute)
	require.NoError(t, h.auth.ResendVerification(ctx, user.ID))

	second := h.storedUser(t, user.ID).SignupCode
	require.NotNil(t, second)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	require.Len(t, h.mail.Sent(), 2)

	_, err := h.auth.VerifySignupCode(ctx, "a@x.com", second.Value)
	require.NoError(t, err)

	assert.ErrorIs(t, h.auth.ResendVerification(ctx, user.ID), apperr.ErrConflict)
	assert.ErrorIs(t, h.auth.ResendVerification(ctx, "missing"), apperr.ErrNotFound)
}

func TestResendVerificationReportsMailFailure(t *testing.T) {
	h := newHarness(t)
	user := h.signup(t, "a@x.com", "Alice")

	h.mail.err = errBoom
	err := h.auth.ResendVerification(context.Background(), user.ID)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := h.signup(t, "a@x.com", "Alice")

	_, unknownErr := h.auth.Login(ctx, "nobody@x.com", "secret1")
	_, wrongErr := h.auth.Login(ctx, "a@x.com", "wrong-password")
	require.ErrorIs(t, unknownErr, apperr.ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, apperr.ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	session, err := h.auth.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	claims, err := h.issuer.Validate(session.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())
	assert.False(t, claims.Verified, "an unverified user may still log in")

	_, err = h.auth.Login(ctx, "", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"email", "password"}, appErr.Fields)
}

func TestOnboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user := h.signup(t, "a@x.com", "Alice")

	updated, err := h.auth.Onboard(ctx, user.ID, OnboardInput{
		FullName:         "Alice Smith",
		Bio:              "Learning every day",
		NativeLanguage:   "english",
		LearningLanguage: "japanese",
		Location:         "Lisbon",
		ProfilePic:       "https://img/alice.png",
	})
	require.NoError(t, err)
	assert.True(t, updated.Onboarded)
	assert.Equal(t, "Alice Smith", updated.FullName)
	assert.Equal(t, "https://img/alice.png", updated.ProfilePic)
	assert.Equal(t, "a@x.com", updated.Email)

	calls := h.gateway.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, identity.Identity{ID: user.ID, DisplayName: "Alice Smith", AvatarURL: "https://img/alice.png"}, calls[1])

	_, err = h.auth.Onboard(ctx, user.ID, OnboardInput{})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"fullName", "bio", "nativeLanguage", "learningLanguage", "location"}, appErr.Fields)

	_, err = h.auth.Onboard(ctx, "missing", OnboardInput{FullName: "a", Bio: "b", NativeLanguage: "c", LearningLanguage: "d", Location: "e"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOnboardKeepsAvatarWhenNoneGiven(t *testing.T) {
	h := newHarness(t)
	user := h.signup(t, "a@x.com", "Alice")

	updated, err := h.auth.Onboard(context.Background(), user.ID, OnboardInput{FullName: "a", Bio: "b", NativeLanguage: "c", LearningLanguage: "d", Location: "e"})
	require.NoError(t, err)
	assert.Equal(t, user.ProfilePic, updated.ProfilePic)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	user := h.signup(t, "a@x.com", "Alice")

	me, err := h.auth.Me(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)

	_, err = h.auth.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateAvatar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.signup(t, "a@x.com", "Alice")

	updated, err := h.auth.UpdateAvatar(ctx, user.ID, "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.avatars.key, "avatars/"+user.ID+"/"))
	assert.True(t, strings.HasSuffix(h.avatars.key, ".png"))
	assert.Equal(t, "image/png", h.avatars.contentType)
	assert.Equal(t, "png", h.avatars.body)
	assert.Equal(t, "https://cdn.example.com/"+h.avatars.key, updated.ProfilePic)
	assert.Equal(t, updated.ProfilePic, h.storedUser(t, user.ID).ProfilePic)

	calls := h.gateway.Calls()
	assert.Equal(t, updated.ProfilePic, calls[len(calls)-1].AvatarURL)

	_, err = h.auth.UpdateAvatar(ctx, user.ID, "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.auth.UpdateAvatar(ctx, "missing", "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	h.avatars.err = errBoom
	_, err = h.auth.UpdateAvatar(ctx, user.ID, "image/jpeg", strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	h.auth.Avatars = nil
	_, err = h.auth.UpdateAvatar(ctx, user.ID, "image/jpeg", strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestRandomAvatar(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.True(t, strings.HasPrefix(RandomAvatar(), "https://api.dicebear.com/7.x/adventurer/svg?seed="))
	}
}
