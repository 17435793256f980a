package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/auth"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

type sessionFixture struct {
	svc      *SessionService
	tokens   *TokenService
	users    *fakeUserRepo
	sessions *fakeSessionRepo
	revoked  *fakeRevokedRepo
	audit    *fakeAuditRepo
	tp       *data.FixedTimeProvider
}

func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	tp := data.NewFixedTimeProvider(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	tokens := newTestTokenService(t, tp)
	users := newFakeUserRepo()
	sessions := &fakeSessionRepo{}
	revoked := newFakeRevokedRepo()
	audit := &fakeAuditRepo{}
	cache := core.NewRevocationCache(nil, core.DefaultRevocationCacheConfig(), nil)

	svc := NewSessionService(
		nil, users, sessions, revoked, audit,
		tokens, NewBcryptHasher(4), cache,
		cfg, tp, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &sessionFixture{
		svc: svc, tokens: tokens,
		users: users, sessions: sessions, revoked: revoked, audit: audit,
		tp: tp,
	}
}

func (f *sessionFixture) addUser(t *testing.T, username, password string, mutate func(*model.User)) *model.User {
	t.Helper()
	hash, err := NewBcryptHasher(4).Hash(password)
	require.NoError(t, err)
	u := &model.User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: &hash,
		IsActive:     true,
	}
	if mutate != nil {
		mutate(u)
	}
	f.users.users[u.ID] = u
	return u
}

func TestSessionService_Login_Success(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{SessionLifetime: 24 * time.Hour})
	u := f.addUser(t, "jdoe", "pw123", nil)
	f.users.roles[u.ID] = []string{"requester"}

	result, err := f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{Info: "cli"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Pair.AccessToken)
	assert.Equal(t, "en", result.Locale)

	require.Len(t, f.sessions.created, 1)
	created := f.sessions.created[0]
	assert.Equal(t, u.ID, created.UserID)
	assert.Equal(t, result.Pair.RefreshJTI, created.RefreshTokenID)
	assert.Equal(t, f.tp.Now().Add(24*time.Hour), created.ExpiresAt)

	claims, err := f.tokens.VerifyAccess(result.Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"requester"}, claims.Roles)

	assert.Contains(t, f.audit.actions(), "login")
}

func TestSessionService_Login_UniformFailures(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	f.addUser(t, "jdoe", "pw123", nil)
	f.addUser(t, "blocked", "pw123", func(u *model.User) { u.IsBlocked = true })
	f.addUser(t, "inactive", "pw123", func(u *model.User) { u.IsActive = false })
	f.addUser(t, "stub", "pw123", func(u *model.User) { u.PasswordHash = nil })

	tests := []struct {
		name               string
		username, password string
	}{
		{"empty username", "", "pw123"},
		{"empty password", "jdoe", ""},
		{"unknown user", "ghost", "pw123"},
		{"wrong password", "jdoe", "nope"},
		{"blocked user", "blocked", "pw123"},
		{"inactive user", "inactive", "pw123"},
		{"passwordless stub", "stub", "pw123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.username, tt.password, "", auth.Device{})
			require.Error(t, err)
			assert.True(t, apperrors.IsAuthentication(err))
			assert.Equal(t, "invalid credentials", err.Error())
		})
	}
}

func TestSessionService_Login_RateLimited(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{LoginRatePerMinute: 10, LoginBurst: 2})
	f.addUser(t, "jdoe", "pw123", nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(context.Background(), "jdoe", "wrong", "", auth.Device{})
		require.Error(t, err)
		assert.True(t, apperrors.IsAuthentication(err))
	}

	_, err := f.svc.Login(context.Background(), "jdoe", "wrong", "", auth.Device{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
}

func TestSessionService_Login_LocaleResolution(t *testing.T) {
	ar := "ar"
	de := "de"
	tests := []struct {
		name      string
		requested string
		preferred *string
		expected  string
	}{
		{"supported request wins", "ar", nil, "ar"},
		{"unsupported request falls to preference", "fr", &ar, "ar"},
		{"unsupported preference falls to default", "", &de, "en"},
		{"nothing requested", "", nil, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, SessionConfig{})
			f.addUser(t, "jdoe", "pw123", func(u *model.User) { u.PreferredLang = tt.preferred })

			result, err := f.svc.Login(context.Background(), "jdoe", "pw123", tt.requested, auth.Device{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Locale)

			require.Len(t, f.sessions.created, 1)
			assert.Equal(t, tt.expected, f.sessions.created[0].Locale())
		})
	}
}

func TestSessionService_Login_ConcurrencyCap(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{MaxConcurrent: 2})
	u := f.addUser(t, "jdoe", "pw123", nil)

	now := f.tp.Now()
	// Oldest first, matching the repository ordering contract.
	f.sessions.active = []*model.Session{
		{ID: "s-old", UserID: u.ID, ExpiresAt: now.Add(time.Hour)},
		{ID: "s-mid", UserID: u.ID, ExpiresAt: now.Add(time.Hour)},
		{ID: "s-new", UserID: u.ID, ExpiresAt: now.Add(time.Hour)},
	}

	_, err := f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{})
	require.NoError(t, err)

	assert.Equal(t, []string{"s-old"}, f.sessions.revoked)
}

func TestSessionService_Login_CapSparesNewSession(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{MaxConcurrent: 1})
	u := f.addUser(t, "jdoe", "pw123", nil)

	result, err := f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{})
	require.NoError(t, err)

	now := f.tp.Now()
	f.sessions.active = []*model.Session{
		{ID: result.SessionID, UserID: u.ID, ExpiresAt: now.Add(time.Hour)},
		{ID: "s-other", UserID: u.ID, ExpiresAt: now.Add(time.Hour)},
	}
	f.sessions.revoked = nil

	_, err = f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{})
	require.NoError(t, err)

	assert.NotContains(t, f.sessions.revoked, f.sessions.created[1].ID)
}

func TestSessionService_Validate(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	u := f.addUser(t, "jdoe", "pw123", func(u *model.User) { u.IsSuperAdmin = true })
	f.users.roles[u.ID] = []string{"admin"}

	result, err := f.svc.Login(context.Background(), "jdoe", "pw123", "ar", auth.Device{})
	require.NoError(t, err)

	snap, err := f.svc.Validate(context.Background(), result.Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, snap.UserID)
	assert.Equal(t, "jdoe", snap.Username)
	assert.Equal(t, []string{"admin"}, snap.Roles)
	assert.Equal(t, "ar", snap.Locale)
	assert.True(t, snap.IsSuperAdmin)
}

func TestSessionService_Validate_RevokedToken(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	f.addUser(t, "jdoe", "pw123", nil)

	result, err := f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{})
	require.NoError(t, err)

	f.revoked.jtis[result.Pair.AccessJTI] = true

	_, err = f.svc.Validate(context.Background(), result.Pair.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsRevokedToken(err))
}

func TestSessionService_Validate_AccountDisabled(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	u := f.addUser(t, "jdoe", "pw123", nil)

	result, err := f.svc.Login(context.Background(), "jdoe", "pw123", "", auth.Device{})
	require.NoError(t, err)

	// Disable after issue; the token is cryptographically valid but dead.
	u.IsActive = false

	_, err = f.svc.Validate(context.Background(), result.Pair.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.IsRevokedToken(err))
}

func TestSessionService_Validate_GarbageToken(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	_, err := f.svc.Validate(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidToken(err))
}

func TestSessionService_Logout_IdempotentOnBadToken(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	// A garbage or expired refresh token is a successful logout.
	assert.NoError(t, f.svc.Logout(context.Background(), "garbage", ""))
	assert.Empty(t, f.revoked.inserted)
}

func TestSessionService_RevokeSession(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	err := f.svc.RevokeSession(context.Background(), "s-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, f.sessions.revoked)
	assert.Contains(t, f.audit.actions(), "session_revoked")
}

func TestSessionService_PurgeExpiredRevocations(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	f.revoked.purged = 7

	n, err := f.svc.PurgeExpiredRevocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestSessionService_RefreshCookie(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{CookieName: "rt", CookiePath: "/api/auth", CookieSecure: true})

	expires := time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC)
	c := f.svc.RefreshCookie("token-value", expires)
	assert.Equal(t, "rt", c.Name)
	assert.Equal(t, "/api/auth", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, expires, c.Expires)

	cleared := f.svc.ClearRefreshCookie()
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestSessionService_RefreshCookie_SameSitePerConfig(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{CookieSameSite: http.SameSiteLaxMode})

	c := f.svc.RefreshCookie("token-value", time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}
