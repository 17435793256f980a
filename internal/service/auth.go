package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/auth"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// SessionService owns the login/refresh/validate/revoke lifecycle. Refresh
// rotation serialises on a row lock; the revocation cache only ever stores
// negative results, so losing it degrades to store lookups, never to accepting
// a revoked token.
type SessionService struct {
	db       *sql.DB
	users    core.UserRepository
	sessions core.SessionRepository
	revoked  core.RevokedTokenRepository
	audit    core.AuditLogRepository
	tokens   ports.TokenAuthority
	hasher   ports.Hasher
	cache    *core.RevocationCache

	cfg          SessionConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// SessionConfig holds session policy knobs.
type SessionConfig struct {
	// SessionLifetime bounds the refresh session; rotation never extends it.
	SessionLifetime time.Duration
	// MaxConcurrent caps live sessions per user; 0 disables the cap. The oldest
	// session is revoked to make room.
	MaxConcurrent int

	DefaultLocale    string
	SupportedLocales []string

	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// LoginRatePerMinute throttles login attempts per username; 0 disables.
	LoginRatePerMinute int
	LoginBurst         int
}

// NewSessionService wires the session manager.
func NewSessionService(
	db *sql.DB,
	users core.UserRepository,
	sessions core.SessionRepository,
	revoked core.RevokedTokenRepository,
	audit core.AuditLogRepository,
	tokens ports.TokenAuthority,
	hasher ports.Hasher,
	cache *core.RevocationCache,
	cfg SessionConfig,
	tp data.TimeProvider,
	logger *slog.Logger,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = 7 * 24 * time.Hour
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if len(cfg.SupportedLocales) == 0 {
		cfg.SupportedLocales = []string{"en", "ar"}
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "refresh_token"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.CookieSameSite == 0 {
		cfg.CookieSameSite = http.SameSiteStrictMode
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = cfg.LoginRatePerMinute
	}
	return &SessionService{
		db:           db,
		users:        users,
		sessions:     sessions,
		revoked:      revoked,
		audit:        audit,
		tokens:       tokens,
		hasher:       hasher,
		cache:        cache,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-username login limiter.
func (s *SessionService) limiterFor(username string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[username]
	if !ok {
		perSecond := rate.Limit(float64(s.cfg.LoginRatePerMinute) / 60.0)
		lim = rate.NewLimiter(perSecond, s.cfg.LoginBurst)
		s.limiters[username] = lim
	}
	return lim
}

// resolveLocale walks the chain: requested, user preference, default. Anything
// unsupported falls through to the next link.
func (s *SessionService) resolveLocale(requested string, user *model.User) string {
	supported := func(l string) bool {
		for _, cand := range s.cfg.SupportedLocales {
			if cand == l {
				return true
			}
		}
		return false
	}
	if requested != "" && supported(requested) {
		return requested
	}
	if user.PreferredLang != nil && supported(*user.PreferredLang) {
		return *user.PreferredLang
	}
	return s.cfg.DefaultLocale
}

// Login verifies credentials and opens a session. Every credential failure is
// the same uniform error; callers never learn which check failed.
func (s *SessionService) Login(
	ctx context.Context,
	username, password, requestedLocale string,
	device auth.Device,
) (*auth.LoginResult, error) {
	if username == "" || password == "" {
		return nil, apperrors.Authentication()
	}
	if s.cfg.LoginRatePerMinute > 0 && !s.limiterFor(username).Allow() {
		return nil, apperrors.New(apperrors.ErrCodeTimeout, "too many login attempts, try again later")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Authentication()
		}
		return nil, err
	}
	if !user.IsActive || user.IsBlocked || user.PasswordHash == nil {
		return nil, apperrors.Authentication()
	}
	if err = s.hasher.Verify(*user.PasswordHash, password); err != nil {
		s.auditAuth(ctx, "login_failed", user.ID, nil)
		return nil, apperrors.Authentication()
	}

	roles, err := s.users.ListRoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	locale := s.resolveLocale(requestedLocale, user)

	pair, err := s.tokens.IssuePair(auth.Claims{
		Subject: user.Username,
		UserID:  user.ID,
		Roles:   roles,
		Locale:  locale,
	})
	if err != nil {
		return nil, err
	}

	metadata, _ := json.Marshal(model.SessionMetadata{Locale: locale})
	now := s.timeProvider.Now()
	session, err := s.sessions.Create(ctx, model.CreateSessionParams{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		RefreshTokenID: pair.RefreshJTI,
		ExpiresAt:      now.Add(s.cfg.SessionLifetime),
		DeviceInfo:     optString(device.Info),
		IPAddress:      optString(device.IPAddress),
		Fingerprint:    optString(device.Fingerprint),
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}

	if err = s.enforceLimit(ctx, user.ID, session.ID); err != nil {
		s.logger.Warn("session limit enforcement failed", "user_id", user.ID, "error", err)
	}
	s.auditAuth(ctx, "login", user.ID, &session.ID)

	return &auth.LoginResult{Pair: pair, SessionID: session.ID, Locale: locale}, nil
}

// enforceLimit revokes oldest sessions beyond the concurrency cap, never the
// one just created.
func (s *SessionService) enforceLimit(ctx context.Context, userID, keepSessionID string) error {
	if s.cfg.MaxConcurrent <= 0 {
		return nil
	}
	active, err := s.sessions.ListActiveByUser(ctx, userID, s.timeProvider.Now())
	if err != nil {
		return err
	}
	excess := len(active) - s.cfg.MaxConcurrent
	for _, sess := range active {
		if excess <= 0 {
			break
		}
		if sess.ID == keepSessionID {
			continue
		}
		if _, err = s.sessions.Revoke(ctx, sess.ID); err != nil {
			return err
		}
		s.cache.MarkSessionInvalid(ctx, sess.ID)
		excess--
	}
	return nil
}

// Refresh rotates the refresh token. The entire exchange happens inside one
// transaction holding the session row lock, so a replayed token loses the race
// and sees either the rotated state or the revocation.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*auth.LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.cache.IsTokenRevoked(ctx, claims.JTI) {
		return nil, apperrors.RevokedToken("refresh token revoked")
	}
	revoked, err := s.revoked.Exists(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.cache.MarkTokenRevoked(ctx, claims.JTI)
		return nil, apperrors.RevokedToken("refresh token revoked")
	}

	var result *auth.LoginResult
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		session, txErr := s.sessions.GetByRefreshTokenIDForUpdate(ctx, tx, claims.JTI)
		if txErr != nil {
			if apperrors.IsNotFound(txErr) {
				// The jti no longer names any session: either it was already
				// rotated away (replay) or the session is gone.
				return apperrors.RevokedToken("refresh token superseded")
			}
			return txErr
		}
		now := s.timeProvider.Now()
		if !session.Valid(now) {
			s.cache.MarkSessionInvalid(ctx, session.ID)
			if session.Revoked {
				return apperrors.RevokedToken("session revoked")
			}
			return apperrors.ExpiredToken("session expired")
		}

		user, txErr := s.users.GetByID(ctx, session.UserID)
		if txErr != nil {
			return txErr
		}
		if !user.IsActive || user.IsBlocked {
			return apperrors.RevokedToken("account disabled")
		}
		roles, txErr := s.users.ListRoleNames(ctx, user.ID)
		if txErr != nil {
			return txErr
		}
		locale := session.Locale()
		if locale == "" {
			locale = s.resolveLocale("", user)
		}

		pair, txErr := s.tokens.IssuePair(auth.Claims{
			Subject: user.Username,
			UserID:  user.ID,
			Roles:   roles,
			Locale:  locale,
		})
		if txErr != nil {
			return txErr
		}
		if txErr = s.sessions.RotateTx(ctx, tx, model.RotateSessionParams{
			SessionID:         session.ID,
			NewRefreshTokenID: pair.RefreshJTI,
			LastSeenAt:        now,
		}); txErr != nil {
			return txErr
		}
		result = &auth.LoginResult{Pair: pair, SessionID: session.ID, Locale: locale}
		return nil
	}})
	if err != nil {
		return nil, err
	}

	// Old refresh jti dies with the rotation. Recorded after commit: if the
	// insert fails the jti no longer matches any session row anyway.
	if insErr := s.revoked.Insert(ctx, model.RevokedToken{
		JTI:       claims.JTI,
		TokenType: string(auth.TokenTypeRefresh),
		UserID:    claims.UserID,
		RevokedAt: s.timeProvider.Now(),
		ExpiresAt: claims.ExpiresAt,
	}); insErr != nil {
		s.logger.Warn("failed to record rotated refresh jti", "jti", claims.JTI, "error", insErr)
	}
	s.cache.MarkTokenRevoked(ctx, claims.JTI)
	return result, nil
}

// ValidationSnapshot is the cached result of a successful validation.
type ValidationSnapshot struct {
	UserID       string   `json:"user_id"`
	Username     string   `json:"username"`
	Roles        []string `json:"roles,omitempty"`
	Locale       string   `json:"locale,omitempty"`
	IsSuperAdmin bool     `json:"is_super_admin"`
}

// Validate checks an access token and returns the caller's snapshot. The read
// path is lock-free: cache first, then the authoritative store.
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*ValidationSnapshot, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	if s.cache.IsTokenRevoked(ctx, claims.JTI) {
		return nil, apperrors.RevokedToken("token revoked")
	}
	revoked, err := s.revoked.Exists(ctx, claims.JTI)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.cache.MarkTokenRevoked(ctx, claims.JTI)
		return nil, apperrors.RevokedToken("token revoked")
	}

	if cached := s.cache.GetSnapshot(ctx, claims.UserID, claims.Locale); cached != nil {
		var snap ValidationSnapshot
		if jsonErr := json.Unmarshal(cached, &snap); jsonErr == nil {
			return &snap, nil
		}
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive || user.IsBlocked {
		return nil, apperrors.RevokedToken("account disabled")
	}
	roles, err := s.users.ListRoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	snap := &ValidationSnapshot{
		UserID:       user.ID,
		Username:     user.Username,
		Roles:        roles,
		Locale:       claims.Locale,
		IsSuperAdmin: user.IsSuperAdmin,
	}
	if data, jsonErr := json.Marshal(snap); jsonErr == nil {
		s.cache.PutSnapshot(ctx, user.ID, claims.Locale, data)
	}
	return snap, nil
}

// Logout revokes the session bound to the presented refresh token and records
// both jtis as dead. Idempotent: an already-revoked token is a successful logout.
func (s *SessionService) Logout(ctx context.Context, refreshToken, accessJTI string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		if apperrors.IsTokenRejection(err) {
			return nil
		}
		return err
	}
	var sessionID string
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		session, txErr := s.sessions.GetByRefreshTokenIDForUpdate(ctx, tx, claims.JTI)
		if txErr != nil {
			if apperrors.IsNotFound(txErr) {
				return nil
			}
			return txErr
		}
		sessionID = session.ID
		return nil
	}})
	if err != nil {
		return err
	}
	if sessionID != "" {
		if _, err = s.sessions.Revoke(ctx, sessionID); err != nil {
			return err
		}
		s.cache.MarkSessionInvalid(ctx, sessionID)
	}

	now := s.timeProvider.Now()
	tokens := []model.RevokedToken{{
		JTI:       claims.JTI,
		TokenType: string(auth.TokenTypeRefresh),
		UserID:    claims.UserID,
		RevokedAt: now,
		ExpiresAt: claims.ExpiresAt,
	}}
	if accessJTI != "" {
		tokens = append(tokens, model.RevokedToken{
			JTI:       accessJTI,
			TokenType: string(auth.TokenTypeAccess),
			UserID:    claims.UserID,
			RevokedAt: now,
			ExpiresAt: now.Add(time.Hour),
		})
	}
	for _, t := range tokens {
		if insErr := s.revoked.Insert(ctx, t); insErr != nil {
			return insErr
		}
		s.cache.MarkTokenRevoked(ctx, t.JTI)
	}
	s.auditAuth(ctx, "logout", claims.UserID, optString(sessionID))
	return nil
}

// RevokeSession administratively revokes one session.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID, actorID string) error {
	ok, err := s.sessions.Revoke(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFoundf("session %s not found", sessionID)
	}
	s.cache.MarkSessionInvalid(ctx, sessionID)
	s.auditAuth(ctx, "session_revoked", actorID, &sessionID)
	return nil
}

// RevokeAllForUser revokes every session of a user and drops their cached
// snapshots. Used on password change, block, and deactivation.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, actorID string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, nil)
	if err != nil {
		return 0, err
	}
	s.cache.InvalidateSnapshots(ctx, userID, s.cfg.SupportedLocales)
	s.auditAuth(ctx, "sessions_revoked_all", actorID, &userID)
	return n, nil
}

// PurgeExpiredRevocations deletes revoked-token rows past expiry. Wired as a
// scheduled job.
func (s *SessionService) PurgeExpiredRevocations(ctx context.Context) (int64, error) {
	return s.revoked.DeleteExpired(ctx, s.timeProvider.Now())
}

// RefreshCookie builds the HTTP-only cookie carrying the refresh token.
func (s *SessionService) RefreshCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     s.cfg.CookiePath,
		Domain:   s.cfg.CookieDomain,
		Expires:  expires,
		Secure:   s.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: s.cfg.CookieSameSite,
	}
}

// ClearRefreshCookie builds the deletion cookie used on logout.
func (s *SessionService) ClearRefreshCookie() *http.Cookie {
	c := s.RefreshCookie("", time.Unix(0, 0))
	c.MaxAge = -1
	return c
}

func (s *SessionService) auditAuth(ctx context.Context, action, actorID string, targetID *string) {
	if s.audit == nil {
		return
	}
	entry := model.AuditEntry{
		Kind:     model.AuditLogAuthentication,
		Action:   action,
		ActorID:  optString(actorID),
		TargetID: targetID,
		At:       s.timeProvider.Now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", "action", action, "error", err)
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
