package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/auth"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// TokenService signs and verifies the access/refresh token pair. It implements
// ports.TokenAuthority.
type TokenService struct {
	secret         []byte
	issuer         string
	accessLifetime time.Duration
	refreshLife    time.Duration
	timeProvider   data.TimeProvider
	logger         *slog.Logger
}

// TokenServiceConfig holds signing parameters.
type TokenServiceConfig struct {
	// Secret is the HMAC signing key. Empty is tolerated only outside
	// production: a random per-process key is synthesised and a warning logged,
	// so restarts invalidate all outstanding tokens.
	Secret          string
	Issuer          string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
	// AllowDevSecret permits the synthesised-key fallback.
	AllowDevSecret bool
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenServiceConfig, tp data.TimeProvider, logger *slog.Logger) (*TokenService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		if !cfg.AllowDevSecret {
			return nil, apperrors.Validation("token signing secret is required")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate dev signing key: %w", err)
		}
		secret = []byte(hex.EncodeToString(buf))
		logger.Warn("no signing secret configured, synthesised a per-process key; all tokens die with this process")
	}
	if cfg.AccessLifetime <= 0 {
		cfg.AccessLifetime = 15 * time.Minute
	}
	if cfg.RefreshLifetime <= 0 {
		cfg.RefreshLifetime = 7 * 24 * time.Hour
	}
	return &TokenService{
		secret:         secret,
		issuer:         cfg.Issuer,
		accessLifetime: cfg.AccessLifetime,
		refreshLife:    cfg.RefreshLifetime,
		timeProvider:   tp,
		logger:         logger,
	}, nil
}

// tokenClaims is the JWT claim envelope. Registered claims carry sub/exp/jti;
// the rest are private claims.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID    string         `json:"user_id"`
	Scopes    []string       `json:"scopes,omitempty"`
	Roles     []string       `json:"roles,omitempty"`
	Locale    string         `json:"locale,omitempty"`
	TokenType auth.TokenType `json:"type"`
}

// IssuePair signs a fresh access/refresh pair. Each token gets its own jti;
// jti and exp on the template are ignored.
func (s *TokenService) IssuePair(template auth.Claims) (auth.TokenPair, error) {
	now := s.timeProvider.Now()

	access, accessJTI, accessExp, err := s.sign(template, auth.TokenTypeAccess, now, s.accessLifetime)
	if err != nil {
		return auth.TokenPair{}, err
	}
	refresh, refreshJTI, refreshExp, err := s.sign(template, auth.TokenTypeRefresh, now, s.refreshLife)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return auth.TokenPair{
		AccessToken:    access,
		AccessJTI:      accessJTI,
		AccessExpires:  accessExp,
		RefreshToken:   refresh,
		RefreshJTI:     refreshJTI,
		RefreshExpires: refreshExp,
	}, nil
}

func (s *TokenService) sign(
	template auth.Claims,
	tokenType auth.TokenType,
	now time.Time,
	lifetime time.Duration,
) (token, jti string, exp time.Time, err error) {
	jti = uuid.NewString()
	exp = now.Add(lifetime)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   template.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		UserID:    template.UserID,
		Scopes:    template.Scopes,
		Roles:     template.Roles,
		Locale:    template.Locale,
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, jti, exp, nil
}

// VerifyAccess parses and verifies an access token.
func (s *TokenService) VerifyAccess(token string) (*auth.Claims, error) {
	return s.verify(token, auth.TokenTypeAccess)
}

// VerifyRefresh parses and verifies a refresh token.
func (s *TokenService) VerifyRefresh(token string) (*auth.Claims, error) {
	return s.verify(token, auth.TokenTypeRefresh)
}

func (s *TokenService) verify(token string, want auth.TokenType) (*auth.Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.timeProvider.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ExpiredToken("token expired")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidToken, "token verification failed")
	}
	if !parsed.Valid {
		return nil, apperrors.InvalidToken("token verification failed")
	}
	// A refresh token must never pass as an access token and vice versa.
	if claims.TokenType != want {
		return nil, apperrors.InvalidToken(fmt.Sprintf("token type mismatch: want %s", want))
	}
	if claims.ID == "" {
		return nil, apperrors.InvalidToken("token missing jti")
	}

	out := &auth.Claims{
		Subject:   claims.Subject,
		UserID:    claims.UserID,
		Scopes:    claims.Scopes,
		Roles:     claims.Roles,
		Locale:    claims.Locale,
		TokenType: claims.TokenType,
		JTI:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// FingerprintSecret derives a stable fingerprint of the signing key for
// diagnostics; the key itself never appears in logs.
func (s *TokenService) FingerprintSecret() string {
	sum := sha256.Sum256(s.secret)
	return hex.EncodeToString(sum[:8])
}
