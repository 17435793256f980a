package core

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RevocationCache provides the negative-result caching used by the session
// manager: known-revoked token jti values, known-invalid session markers, and
// short-lived validation snapshots. Valid sessions and valid tokens are never
// cached; doing so would defeat revocation.
//
// Every failure degrades to a miss so callers fall back to the authoritative
// store. Repeated failures flip Available() off until a probe succeeds.
type RevocationCache struct {
	cache  CacheRepository
	logger *slog.Logger

	revokedTokenTTL time.Duration
	invalidSessTTL  time.Duration
	snapshotTTL     time.Duration

	available atomic.Bool
}

// RevocationCacheConfig holds TTLs for the three cached concerns.
type RevocationCacheConfig struct {
	// RevokedTokenTTL should equal the access-token lifetime; after that the
	// token is rejected by exp anyway.
	RevokedTokenTTL time.Duration
	// InvalidSessionTTL is short: it only absorbs bursts of retries.
	InvalidSessionTTL time.Duration
	// SnapshotTTL bounds validation snapshots; capped at 5 minutes.
	SnapshotTTL time.Duration
}

// DefaultRevocationCacheConfig returns sensible defaults.
func DefaultRevocationCacheConfig() RevocationCacheConfig {
	return RevocationCacheConfig{
		RevokedTokenTTL:   15 * time.Minute,
		InvalidSessionTTL: 30 * time.Second,
		SnapshotTTL:       5 * time.Minute,
	}
}

const maxSnapshotTTL = 5 * time.Minute

// NewRevocationCache creates a RevocationCache. A nil cache repository yields
// a permanent no-op: every lookup is a miss, every write succeeds silently.
func NewRevocationCache(cache CacheRepository, cfg RevocationCacheConfig, logger *slog.Logger) *RevocationCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SnapshotTTL <= 0 || cfg.SnapshotTTL > maxSnapshotTTL {
		cfg.SnapshotTTL = maxSnapshotTTL
	}
	c := &RevocationCache{
		cache:           cache,
		logger:          logger,
		revokedTokenTTL: cfg.RevokedTokenTTL,
		invalidSessTTL:  cfg.InvalidSessionTTL,
		snapshotTTL:     cfg.SnapshotTTL,
	}
	c.available.Store(cache != nil)
	return c
}

// Available reports whether the cache is currently usable.
func (c *RevocationCache) Available() bool {
	return c.cache != nil && c.available.Load()
}

// Probe re-checks cache health and updates availability.
func (c *RevocationCache) Probe(ctx context.Context) {
	if c.cache == nil {
		return
	}
	err := c.cache.Health(ctx)
	c.available.Store(err == nil)
}

func (c *RevocationCache) markFailure(op string, err error) {
	c.available.Store(false)
	c.logger.Warn("revocation cache degraded to store-only", "op", op, "error", err)
}

func revokedKey(jti string) string      { return "auth:revoked:" + jti }
func invalidSessKey(id string) string   { return "auth:invalid-session:" + id }
func snapshotKey(userID, locale string) string {
	return "auth:snapshot:" + userID + ":" + locale
}

// MarkTokenRevoked records a jti as revoked for the access-token lifetime.
func (c *RevocationCache) MarkTokenRevoked(ctx context.Context, jti string) {
	if !c.Available() || jti == "" {
		return
	}
	if err := c.cache.Set(ctx, revokedKey(jti), []byte("1"), c.revokedTokenTTL); err != nil {
		c.markFailure("mark token revoked", err)
	}
}

// IsTokenRevoked returns true only on a positive cache hit. A miss or a cache
// failure means "consult the store".
func (c *RevocationCache) IsTokenRevoked(ctx context.Context, jti string) bool {
	if !c.Available() || jti == "" {
		return false
	}
	hit, err := c.cache.Exists(ctx, revokedKey(jti))
	if err != nil {
		c.markFailure("revoked token lookup", err)
		return false
	}
	return hit
}

// MarkSessionInvalid records a short-TTL marker for a revoked or expired session.
func (c *RevocationCache) MarkSessionInvalid(ctx context.Context, sessionID string) {
	if !c.Available() || sessionID == "" {
		return
	}
	if err := c.cache.Set(ctx, invalidSessKey(sessionID), []byte("1"), c.invalidSessTTL); err != nil {
		c.markFailure("mark session invalid", err)
	}
}

// IsSessionInvalid returns true only on a positive cache hit.
func (c *RevocationCache) IsSessionInvalid(ctx context.Context, sessionID string) bool {
	if !c.Available() || sessionID == "" {
		return false
	}
	hit, err := c.cache.Exists(ctx, invalidSessKey(sessionID))
	if err != nil {
		c.markFailure("invalid session lookup", err)
		return false
	}
	return hit
}

// PutSnapshot stores a validation snapshot keyed by (user_id, locale).
func (c *RevocationCache) PutSnapshot(ctx context.Context, userID, locale string, data []byte) {
	if !c.Available() || userID == "" {
		return
	}
	if err := c.cache.Set(ctx, snapshotKey(userID, locale), data, c.snapshotTTL); err != nil {
		c.markFailure("put snapshot", err)
	}
}

// GetSnapshot retrieves a validation snapshot; nil means miss.
func (c *RevocationCache) GetSnapshot(ctx context.Context, userID, locale string) []byte {
	if !c.Available() || userID == "" {
		return nil
	}
	data, err := c.cache.Get(ctx, snapshotKey(userID, locale))
	if err != nil {
		c.markFailure("get snapshot", err)
		return nil
	}
	return data
}

// InvalidateSnapshots drops the snapshot for every supported locale of a user.
func (c *RevocationCache) InvalidateSnapshots(ctx context.Context, userID string, locales []string) {
	if !c.Available() || userID == "" {
		return
	}
	for _, locale := range locales {
		if _, err := c.cache.Delete(ctx, snapshotKey(userID, locale)); err != nil {
			c.markFailure("invalidate snapshot", err)
			return
		}
	}
}
