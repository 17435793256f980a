package model

import (
	"encoding/json"
	"time"
)

// Session is a stateful refresh session. A session is valid iff
// revoked=false AND expires_at > now; rotation replaces RefreshTokenID
// atomically under a row lock.
type Session struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	RefreshTokenID string          `json:"refresh_token_id"`
	CreatedAt      time.Time       `json:"created_at"`
	LastSeenAt     time.Time       `json:"last_seen_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Revoked        bool            `json:"revoked"`
	DeviceInfo     *string         `json:"device_info,omitempty"`
	IPAddress      *string         `json:"ip_address,omitempty"`
	Fingerprint    *string         `json:"fingerprint,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// SessionMetadata is the known shape inside Session.Metadata. Unknown keys are
// preserved opaquely by storing the raw JSON alongside.
type SessionMetadata struct {
	Locale string `json:"locale,omitempty"`
}

// Locale extracts the locale stored in the session metadata, if any.
func (s *Session) Locale() string {
	if len(s.Metadata) == 0 {
		return ""
	}
	var md SessionMetadata
	if err := json.Unmarshal(s.Metadata, &md); err != nil {
		return ""
	}
	return md.Locale
}

// RevokedToken records a jti that must be rejected until its natural expiry.
// Rows may be cleaned up once expires_at has passed.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	TokenType string    `json:"token_type"`
	UserID    string    `json:"user_id"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSessionParams groups inputs for persisting a new session.
type CreateSessionParams struct {
	ID             string
	UserID         string
	RefreshTokenID string
	ExpiresAt      time.Time
	DeviceInfo     *string
	IPAddress      *string
	Fingerprint    *string
	Metadata       json.RawMessage
}

// RotateSessionParams groups inputs for the atomic refresh-token rotation.
type RotateSessionParams struct {
	SessionID         string
	NewRefreshTokenID string
	LastSeenAt        time.Time
}
