package auth

// Package auth contains domain-level types for tokens and sessions.
// It is pure and free of framework/adapter concerns.

import "time"

// TokenType distinguishes the two token kinds sharing the claim envelope.
// Verification call sites must reject a token whose type does not match.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the envelope embedded in every signed token.
type Claims struct {
	Subject   string    `json:"sub"`
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	TokenType TokenType `json:"type"`
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenPair is the result of a login or refresh: a short-lived access token
// and the rotating refresh token.
type TokenPair struct {
	AccessToken    string
	AccessJTI      string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshJTI     string
	RefreshExpires time.Time
}

// LoginResult carries the issued pair plus the session it is bound to.
type LoginResult struct {
	Pair      TokenPair
	SessionID string
	Locale    string
}

// Device captures the client context recorded on a session.
type Device struct {
	Info        string
	IPAddress   string
	Fingerprint string
}
