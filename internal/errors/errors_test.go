package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "message only",
			err:      NotFound("meal request not found"),
			expected: "meal request not found",
		},
		{
			name:     "message with cause",
			err:      Wrap(errors.New("connection reset"), ErrCodeDatabase, "query failed"),
			expected: "query failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "should vanish"))
	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "should %s", "vanish"))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, ErrCodeDatabase, "outer")

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, err.Unwrap())
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"not found", NotFound("x"), IsNotFound},
		{"conflict", Conflict("x"), IsConflict},
		{"validation", Validation("x"), IsValidation},
		{"authentication", Authentication(), IsAuthentication},
		{"authorization", Authorization("approve"), IsAuthorization},
		{"invalid token", InvalidToken("x"), IsInvalidToken},
		{"expired token", ExpiredToken("x"), IsExpiredToken},
		{"revoked token", RevokedToken("x"), IsRevokedToken},
		{"status changed", StatusChanged(2, 1), IsStatusChanged},
		{"external unavailable", ExternalUnavailable("x"), IsExternalUnavailable},
		{"lock held", LockHeld("x"), IsLockHeld},
		{"timeout", New(ErrCodeTimeout, "x"), IsTimeout},
		{"database", New(ErrCodeDatabase, "x"), IsDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.predicate(tt.err))
			assert.False(t, tt.predicate(errors.New("plain")))
			assert.False(t, tt.predicate(nil))
		})
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	inner := NotFound("session gone")
	outer := fmt.Errorf("refresh failed: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrCodeNotFound, GetCode(outer))
}

func TestIsTokenRejection(t *testing.T) {
	rejections := []error{
		InvalidToken("bad signature"),
		ExpiredToken("past exp"),
		RevokedToken("logged out"),
		NotFound("no session"),
	}
	for _, err := range rejections {
		assert.True(t, IsTokenRejection(err), "expected rejection for %v", err)
	}

	assert.False(t, IsTokenRejection(Authentication()))
	assert.False(t, IsTokenRejection(Conflict("x")))
	assert.False(t, IsTokenRejection(nil))
}

func TestAuthentication_UniformMessage(t *testing.T) {
	// The message must not reveal which credential check failed.
	assert.Equal(t, "invalid credentials", Authentication().Error())
}

func TestValidationField(t *testing.T) {
	err := ValidationField("meal_type_id", "meal type is required")

	assert.True(t, IsValidation(err))
	assert.Equal(t, "meal_type_id", GetField(err))
	assert.Equal(t, "meal type is required", err.Message)
}

func TestStatusChanged_CarriesCodes(t *testing.T) {
	err := StatusChanged(2, 1)
	assert.Contains(t, err.Error(), "current=2")
	assert.Contains(t, err.Error(), "expected=1")
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeConflict, GetCode(Conflict("x")))
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
}

func TestGetField_NotAppError(t *testing.T) {
	assert.Empty(t, GetField(errors.New("plain")))
	assert.Empty(t, GetField(NotFound("no field set")))
}
