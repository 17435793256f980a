package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := NewBcryptHasher(4) // min cost keeps the test fast

	hash, err := h.Hash("s3cret-password")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "s3cret-password", hash)

	assert.NoError(t, h.Verify(hash, "s3cret-password"))
}

func TestBcryptHasher_WrongPassword(t *testing.T) {
	h := NewBcryptHasher(4)

	hash, err := h.Hash("correct")
	require.NoError(t, err)

	err = h.Verify(hash, "wrong")
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthentication(err))
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	h := NewBcryptHasher(4)

	err := h.Verify("not-a-bcrypt-hash", "anything")
	require.Error(t, err)
	// Malformed stored hash must look identical to a bad password.
	assert.True(t, apperrors.IsAuthentication(err))
}

func TestNewBcryptHasher_CostClamped(t *testing.T) {
	// Out-of-range costs fall back to the default; hashing still works.
	h := NewBcryptHasher(99)
	hash, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NoError(t, h.Verify(hash, "pw"))
}
