package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 43)

	hash, err := HashKey(key)
	require.NoError(t, err)
	assert.NotContains(t, hash, key)

	v, err := NewVerifier(hash)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(key))
	assert.ErrorIs(t, v.Verify(key+"x"), ErrInvalidKey)
	assert.ErrorIs(t, v.Verify(""), ErrMissingKey)
}

func TestNewVerifier_RejectsGarbage(t *testing.T) {
	_, err := NewVerifier("not-a-hash")
	assert.Error(t, err)

	_, err = HashKey("")
	assert.ErrorIs(t, err, ErrMissingKey)
}
