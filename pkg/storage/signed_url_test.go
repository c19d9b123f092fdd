package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)

	token, expiresAt, err := signer.Generate("att-1", "req-1/file.pdf")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	id, key, parsedExp, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "att-1", id)
	assert.Equal(t, "req-1/file.pdf", key)
	assert.Equal(t, expiresAt.Unix(), parsedExp.Unix())
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)

	token, _, err := signer.Generate("att-1", "req-1/file.pdf")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token + "x")
	assert.Error(t, err)

	other := NewSignedURLSigner("other-secret", time.Minute)
	_, _, _, err = other.Parse(token)
	assert.Error(t, err)
}

func TestSignedURLRejectsExpired(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", -time.Minute)

	token, _, err := signer.Generate("att-1", "req-1/file.pdf")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token)
	assert.Error(t, err)
}

func TestSignedURLRequiresInputs(t *testing.T) {
	signer := NewSignedURLSigner("test-secret", time.Minute)

	_, _, err := signer.Generate("", "key")
	assert.Error(t, err)

	_, _, err = signer.Generate("id", "")
	assert.Error(t, err)
}
