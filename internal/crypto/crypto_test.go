package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	c, err := New(key, false)
	require.NoError(t, err)

	enc, err := c.Encrypt("super-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-token", enc)

	assert.Equal(t, "super-secret-token", c.Decrypt(enc))
}

func TestEmptyKeyRequiresEphemeral(t *testing.T) {
	_, err := New("", false)
	require.Error(t, err)

	c, err := New("", true)
	require.NoError(t, err)

	enc, err := c.Encrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", c.Decrypt(enc))
}

func TestInvalidKeyRejected(t *testing.T) {
	_, err := New("not-a-key", false)
	assert.Error(t, err)
}

func TestDecryptTolerant(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := New(key, false)
	require.NoError(t, err)

	// Garbage and foreign-key tokens read as empty, never error
	assert.Equal(t, "", c.Decrypt("garbage"))
	assert.Equal(t, "", c.Decrypt(""))

	otherKey, err := GenerateKey()
	require.NoError(t, err)
	other, err := New(otherKey, false)
	require.NoError(t, err)
	enc, err := other.Encrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "", c.Decrypt(enc))
}

func TestEncryptEmptyStaysEmpty(t *testing.T) {
	c, err := New("", true)
	require.NoError(t, err)

	enc, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", enc)
}
