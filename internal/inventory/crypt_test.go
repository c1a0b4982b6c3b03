package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("test-passphrase")
	require.NoError(t, err)
	assert.True(t, c.Enabled())

	sealed := c.Encrypt("REDFINGER-ABC-123")
	assert.NotEqual(t, "REDFINGER-ABC-123", sealed)

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "REDFINGER-ABC-123", plain)
}

func TestCipherIsDeterministicPerKey(t *testing.T) {
	c, err := NewCipher("test-passphrase")
	require.NoError(t, err)

	assert.Equal(t, c.Encrypt("same-code-value"), c.Encrypt("same-code-value"))

	other, err := NewCipher("different-passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, c.Encrypt("same-code-value"), other.Encrypt("same-code-value"))
}

func TestCipherDisabledPassesThrough(t *testing.T) {
	c, err := NewCipher("")
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	assert.Equal(t, "raw-code", c.Encrypt("raw-code"))
	plain, err := c.Decrypt("raw-code")
	require.NoError(t, err)
	assert.Equal(t, "raw-code", plain)
}

func TestCipherRejectsGarbage(t *testing.T) {
	c, err := NewCipher("test-passphrase")
	require.NoError(t, err)

	_, err = c.Decrypt("not-base64!!!")
	assert.Error(t, err)

	_, err = c.Decrypt("YWJj")
	assert.Error(t, err)
}
