package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("hunter2", []byte("test-salt"))
	require.NoError(t, err)

	plaintext := []byte(`{"queue":[{"id":"abc"}]}`)
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptTamperedFails(t *testing.T) {
	c, err := NewCipher("hunter2", []byte("test-salt"))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = c.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	a, err := NewCipher("hunter2", []byte("test-salt"))
	require.NoError(t, err)
	b, err := NewCipher("hunter3", []byte("test-salt"))
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestEmptyPassphraseRejected(t *testing.T) {
	_, err := NewCipher("", []byte("salt"))
	assert.Error(t, err)
}
