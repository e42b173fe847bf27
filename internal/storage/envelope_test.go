package storage

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/crypto"
)

func TestEnvelopePlaintextRoundTrip(t *testing.T) {
	env := NewEnvelope(nil)

	encoded, err := env.Encode([]byte(`{"items":[]}`))
	require.NoError(t, err)

	decoded, err := env.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"items":[]}`), decoded)
}

func TestEnvelopeEncryptedRoundTrip(t *testing.T) {
	cipher, err := crypto.NewCipher("hunter2", []byte("salt"))
	require.NoError(t, err)
	env := NewEnvelope(cipher)

	encoded, err := env.Encode([]byte("secret payload"))
	require.NoError(t, err)

	decoded, err := env.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), decoded)
}

func TestEnvelopeFormatByteIsExplicit(t *testing.T) {
	cipher, err := crypto.NewCipher("hunter2", []byte("salt"))
	require.NoError(t, err)

	plain, err := NewEnvelope(nil).Encode([]byte("x"))
	require.NoError(t, err)
	sealed, err := NewEnvelope(cipher).Encode([]byte("x"))
	require.NoError(t, err)

	rawPlain, err := base64.StdEncoding.DecodeString(plain)
	require.NoError(t, err)
	rawSealed, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)

	assert.Equal(t, formatPlain, rawPlain[len(envelopeMagic)+1])
	assert.Equal(t, formatEncrypted, rawSealed[len(envelopeMagic)+1])
}

func TestEnvelopeEncryptedWithoutCipher(t *testing.T) {
	cipher, err := crypto.NewCipher("hunter2", []byte("salt"))
	require.NoError(t, err)

	encoded, err := NewEnvelope(cipher).Encode([]byte("x"))
	require.NoError(t, err)

	_, err = NewEnvelope(nil).Decode(encoded)
	assert.ErrorIs(t, err, ErrEncryptedNoCipher)
}

func TestEnvelopeRejectsBadMagic(t *testing.T) {
	bogus := base64.StdEncoding.EncodeToString([]byte("NOTQ1\x01\x00payload"))
	_, err := NewEnvelope(nil).Decode(bogus)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestMemoryStorage(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v, err := m.GetString(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, m.SetString(ctx, "k", "v"))
	v, err = m.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Delete(ctx, "k"))
	v, err = m.GetString(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
}
