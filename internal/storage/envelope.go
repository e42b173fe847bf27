package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"pos-sync-service/internal/crypto"
)

// Envelope frames persisted blobs with an explicit header so load never
// has to guess whether a payload is encrypted: magic, version, format.
const (
	envelopeVersion = 1

	formatPlain     byte = 0
	formatEncrypted byte = 1
)

var envelopeMagic = []byte("SYNCQ1")

var (
	ErrBadMagic          = errors.New("envelope: bad magic")
	ErrUnknownVersion    = errors.New("envelope: unknown version")
	ErrEncryptedNoCipher = errors.New("envelope: payload is encrypted but no cipher configured")
	ErrUnknownFormat     = errors.New("envelope: unknown payload format")
	errEnvelopeTruncated = errors.New("envelope: truncated header")
)

// Envelope encodes/decodes blobs for Storage. With a cipher it writes
// encrypted payloads; without one it writes plaintext. Decode handles
// both formats regardless, as long as a cipher is present when needed.
type Envelope struct {
	cipher *crypto.Cipher
}

func NewEnvelope(cipher *crypto.Cipher) *Envelope {
	return &Envelope{cipher: cipher}
}

func (e *Envelope) Encode(payload []byte) (string, error) {
	format := formatPlain
	body := payload
	if e.cipher != nil {
		sealed, err := e.cipher.Encrypt(payload)
		if err != nil {
			return "", fmt.Errorf("envelope encrypt: %w", err)
		}
		format = formatEncrypted
		body = sealed
	}

	buf := make([]byte, 0, len(envelopeMagic)+2+len(body))
	buf = append(buf, envelopeMagic...)
	buf = append(buf, envelopeVersion, format)
	buf = append(buf, body...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (e *Envelope) Decode(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("envelope decode: %w", err)
	}
	if len(raw) < len(envelopeMagic)+2 {
		return nil, errEnvelopeTruncated
	}
	if !bytes.Equal(raw[:len(envelopeMagic)], envelopeMagic) {
		return nil, ErrBadMagic
	}
	version, format := raw[len(envelopeMagic)], raw[len(envelopeMagic)+1]
	if version != envelopeVersion {
		return nil, ErrUnknownVersion
	}
	body := raw[len(envelopeMagic)+2:]

	switch format {
	case formatPlain:
		return body, nil
	case formatEncrypted:
		if e.cipher == nil {
			return nil, ErrEncryptedNoCipher
		}
		return e.cipher.Decrypt(body)
	default:
		return nil, ErrUnknownFormat
	}
}
