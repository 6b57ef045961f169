// Package crypto encrypts sensitive columns at rest with AES-GCM and a
// rotating key list: the first key encrypts, every key is tried on decrypt,
// so old rows survive a rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrNoKeys is returned by NewCodec when the key list is empty.
var ErrNoKeys = errors.New("crypto: no encryption keys configured")

// ErrDecrypt is returned when no key in the rotation can open a token.
var ErrDecrypt = errors.New("crypto: decryption failed for all keys")

// Codec encrypts with the active (first) key and decrypts with any key in
// the rotation list.
type Codec struct {
	aeads []cipher.AEAD
}

// NewCodec parses DATA_ENCRYPTION_KEY material: comma-separated
// base64url-encoded 16/24/32-byte keys, first one active.
func NewCodec(keyList string) (*Codec, error) {
	var aeads []cipher.AEAD
	for _, part := range strings.Split(keyList, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		raw, err := base64.URLEncoding.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key: %w", err)
		}
		block, err := aes.NewCipher(raw)
		if err != nil {
			return nil, fmt.Errorf("crypto: init cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("crypto: init gcm: %w", err)
		}
		aeads = append(aeads, aead)
	}
	if len(aeads) == 0 {
		return nil, ErrNoKeys
	}
	return &Codec{aeads: aeads}, nil
}

// Encrypt seals plaintext with the active key under a random nonce and
// returns base64url(nonce || ciphertext). Two encryptions of the same input
// yield different tokens.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	aead := c.aeads[0]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt, trying every key in rotation
// order.
func (c *Codec) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("crypto: decode token: %w", err)
	}
	for _, aead := range c.aeads {
		ns := aead.NonceSize()
		if len(raw) < ns {
			continue
		}
		plain, err := aead.Open(nil, raw[:ns], raw[ns:], nil)
		if err == nil {
			return string(plain), nil
		}
	}
	return "", ErrDecrypt
}
