package discord

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInvalidCiphertext = errors.New("invalid token ciphertext")

// tokenCipher seals linked-account tokens before they reach the session backend.
type tokenCipher struct {
	aead cipher.AEAD
}

func newTokenCipher(raw string) (*tokenCipher, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("discord token key not set")
	}
	block, err := aes.NewCipher(deriveKey(raw))
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &tokenCipher{aead: aead}, nil
}

// deriveKey accepts a 32 byte key, raw or base64. Anything else is treated
// as a passphrase and hashed.
func deriveKey(raw string) []byte {
	if len(raw) == 32 {
		return []byte(raw)
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

func (c *tokenCipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (c *tokenCipher) Decrypt(input []byte) ([]byte, error) {
	data := make([]byte, base64.StdEncoding.DecodedLen(len(input)))
	n, err := base64.StdEncoding.Decode(data, input)
	if err != nil {
		return nil, errInvalidCiphertext
	}
	data = data[:n]
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return nil, errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, errInvalidCiphertext
	}
	return plain, nil
}
