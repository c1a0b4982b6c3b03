package inventory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Cipher encrypts stock codes at rest. The nonce is derived from the
// plaintext so the same code always maps to the same ciphertext, which keeps
// the unique constraint on the code column meaningful for encrypted rows.
type Cipher struct {
	aead    cipher.AEAD
	keyHash [32]byte
	enabled bool
}

// NewCipher derives an AES-256-GCM cipher from the configured passphrase.
// With an empty passphrase encryption is disabled and codes pass through.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return &Cipher{}, nil
	}

	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init stock cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init stock cipher: %w", err)
	}

	return &Cipher{aead: aead, keyHash: key, enabled: true}, nil
}

// Enabled reports whether codes are encrypted at rest.
func (c *Cipher) Enabled() bool {
	return c.enabled
}

// Encrypt seals a plaintext code for storage.
func (c *Cipher) Encrypt(plaintext string) string {
	if !c.enabled {
		return plaintext
	}
	nonce := c.nonceFor(plaintext)
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...))
}

// Decrypt opens a stored code.
func (c *Cipher) Decrypt(stored string) (string, error) {
	if !c.enabled {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode stock code: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("stored stock code too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt stock code: %w", err)
	}
	return string(plain), nil
}

func (c *Cipher) nonceFor(plaintext string) []byte {
	h := sha256.New()
	h.Write(c.keyHash[:])
	h.Write([]byte(plaintext))
	return h.Sum(nil)[:c.aead.NonceSize()]
}
