package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
)

// Cipher encrypts credentials at rest with AES-GCM.
// The persistent connection stores use it; the in-memory store does not.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 16, 24 or 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// EncryptCredential serializes and encrypts a credential.
// The returned blob is nonce-prefixed.
func (c *Cipher) EncryptCredential(credential Credential) ([]byte, error) {
	plain, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

// DecryptCredential decrypts and deserializes a credential blob.
func (c *Cipher) DecryptCredential(blob []byte) (Credential, error) {
	var credential Credential

	if len(blob) < c.aead.NonceSize() {
		return credential, fmt.Errorf("credential blob too short")
	}

	nonce, sealed := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return credential, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	if err := json.Unmarshal(plain, &credential); err != nil {
		return credential, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return credential, nil
}
