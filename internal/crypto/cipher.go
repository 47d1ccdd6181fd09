// Package crypto implements the authenticated-encryption channel that carries
// credential envelopes from intake to the worker. Tokens are self-contained:
// nonce and auth tag travel inside the token, so decryption needs only the
// pre-shared key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/credbridge/internal/models"
)

var (
	// ErrConfiguration indicates a missing or malformed encryption key.
	// Fatal at startup: the worker must not run with no secrecy.
	ErrConfiguration = errors.New("encryption key must be 32 bytes hex-encoded (64 chars)")

	// ErrAuthentication indicates a token that failed tag verification or is
	// structurally malformed. Decrypt never returns garbage on this path.
	ErrAuthentication = errors.New("credential token failed authentication")
)

// Cipher encrypts and decrypts credential envelopes with AES-256-GCM.
// Token layout: base64( nonce || ciphertext+tag ).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a 64-character hex key.
func NewCipher(hexKey string) (*Cipher, error) {
	if len(hexKey) != 64 {
		return nil, ErrConfiguration
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals a credential envelope into an opaque token with a fresh
// random nonce per call.
func (c *Cipher) Encrypt(creds *models.Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Any tampering (a single flipped
// bit anywhere in the token) or truncation yields ErrAuthentication.
func (c *Cipher) Decrypt(token string) (*models.Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrAuthentication)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: token too short", ErrAuthentication)
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: tag verification failed", ErrAuthentication)
	}

	var creds models.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", ErrAuthentication)
	}
	return &creds, nil
}
