package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// sealedPrefix marks content written by SessionCipher.Seal.
const sealedPrefix = "enc:v1:"

// Argon2id parameters: time=1, memory=64MB, threads=4, keyLen=32
var sessionSalt = []byte("aws-aiops/session-entries/v1")

var (
	ErrEmptyPassphrase = errors.New("session encryption passphrase is empty")
	ErrMalformedSealed = errors.New("sealed content is malformed")
)

// SessionCipher encrypts session history at rest with AES-256-GCM. The key
// is derived from a passphrase with argon2id so the same passphrase opens
// content written by earlier processes.
type SessionCipher struct {
	gcm cipher.AEAD
}

func NewSessionCipher(passphrase string) (*SessionCipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	key := argon2.IDKey([]byte(passphrase), sessionSalt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SessionCipher{gcm: gcm}, nil
}

// Seal encrypts plaintext into a printable string.
func (c *SessionCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Content without the sealed prefix was stored before
// encryption was enabled and is returned unchanged.
func (c *SessionCipher) Open(content string) (string, error) {
	if !IsSealed(content) {
		return content, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(content, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSealed, err)
	}
	size := c.gcm.NonceSize()
	if len(raw) < size {
		return "", ErrMalformedSealed
	}
	plaintext, err := c.gcm.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether content was produced by Seal.
func IsSealed(content string) bool {
	return strings.HasPrefix(content, sealedPrefix)
}

// GenerateRandomString generates a random hex string of the specified byte length
func GenerateRandomString(byteLength int) (string, error) {
	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
