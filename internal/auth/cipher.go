package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// OTPCipher encrypts one-time codes for storage using AES-256-GCM. The
// plaintext code never touches the database; only the ciphertext and nonce
// are persisted.
type OTPCipher struct {
	encryptionKey []byte // 32-byte AES-256 key
}

// NewOTPCipher creates a new cipher.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewOTPCipher(encryptionKey []byte) (*OTPCipher, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &OTPCipher{encryptionKey: encryptionKey}, nil
}

// Encrypt encrypts a one-time code.
// Returns: (ciphertext, nonce, error)
func (c *OTPCipher) Encrypt(code string) ([]byte, []byte, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Random nonce (12 bytes for GCM)
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(code), nil)

	return ciphertext, nonce, nil
}

// Decrypt decrypts a stored one-time code.
func (c *OTPCipher) Decrypt(ciphertext, nonce []byte) (string, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt code: %w", err)
	}

	return string(plaintext), nil
}
