package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"
)

// GenerateNumericCode returns a cryptographically random code of the given
// number of decimal digits. Leading zeros are allowed.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("digits must be positive, got %d", digits)
	}

	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate random digit: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}

	return string(code), nil
}

// GenerateDeviceID returns an opaque device identifier: 32 random bytes,
// URL-safe base64 encoded.
func GenerateDeviceID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// RandomDuration returns a uniformly random duration in [min, max]. Used for
// cooldown jitter and lockout windows so attackers cannot time retries.
func RandomDuration(min, max time.Duration) (time.Duration, error) {
	if max < min {
		return 0, fmt.Errorf("invalid duration range [%s, %s]", min, max)
	}
	if max == min {
		return min, nil
	}

	span := big.NewInt(int64(max-min) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("failed to generate random duration: %w", err)
	}

	return min + time.Duration(n.Int64()), nil
}
