package models

import (
	"time"
)

// OTPDevice holds the per-user one-time-code state machine. There is exactly
// one device per user; it is created lazily on the first OTP request and
// reused across login sessions.
type OTPDevice struct {
	ID     string
	UserID string

	// Encrypted code at rest. The plaintext code is never persisted; OTPNonce
	// is the AES-GCM nonce for OTPEncrypted. Both are nil once the code has
	// been consumed.
	OTPEncrypted []byte
	OTPNonce     []byte

	OTPCreatedAt *time.Time
	OTPExpiry    *time.Time
	Used         bool

	FailedAttempts    int
	MaxFailedAttempts int

	LastRequestAt        *time.Time
	NextAllowedRequestAt *time.Time
	CooldownMultiplier   float64

	// LockUntil set means every verification is rejected until it elapses,
	// after which the lock auto-clears and the failed-attempt count resets.
	LockUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the device lock is still in effect at now.
func (d *OTPDevice) Locked(now time.Time) bool {
	return d.LockUntil != nil && now.Before(*d.LockUntil)
}

// CodeExpired reports whether the outstanding code (if any) is past expiry.
func (d *OTPDevice) CodeExpired(now time.Time) bool {
	return d.OTPExpiry != nil && now.After(*d.OTPExpiry)
}
