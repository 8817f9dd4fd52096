package models

import (
	"time"
)

// TrustedDevice is a browser or device the user has chosen to remember after
// a successful OTP verification. While active and unexpired it lets the user
// skip the OTP step on login. It doubles as the session-management record.
type TrustedDevice struct {
	ID     string
	UserID string

	// DeviceID is the long random token handed to the client; globally unique.
	DeviceID string

	// Parsed User-Agent labels for display.
	Browser string
	OS      string
	Device  string

	IPAddress *string
	City      *string
	Country   *string

	LastLogin   time.Time
	ExpiresAt   time.Time
	IsActive    bool
	MaxSessions int

	CreatedAt time.Time
}

// Expired reports whether the device is past its expiry regardless of the
// active flag; expired devices must be treated as absent by lookups.
func (d *TrustedDevice) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
