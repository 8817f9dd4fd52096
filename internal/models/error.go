package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountSuspended       = errors.New("account is suspended")
	ErrPasswordChangeRequired = errors.New("password change required")

	// IP blocking errors
	ErrIPBlocked      = errors.New("ip address is blocked")
	ErrIPUndetectable = errors.New("client ip could not be determined")

	// OTP device errors
	ErrOTPInvalid     = errors.New("invalid otp code")
	ErrOTPExpired     = errors.New("otp code has expired")
	ErrOTPAlreadyUsed = errors.New("otp code has already been used")
	ErrOTPRateLimited = errors.New("otp request rate limited")
	ErrOTPLocked      = errors.New("otp device is locked")
)

// WaitError wraps a rate-limit or lockout sentinel with the remaining wait.
// The duration is deliberately disclosed to callers; it helps legitimate
// users and the lock window is already randomized.
type WaitError struct {
	Err     error
	RetryIn time.Duration
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("%s: retry in %s", e.Err.Error(), FormatWait(e.RetryIn))
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// NewWaitError builds a WaitError rounding the wait up to whole seconds.
func NewWaitError(kind error, retryIn time.Duration) *WaitError {
	if retryIn < 0 {
		retryIn = 0
	}
	return &WaitError{Err: kind, RetryIn: retryIn.Round(time.Second)}
}

// FormatWait renders a wait duration in minutes or seconds, matching the
// wording shown to end users ("3 minutes", "45 seconds").
func FormatWait(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	if minutes := seconds / 60; minutes > 0 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d seconds", seconds)
}
