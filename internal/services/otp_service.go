package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/config"
	"github.com/hassanwm/vigil/internal/models"
)

// OTPDeviceStore defines the interface for one-time-code device persistence.
// Mutate runs fn against the user's device under a row lock and persists the
// result even when fn reports a policy error.
type OTPDeviceStore interface {
	Mutate(ctx context.Context, userID string, fn func(*models.OTPDevice) error) (*models.OTPDevice, error)
}

// OTPService owns the one-time-code state machine: issuing codes with
// escalating cooldowns and verifying them with lockout on repeated failure.
type OTPService struct {
	store  OTPDeviceStore
	cipher *auth.OTPCipher
	config config.OTPConfig
	logger *slog.Logger
}

func NewOTPService(store OTPDeviceStore, cipher *auth.OTPCipher, cfg config.OTPConfig, logger *slog.Logger) *OTPService {
	return &OTPService{
		store:  store,
		cipher: cipher,
		config: cfg,
		logger: logger,
	}
}

// Generate issues a fresh code for the user, replacing any outstanding one.
// Requests inside the cooldown window or an active lock are rejected with a
// WaitError carrying the remaining wait.
func (s *OTPService) Generate(ctx context.Context, userID string) (string, error) {
	var code string

	_, err := s.store.Mutate(ctx, userID, func(device *models.OTPDevice) error {
		now := time.Now()

		// The cooldown outranks the lock: a locked device still inside its
		// cooldown reports the remaining wait, and an elapsed lock stays
		// untouched until the cooldown opens.
		if device.NextAllowedRequestAt != nil && now.Before(*device.NextAllowedRequestAt) {
			return models.NewWaitError(models.ErrOTPRateLimited, device.NextAllowedRequestAt.Sub(now))
		}

		// An elapsed lock clears itself on the next admissible request.
		if device.LockUntil != nil && !now.Before(*device.LockUntil) {
			device.LockUntil = nil
			device.FailedAttempts = 0
		}

		if device.Locked(now) {
			return models.NewWaitError(models.ErrOTPLocked, device.LockUntil.Sub(now))
		}

		plaintext, err := auth.GenerateNumericCode(s.config.Digits)
		if err != nil {
			return err
		}

		encrypted, nonce, err := s.cipher.Encrypt(plaintext)
		if err != nil {
			return err
		}

		// The cooldown escalates with the failure count accumulated before
		// this request; read it before the reset below.
		cooldown := s.cooldownFor(device)
		device.FailedAttempts = 0

		jitter, err := auth.RandomDuration(s.config.JitterMin, s.config.JitterMax)
		if err != nil {
			return err
		}

		expiry := now.Add(s.config.Validity)
		nextAllowed := now.Add(cooldown + jitter)

		device.OTPEncrypted = encrypted
		device.OTPNonce = nonce
		device.OTPCreatedAt = &now
		device.OTPExpiry = &expiry
		device.Used = false
		device.LastRequestAt = &now
		device.NextAllowedRequestAt = &nextAllowed

		code = plaintext
		return nil
	})

	if err != nil {
		return "", err
	}

	s.logger.Info("otp code generated", slog.String("user_id", userID))
	return code, nil
}

// cooldownFor computes base * factor^failed_attempts, capped at one hour so a
// corrupt counter cannot lock a user out indefinitely.
func (s *OTPService) cooldownFor(device *models.OTPDevice) time.Duration {
	factor := device.CooldownMultiplier
	if factor <= 0 {
		factor = s.config.CooldownFactor
	}

	cooldown := time.Duration(float64(s.config.BaseCooldown) * math.Pow(factor, float64(device.FailedAttempts)))
	if cooldown > time.Hour {
		cooldown = time.Hour
	}

	return cooldown
}

// Verify checks the submitted code against the outstanding one. A mismatch
// increments the failure count; crossing the limit locks the device for a
// randomized window. A match consumes the code and clears all failure state.
func (s *OTPService) Verify(ctx context.Context, userID, code string) error {
	_, err := s.store.Mutate(ctx, userID, func(device *models.OTPDevice) error {
		now := time.Now()

		if device.LockUntil != nil && !now.Before(*device.LockUntil) {
			device.LockUntil = nil
			device.FailedAttempts = 0
		}

		// Lock checks do not touch the failure count; hammering a locked
		// device must not extend the lock.
		if device.Locked(now) {
			return models.NewWaitError(models.ErrOTPLocked, device.LockUntil.Sub(now))
		}

		if len(device.OTPEncrypted) == 0 {
			return models.ErrOTPInvalid
		}

		if device.CodeExpired(now) {
			return models.ErrOTPExpired
		}

		if device.Used {
			return models.ErrOTPAlreadyUsed
		}

		expected, err := s.cipher.Decrypt(device.OTPEncrypted, device.OTPNonce)
		if err != nil {
			// Decryption failure means key rotation or data corruption, not a
			// bad guess. Keep the response generic.
			s.logger.Error("failed to decrypt stored otp code",
				slog.String("user_id", userID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}

		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
			device.FailedAttempts++

			maxAttempts := device.MaxFailedAttempts
			if maxAttempts <= 0 {
				maxAttempts = s.config.MaxFailedAttempts
			}

			if device.FailedAttempts >= maxAttempts {
				lockFor, err := auth.RandomDuration(s.config.LockMin, s.config.LockMax)
				if err != nil {
					return err
				}
				lockUntil := now.Add(lockFor)
				device.LockUntil = &lockUntil

				s.logger.Warn("otp device locked",
					slog.String("user_id", userID),
					slog.Int("failed_attempts", device.FailedAttempts))

				return models.NewWaitError(models.ErrOTPLocked, lockFor)
			}

			return models.ErrOTPInvalid
		}

		// Consume the code; the ciphertext is dropped so it cannot be replayed
		// even if the used flag were reset.
		device.Used = true
		device.FailedAttempts = 0
		device.LockUntil = nil
		device.OTPEncrypted = nil
		device.OTPNonce = nil

		return nil
	})

	if err != nil {
		return err
	}

	s.logger.Info("otp code verified", slog.String("user_id", userID))
	return nil
}

// IsWaitError reports whether err carries a retry wait and returns it.
func IsWaitError(err error) (*models.WaitError, bool) {
	var waitErr *models.WaitError
	if errors.As(err, &waitErr) {
		return waitErr, true
	}
	return nil, false
}
