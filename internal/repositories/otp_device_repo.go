package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hassanwm/vigil/internal/database"
	"github.com/hassanwm/vigil/internal/models"
)

type OTPDeviceRepository struct {
	db                *database.DB
	maxFailedAttempts int
	cooldownFactor    float64
}

func NewOTPDeviceRepository(db *database.DB, maxFailedAttempts int, cooldownFactor float64) *OTPDeviceRepository {
	return &OTPDeviceRepository{db: db, maxFailedAttempts: maxFailedAttempts, cooldownFactor: cooldownFactor}
}

const otpDeviceColumns = `id, user_id, otp_encrypted, otp_nonce, otp_created_at, otp_expiry, used,
	failed_attempts, max_failed_attempts, last_request_at, next_allowed_request_at,
	cooldown_multiplier, lock_until, created_at, updated_at`

func scanOTPDeviceRow(scanner rowScanner) (*models.OTPDevice, error) {
	var device models.OTPDevice

	err := scanner.Scan(
		&device.ID, &device.UserID,
		&device.OTPEncrypted, &device.OTPNonce,
		&device.OTPCreatedAt, &device.OTPExpiry, &device.Used,
		&device.FailedAttempts, &device.MaxFailedAttempts,
		&device.LastRequestAt, &device.NextAllowedRequestAt,
		&device.CooldownMultiplier, &device.LockUntil,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &device, nil
}

// GetByUserID loads the user's device without locking. Returns
// models.ErrNotFound when no device exists yet.
func (r *OTPDeviceRepository) GetByUserID(ctx context.Context, userID string) (*models.OTPDevice, error) {
	query := `SELECT ` + otpDeviceColumns + ` FROM otp_devices WHERE user_id = $1`

	return scanOTPDeviceRow(r.db.Pool.QueryRow(ctx, query, userID))
}

// Mutate runs fn against the user's device under a row lock and persists the
// resulting state, creating the device on first use. The mutated state is
// written even when fn returns an error: failed-attempt increments and lock
// stamps must land regardless of the outcome reported to the caller.
func (r *OTPDeviceRepository) Mutate(ctx context.Context, userID string, fn func(*models.OTPDevice) error) (*models.OTPDevice, error) {
	var device *models.OTPDevice
	var fnErr error

	txErr := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		// Lazy create; a concurrent insert is absorbed by DO NOTHING and the
		// row is picked up by the locked select below.
		insert := `
			INSERT INTO otp_devices (id, user_id, max_failed_attempts, cooldown_multiplier, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (user_id) DO NOTHING
		`
		if _, err := tx.Exec(ctx, insert, uuid.New().String(), userID, r.maxFailedAttempts, r.cooldownFactor, time.Now()); err != nil {
			return database.MapPostgresError(err)
		}

		query := `SELECT ` + otpDeviceColumns + ` FROM otp_devices WHERE user_id = $1 FOR UPDATE`
		var err error
		device, err = scanOTPDeviceRow(tx.QueryRow(ctx, query, userID))
		if err != nil {
			return err
		}

		fnErr = fn(device)

		update := `
			UPDATE otp_devices
			SET otp_encrypted = $1, otp_nonce = $2, otp_created_at = $3, otp_expiry = $4, used = $5,
				failed_attempts = $6, last_request_at = $7, next_allowed_request_at = $8,
				cooldown_multiplier = $9, lock_until = $10, updated_at = $11
			WHERE user_id = $12
		`
		device.UpdatedAt = time.Now()
		if _, err := tx.Exec(ctx, update,
			device.OTPEncrypted, device.OTPNonce,
			device.OTPCreatedAt, device.OTPExpiry, device.Used,
			device.FailedAttempts, device.LastRequestAt, device.NextAllowedRequestAt,
			device.CooldownMultiplier, device.LockUntil, device.UpdatedAt,
			userID,
		); err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})

	if txErr != nil {
		return nil, fmt.Errorf("otp device mutation failed: %w", txErr)
	}

	return device, fnErr
}
