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

type TrustedDeviceRepository struct {
	db *database.DB
}

func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

const trustedDeviceColumns = `id, user_id, device_id, browser, os, device, ip_address, city, country,
	last_login, expires_at, is_active, max_sessions, created_at`

func scanTrustedDeviceRow(scanner rowScanner) (*models.TrustedDevice, error) {
	var device models.TrustedDevice

	err := scanner.Scan(
		&device.ID, &device.UserID, &device.DeviceID,
		&device.Browser, &device.OS, &device.Device,
		&device.IPAddress, &device.City, &device.Country,
		&device.LastLogin, &device.ExpiresAt,
		&device.IsActive, &device.MaxSessions,
		&device.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &device, nil
}

// GetActive returns the user's device matching deviceID if it is active and
// unexpired. An expired record is deleted on sight and reported as not found,
// so stale cookies cannot resurrect old sessions.
func (r *TrustedDeviceRepository) GetActive(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error) {
	query := `
		SELECT ` + trustedDeviceColumns + `
		FROM trusted_devices
		WHERE user_id = $1 AND device_id = $2 AND is_active = TRUE
	`

	device, err := scanTrustedDeviceRow(r.db.Pool.QueryRow(ctx, query, userID, deviceID))
	if err != nil {
		return nil, err
	}

	if device.Expired(time.Now()) {
		if err := r.Delete(ctx, device.ID); err != nil {
			return nil, fmt.Errorf("failed to remove expired device: %w", err)
		}
		return nil, models.ErrNotFound
	}

	return device, nil
}

// CreateEnforcingLimit inserts the device after evicting the oldest active
// sessions (by last login) that would push the user over maxActive. The evict
// and insert happen in one transaction so concurrent verifications cannot
// exceed the limit.
func (r *TrustedDeviceRepository) CreateEnforcingLimit(ctx context.Context, device *models.TrustedDevice, maxActive int) (*models.TrustedDevice, error) {
	device.ID = uuid.New().String()
	device.CreatedAt = time.Now()

	var created *models.TrustedDevice

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		// Lock the user's device rows to serialize with concurrent creates.
		evict := `
			DELETE FROM trusted_devices
			WHERE id IN (
				SELECT id FROM trusted_devices
				WHERE user_id = $1 AND is_active = TRUE
				ORDER BY last_login DESC
				OFFSET $2
				FOR UPDATE
			)
		`
		if _, err := tx.Exec(ctx, evict, device.UserID, maxActive-1); err != nil {
			return database.MapPostgresError(err)
		}

		insert := `
			INSERT INTO trusted_devices (id, user_id, device_id, browser, os, device, ip_address, city, country,
				last_login, expires_at, is_active, max_sessions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING ` + trustedDeviceColumns

		var err error
		created, err = scanTrustedDeviceRow(tx.QueryRow(ctx, insert,
			device.ID, device.UserID, device.DeviceID,
			device.Browser, device.OS, device.Device,
			device.IPAddress, device.City, device.Country,
			device.LastLogin, device.ExpiresAt,
			device.IsActive, device.MaxSessions,
			device.CreatedAt,
		))
		return err
	})

	if err != nil {
		return nil, err
	}

	return created, nil
}

// Renew extends the device expiry and refreshes its labels after a bypass
// login from that device.
func (r *TrustedDeviceRepository) Renew(ctx context.Context, id string, device *models.TrustedDevice) error {
	query := `
		UPDATE trusted_devices
		SET browser = $1, os = $2, device = $3, ip_address = $4,
			last_login = $5, expires_at = $6
		WHERE id = $7
	`

	result, err := r.db.Pool.Exec(ctx, query,
		device.Browser, device.OS, device.Device, device.IPAddress,
		device.LastLogin, device.ExpiresAt,
		id,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *TrustedDeviceRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM trusted_devices WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteExpired removes all devices past their expiry and returns how many
// were removed. Called periodically by the cleanup manager.
func (r *TrustedDeviceRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM trusted_devices WHERE expires_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
