package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/hassanwm/vigil/internal/auth"
	"github.com/hassanwm/vigil/internal/clientinfo"
	"github.com/hassanwm/vigil/internal/config"
	"github.com/hassanwm/vigil/internal/models"
)

// TrustedDeviceStore defines the interface for trusted device persistence.
type TrustedDeviceStore interface {
	GetActive(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error)
	CreateEnforcingLimit(ctx context.Context, device *models.TrustedDevice, maxActive int) (*models.TrustedDevice, error)
	Renew(ctx context.Context, id string, device *models.TrustedDevice) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// TrustedDeviceService manages the registry of devices allowed to skip the
// OTP step, including the per-user session cap.
type TrustedDeviceService struct {
	store  TrustedDeviceStore
	config config.TrustedDeviceConfig
	logger *slog.Logger
}

func NewTrustedDeviceService(store TrustedDeviceStore, cfg config.TrustedDeviceConfig, logger *slog.Logger) *TrustedDeviceService {
	return &TrustedDeviceService{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Lookup finds the user's active, unexpired device by its opaque identifier.
// Returns models.ErrNotFound on a miss; the store removes expired records.
func (s *TrustedDeviceService) Lookup(ctx context.Context, userID, deviceID string) (*models.TrustedDevice, error) {
	return s.store.GetActive(ctx, userID, deviceID)
}

// Remember registers the current client as trusted after a successful OTP
// verification. Oldest sessions are evicted to stay within the session cap.
func (s *TrustedDeviceService) Remember(ctx context.Context, userID string, labels clientinfo.Labels, ip string) (*models.TrustedDevice, error) {
	deviceID, err := auth.GenerateDeviceID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	device := &models.TrustedDevice{
		UserID:      userID,
		DeviceID:    deviceID,
		Browser:     labels.Browser,
		OS:          labels.OS,
		Device:      labels.Device,
		LastLogin:   now,
		ExpiresAt:   now.Add(s.config.TTL),
		IsActive:    true,
		MaxSessions: s.config.MaxSessions,
	}
	if ip != "" {
		device.IPAddress = &ip
	}

	created, err := s.store.CreateEnforcingLimit(ctx, device, s.config.MaxSessions)
	if err != nil {
		return nil, err
	}

	s.logger.Info("trusted device registered",
		slog.String("user_id", userID),
		slog.String("device", labels.Device))

	return created, nil
}

// RenewOnLogin refreshes the device after an OTP bypass login: labels and IP
// are updated and the expiry window restarts from now.
func (s *TrustedDeviceService) RenewOnLogin(ctx context.Context, device *models.TrustedDevice, labels clientinfo.Labels, ip string) error {
	now := time.Now()

	device.Browser = labels.Browser
	device.OS = labels.OS
	device.Device = labels.Device
	device.LastLogin = now
	device.ExpiresAt = now.Add(s.config.TTL)
	if ip != "" {
		device.IPAddress = &ip
	} else {
		device.IPAddress = nil
	}

	return s.store.Renew(ctx, device.ID, device)
}

// CleanupExpired removes expired devices and returns the count removed.
func (s *TrustedDeviceService) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.logger.Info("expired trusted devices removed", slog.Int64("count", count))
	}

	return count, nil
}
