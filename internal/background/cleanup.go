package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredDeviceCleaner removes trusted devices past their expiry.
type ExpiredDeviceCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired trusted devices from the database
type CleanupManager struct {
	devices  ExpiredDeviceCleaner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(devices ExpiredDeviceCleaner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		devices:  devices,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup removes expired trusted devices from the database
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cm.logger.Info("starting expired trusted device cleanup")

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.devices.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired trusted devices", slog.Any("error", err))
		return
	}

	if removed > 0 {
		cm.logger.Info("expired trusted device cleanup completed", slog.Int64("rows_deleted", removed))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
