package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hassanwm/vigil/internal/database"
	"github.com/hassanwm/vigil/internal/models"
)

type BlockedIPRepository struct {
	pool *pgxpool.Pool
}

func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{pool: db.Pool}
}

// IsBlocked reports whether the IP has a durable block record. Absence of a
// record means not blocked.
func (r *BlockedIPRepository) IsBlocked(ctx context.Context, ip string) (bool, error) {
	query := `SELECT is_blocked FROM blocked_ips WHERE ip = $1`

	var blocked bool
	err := r.pool.QueryRow(ctx, query, ip).Scan(&blocked)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return false, nil
		}
		return false, database.MapPostgresError(err)
	}

	return blocked, nil
}

// Block upserts a durable block record for the IP. Blocks are permanent until
// cleared administratively.
func (r *BlockedIPRepository) Block(ctx context.Context, ip string) error {
	query := `
		INSERT INTO blocked_ips (id, ip, blocked_at, is_blocked)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (ip) DO UPDATE SET is_blocked = TRUE, blocked_at = EXCLUDED.blocked_at
	`

	if _, err := r.pool.Exec(ctx, query, uuid.New().String(), ip, time.Now()); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}
