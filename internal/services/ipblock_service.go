package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/hassanwm/vigil/internal/config"
	"github.com/hassanwm/vigil/pkg/logger"
)

const (
	blockedIPKeyPrefix  = "blocked_ip:"
	loginAttemptsPrefix = "login_attempts:"
)

// BlockedIPStore defines the interface for durable IP block records.
type BlockedIPStore interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	Block(ctx context.Context, ip string) error
}

// ReputationCache defines the cache operations the IP pipeline needs.
type ReputationCache interface {
	GetBool(ctx context.Context, key string) (value bool, found bool, err error)
	SetBool(ctx context.Context, key string, value bool, ttl time.Duration) error
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// IPBlockService is the IP reputation pipeline: a cache-fronted block lookup
// and a windowed failure counter that promotes repeat offenders to a durable
// permanent block.
type IPBlockService struct {
	store  BlockedIPStore
	cache  ReputationCache
	config config.IPBlockConfig
	logger *slog.Logger
	audit  *logger.AuditLogger
}

func NewIPBlockService(store BlockedIPStore, cache ReputationCache, cfg config.IPBlockConfig, log *slog.Logger, audit *logger.AuditLogger) *IPBlockService {
	return &IPBlockService{
		store:  store,
		cache:  cache,
		config: cfg,
		logger: log,
		audit:  audit,
	}
}

// IsBlocked checks the cache first and falls back to the durable store on a
// miss. Negative results are cached too, so unblocked clients do not hit the
// database on every login. Cache failures degrade to the durable store.
func (s *IPBlockService) IsBlocked(ctx context.Context, ip string) (bool, error) {
	key := blockedIPKeyPrefix + ip

	blocked, found, err := s.cache.GetBool(ctx, key)
	if err != nil {
		s.logger.Error("ip block cache read failed", slog.String("ip", ip), slog.Any("error", err))
	} else if found {
		return blocked, nil
	}

	blocked, err = s.store.IsBlocked(ctx, ip)
	if err != nil {
		return false, err
	}

	if err := s.cache.SetBool(ctx, key, blocked, s.config.CacheTTL); err != nil {
		s.logger.Error("ip block cache write failed", slog.String("ip", ip), slog.Any("error", err))
	}

	return blocked, nil
}

// RecordFailure counts a failed login from ip inside the rolling window and
// reports whether the IP is blocked, either already or by this failure
// crossing the threshold. The crossing failure blocks immediately: the
// durable record is written, the cache is primed positive, and the counter
// is reset.
func (s *IPBlockService) RecordFailure(ctx context.Context, ip string) (blocked bool, err error) {
	// An already blocked IP never re-enters the counter.
	alreadyBlocked, err := s.IsBlocked(ctx, ip)
	if err != nil {
		return false, err
	}
	if alreadyBlocked {
		return true, nil
	}

	counterKey := loginAttemptsPrefix + ip

	count, err := s.cache.Increment(ctx, counterKey, s.config.CounterWindow)
	if err != nil {
		// Without the counter we cannot escalate, but the login failure
		// itself still stands.
		s.logger.Error("failure counter increment failed", slog.String("ip", ip), slog.Any("error", err))
		return false, nil
	}

	if count < int64(s.config.MaxAttempts) {
		return false, nil
	}

	if err := s.store.Block(ctx, ip); err != nil {
		return false, err
	}

	if err := s.cache.SetBool(ctx, blockedIPKeyPrefix+ip, true, s.config.CacheTTL); err != nil {
		s.logger.Error("ip block cache write failed", slog.String("ip", ip), slog.Any("error", err))
	}

	if err := s.cache.Delete(ctx, counterKey); err != nil {
		s.logger.Error("failure counter reset failed", slog.String("ip", ip), slog.Any("error", err))
	}

	s.audit.LogIPBlock(ip, int(count))

	return true, nil
}
