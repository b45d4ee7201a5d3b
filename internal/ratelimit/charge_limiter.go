package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/permipay/permipay/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyCharge       = "permipay:charge:%s"
	keyIngestLeader = "permipay:ingest:leader"
)

// ChargeLimiter throttles the off-chain charge API per user address and
// doubles as the home of the ingest leader lock. A nil limiter (rate limiting
// disabled) allows everything.
type ChargeLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewChargeLimiter(cfg config.Config) (*ChargeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ChargeRate <= 0 || limitCfg.ChargeBurst <= 0 {
		return nil, errors.New("charge rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ChargeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.ChargeRate,
		burst:   limitCfg.ChargeBurst,
		lockTTL: limitCfg.LeaderLockTTL,
	}, nil
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowCharge returns nil result when rate limiting is disabled.
func (l *ChargeLimiter) AllowCharge(ctx context.Context, userAddress string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCharge, strings.ToLower(strings.TrimSpace(userAddress)))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// TryLeaderLock claims the ingest pipeline for one poll cycle so concurrent
// replicas do not interleave event application.
func (l *ChargeLimiter) TryLeaderLock(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyIngestLeader, l.lockTTL)
}

func (l *ChargeLimiter) ReleaseLeaderLock(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyIngestLeader, token)
}
