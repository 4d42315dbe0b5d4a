package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/tradepulse/alertd/internal/config"
)

const (
	keyAPIWriteUser = "alerts:api:write:%s"
	keyJobLock      = "alerts:job:lock:%s"
)

// APILimiter throttles per-user mutating API calls and hands out the
// scheduler job locks. Disabled configuration yields a nil limiter whose
// methods allow everything.
type APILimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	writeRate  float64
	writeBurst int
	lockTTL    time.Duration
}

func NewAPILimiter(cfg config.Config) (*APILimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("rate limit redis addr is required")
	}
	if cfg.APIWriteRate <= 0 || cfg.APIWriteBurst <= 0 {
		return nil, fmt.Errorf("api write rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &APILimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		locker:     NewLocker(client),
		writeRate:  cfg.APIWriteRate,
		writeBurst: cfg.APIWriteBurst,
		lockTTL:    cfg.JobLockTTL,
	}, nil
}

func (l *APILimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *APILimiter) AllowWrite(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAPIWriteUser, strings.TrimSpace(userID)), l.writeRate, l.writeBurst)
}

func (l *APILimiter) TryJobLock(ctx context.Context, job string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, fmt.Sprintf(keyJobLock, job), l.lockTTL)
}

func (l *APILimiter) ReleaseJobLock(ctx context.Context, job, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, fmt.Sprintf(keyJobLock, job), token)
}
