package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/principal"
)

const (
	keyPrincipalBucket = "entitle:rl:%s"
	keySweepLock       = "entitle:sweep:lock"

	sweepLockTTL = 5 * time.Minute
)

// RequestLimiter throttles entitlement checks and usage writes per
// principal. A nil limiter allows everything, so callers never need to
// branch on whether redis is configured.
type RequestLimiter struct {
	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limiting requires redis addr")
	}
	if cfg.RateLimitRate <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, errors.New("rate limit rate and burst must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &RequestLimiter{
		bucket: NewTokenBucket(client),
		locker: NewLocker(client),
		rate:   cfg.RateLimitRate,
		burst:  cfg.RateLimitBurst,
	}, nil
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the principal's bucket. Disabled limiters
// always allow.
func (l *RequestLimiter) Allow(ctx context.Context, p principal.Ref) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPrincipalBucket, p.Key()), l.rate, l.burst)
}

// TryLockSweep claims the scheduler sweep so only one instance runs it.
// Without redis the claim always succeeds.
func (l *RequestLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, sweepLockTTL)
}

func (l *RequestLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
