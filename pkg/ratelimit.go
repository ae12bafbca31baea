package pkg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Errors
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// DistributedLimiter combines a local rate.Limiter with a Redis fixed-window counter for global enforcement
// across worker replicas.
type DistributedLimiter struct {
	localLimiter *rate.Limiter
	redisClient  *redis.Client
	key          string        // e.g: "verification:rate"
	window       time.Duration // fixed window for the global counter
	windowLimit  int64
	maxWait      time.Duration // fail fast when the local reservation is longer than this
	logger       *zap.Logger
}

// NewDistributedLimiter creates a limiter; if ratePerSec=0, it's unlimited. redisClient may be nil for local-only limiting.
func NewDistributedLimiter(redisClient *redis.Client, key string, ratePerSec, burst int, window, maxWait time.Duration, logger *zap.Logger) *DistributedLimiter {
	var local *rate.Limiter
	if ratePerSec > 0 {
		local = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	if window <= 0 {
		window = time.Second
	}
	limit := int64(math.Ceil(float64(ratePerSec) * window.Seconds()))
	if limit < int64(burst) {
		limit = int64(burst)
	}
	return &DistributedLimiter{
		localLimiter: local,
		redisClient:  redisClient,
		key:          key,
		window:       window,
		windowLimit:  limit,
		maxWait:      maxWait,
		logger:       logger,
	}
}

// Wait blocks until a token is available, or returns ErrRateLimitExceeded when the wait would exceed maxWait
// or the global window is exhausted.
func (d *DistributedLimiter) Wait(ctx context.Context) error {
	if d.localLimiter == nil {
		return nil // Unlimited
	}

	// Local reservation first (fast path)
	res := d.localLimiter.Reserve()
	if !res.OK() {
		return ErrRateLimitExceeded
	}
	if delay := res.Delay(); delay > 0 {
		if d.maxWait > 0 && delay > d.maxWait {
			res.Cancel()
			return ErrRateLimitExceeded
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			res.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if d.redisClient == nil {
		return nil
	}

	// Distributed check via Redis atomic increment on the current window bucket
	bucket := fmt.Sprintf("%s:%d", d.key, time.Now().UnixNano()/int64(d.window))
	pipe := d.redisClient.Pipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, 2*d.window)
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Error("redis_rate_limit_error_falling_back_to_local", zap.Error(err))
		return nil
	}

	if count := incr.Val(); count > d.windowLimit {
		d.logger.Warn("global_rate_limit_exceeded", zap.String("key", d.key), zap.Int64("count", count))
		return ErrRateLimitExceeded
	}
	return nil
}
