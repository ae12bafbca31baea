package pkg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDistributedLimiter_UnlimitedWhenRateIsZero(t *testing.T) {
	l := NewDistributedLimiter(nil, "verification:rate", 0, 0, time.Second, 0, zap.NewNop())
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Wait(context.Background()))
	}
}

func TestDistributedLimiter_FailsFastBeyondMaxWait(t *testing.T) {
	l := NewDistributedLimiter(nil, "verification:rate", 1, 1, time.Second, 10*time.Millisecond, zap.NewNop())
	assert.NoError(t, l.Wait(context.Background()))
	assert.ErrorIs(t, l.Wait(context.Background()), ErrRateLimitExceeded)
}

func TestDistributedLimiter_WaitsWithinBudget(t *testing.T) {
	l := NewDistributedLimiter(nil, "verification:rate", 50, 1, time.Second, time.Second, zap.NewNop())
	start := time.Now()
	assert.NoError(t, l.Wait(context.Background()))
	assert.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDistributedLimiter_HonoursContext(t *testing.T) {
	l := NewDistributedLimiter(nil, "verification:rate", 1, 1, time.Second, 0, zap.NewNop())
	assert.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
