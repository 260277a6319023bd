package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "nexus/backend/pkg/errors"
	"nexus/backend/pkg/logger"
)

// Limiter gates outbound platform calls. Acquire blocks until cost tokens
// are debited or ctx ends.
type Limiter interface {
	Acquire(ctx context.Context, cost int) error
}

// Options configures a TokenBucket
type Options struct {
	Capacity     int
	RefillPerSec float64
	JitterMin    time.Duration
	JitterMax    time.Duration
	// OnWait, when set, is called for every acquisition with the time spent waiting
	OnWait func(cost int, waited time.Duration)
}

// TokenBucket is the process-wide request budget. One instance is built at
// startup and handed to every client that talks to the platform.
type TokenBucket struct {
	limiter   *rate.Limiter
	capacity  int
	jitterMin time.Duration
	jitterMax time.Duration
	onWait    func(int, time.Duration)
	logger    *zap.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a full bucket
func New(opts Options) (*TokenBucket, error) {
	if opts.Capacity <= 0 {
		return nil, apperrors.NewValidation("capacity", "must be positive")
	}
	if opts.RefillPerSec <= 0 {
		return nil, apperrors.NewValidation("refill rate", "must be positive")
	}
	if opts.JitterMax < opts.JitterMin {
		return nil, apperrors.NewValidation("jitter", "max below min")
	}

	return &TokenBucket{
		limiter:   rate.NewLimiter(rate.Limit(opts.RefillPerSec), opts.Capacity),
		capacity:  opts.Capacity,
		jitterMin: opts.JitterMin,
		jitterMax: opts.JitterMax,
		onWait:    opts.OnWait,
		logger:    logger.Named("ratelimit"),
		now:       time.Now,
		sleep:     Sleep,
	}, nil
}

// Acquire debits cost tokens, waiting for refill plus jitter when the bucket
// is short; the bucket is empty after such a wait. Without a deadline it
// always eventually succeeds. If ctx ends first, or its deadline falls
// before the tokens could be granted, the reservation is returned to the
// bucket and a context error is reported.
func (b *TokenBucket) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		return apperrors.NewValidation("cost", "must be positive")
	}
	if cost > b.capacity {
		return apperrors.NewValidation("cost", "exceeds bucket capacity")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextCancelled("rate limit wait", err)
	}

	now := b.now()
	r := b.limiter.ReserveN(now, cost)
	if !r.OK() {
		return apperrors.NewValidation("cost", "exceeds bucket capacity")
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		b.observe(cost, 0)
		return nil
	}

	wait := delay + b.jitter()
	if deadline, ok := ctx.Deadline(); ok && now.Add(delay).After(deadline) {
		r.CancelAt(now)
		return apperrors.NewContextCancelled("rate limit wait", context.DeadlineExceeded)
	}

	b.logger.Debug("Waiting for rate budget",
		zap.Int("cost", cost),
		zap.Duration("wait", wait),
	)

	if err := b.sleep(ctx, wait); err != nil {
		r.CancelAt(b.now())
		return apperrors.NewContextCancelled("rate limit wait", err)
	}

	b.drain()
	b.observe(cost, wait)
	return nil
}

// drain discards whole tokens that refilled during the jitter, leaving the
// bucket empty after a wait. Queued reservations keep the count below one.
func (b *TokenBucket) drain() {
	now := b.now()
	if tokens := b.limiter.TokensAt(now); tokens >= 1 {
		b.limiter.AllowN(now, int(tokens))
	}
}

// Remaining reports the tokens currently available. Negative values mean
// callers are queued behind outstanding reservations.
func (b *TokenBucket) Remaining() float64 {
	return b.limiter.TokensAt(b.now())
}

// Capacity returns the bucket size
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

func (b *TokenBucket) jitter() time.Duration {
	span := b.jitterMax - b.jitterMin
	if span <= 0 {
		return b.jitterMin
	}
	return b.jitterMin + time.Duration(rand.Int64N(int64(span)+1))
}

func (b *TokenBucket) observe(cost int, waited time.Duration) {
	if b.onWait != nil {
		b.onWait(cost, waited)
	}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Noop never waits. Used by offline tools and tests.
type Noop struct{}

// Acquire implements Limiter
func (Noop) Acquire(ctx context.Context, cost int) error {
	return ctx.Err()
}
