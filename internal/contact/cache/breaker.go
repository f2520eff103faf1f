package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"identify/pkg/platform/circuit"
)

const defaultProbeInterval = 5 * time.Second

// Breaker guards a Cache with a circuit breaker. While the circuit is open,
// calls short-circuit (reads miss, writes are dropped) except for one probe
// per interval, whose outcome feeds the breaker.
type Breaker struct {
	inner         Cache
	breaker       *circuit.Breaker
	logger        *slog.Logger
	clock         func() time.Time
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithProbeInterval sets how often an open circuit lets one call through.
func WithProbeInterval(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.probeInterval = d
		}
	}
}

// WithBreakerClock sets the clock used for probe scheduling.
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// NewBreaker wraps inner. logger may be nil.
func NewBreaker(inner Cache, cb *circuit.Breaker, logger *slog.Logger, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		inner:         inner,
		breaker:       cb,
		logger:        logger,
		clock:         time.Now,
		probeInterval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Get(ctx context.Context, key string) (string, bool, error) {
	if !b.allow() {
		return "", false, nil
	}
	val, found, err := b.inner.Get(ctx, key)
	b.record(ctx, err)
	return val, found, err
}

func (b *Breaker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !b.allow() {
		return nil
	}
	err := b.inner.Set(ctx, key, value, ttl)
	b.record(ctx, err)
	return err
}

func (b *Breaker) Index(ctx context.Context, primaryID int64, key string, ttl time.Duration) error {
	if !b.allow() {
		return nil
	}
	err := b.inner.Index(ctx, primaryID, key, ttl)
	b.record(ctx, err)
	return err
}

func (b *Breaker) Invalidate(ctx context.Context, primaryID int64) error {
	if !b.allow() {
		return nil
	}
	err := b.inner.Invalidate(ctx, primaryID)
	b.record(ctx, err)
	return err
}

func (b *Breaker) allow() bool {
	if !b.breaker.IsOpen() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock()
	if now.Sub(b.lastProbe) < b.probeInterval {
		return false
	}
	b.lastProbe = now
	return true
}

func (b *Breaker) record(ctx context.Context, err error) {
	if err != nil {
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.mu.Lock()
			b.lastProbe = b.clock()
			b.mu.Unlock()
			if b.logger != nil {
				b.logger.WarnContext(ctx, "cache circuit opened", "breaker", b.breaker.Name(), "error", err)
			}
		}
		return
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed && b.logger != nil {
		b.logger.InfoContext(ctx, "cache circuit closed", "breaker", b.breaker.Name())
	}
}
