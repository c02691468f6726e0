package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/uhyunpark/nadotrader/pkg/util"
)

// TokenBucket bounds request throughput to the exchange-advertised budget.
// Thread-safe; suitable for concurrent submitters sharing one account budget.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	clock      util.Clock
}

// NewTokenBucket creates a bucket holding at most burst tokens, refilled at
// ratePerMinute/60 tokens per second. The bucket starts full.
func NewTokenBucket(ratePerMinute, burst int, clock util.Clock) *TokenBucket {
	if clock == nil {
		clock = util.RealClock{}
	}
	if ratePerMinute < 1 {
		ratePerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(ratePerMinute) / 60.0,
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		// Time until one token accrues.
		wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(wait):
		}
	}
}

// TryAcquire takes a token without blocking. Returns false when the budget
// is exhausted.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Must be called with mutex held.
func (b *TokenBucket) refill() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}
