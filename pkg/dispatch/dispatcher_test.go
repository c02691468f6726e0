package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/nadotrader/pkg/util"
)

type fakeRejection struct{ reason string }

func (r *fakeRejection) Error() string           { return "rejected: " + r.reason }
func (r *fakeRejection) RejectionReason() string { return r.reason }

// scriptedSender returns the scripted results in order, then repeats the last.
type scriptedSender struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (s *scriptedSender) Send(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	if err := s.results[idx]; err != nil {
		return nil, err
	}
	return json.RawMessage(`{"status":"success"}`), nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newDispatcher(sender Sender, bucket *TokenBucket, policy Policy) *Dispatcher {
	return New(sender, bucket, policy, util.RealClock{}, nil)
}

func TestSubmit_Accepted(t *testing.T) {
	sender := &scriptedSender{results: []error{nil}}
	d := newDispatcher(sender, NewTokenBucket(600, 5, nil), Policy{Blocking: true, MaxAttempts: 3, MaxInFlight: 4})

	out, err := d.Submit(context.Background(), "place_order", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.JSONEq(t, `{"status":"success"}`, string(out.Response))
}

func TestSubmit_RejectionNeverRetried(t *testing.T) {
	sender := &scriptedSender{results: []error{&fakeRejection{reason: "insufficient_collateral"}}}
	d := newDispatcher(sender, NewTokenBucket(600, 5, nil), Policy{Blocking: true, MaxAttempts: 5, MaxInFlight: 4})

	out, err := d.Submit(context.Background(), "place_order", nil)
	require.NoError(t, err)
	assert.Equal(t, Rejected, out.Status)
	assert.Equal(t, "insufficient_collateral", out.Reason)
	assert.Equal(t, 1, sender.callCount(), "rejections must not be retried")
}

func TestSubmit_TransientRetriedThenAccepted(t *testing.T) {
	sender := &scriptedSender{results: []error{
		fmt.Errorf("connection reset"),
		fmt.Errorf("gateway status 503"),
		nil,
	}}
	d := newDispatcher(sender, NewTokenBucket(6000, 10, nil), Policy{Blocking: true, MaxAttempts: 4, MaxInFlight: 4})

	out, err := d.Submit(context.Background(), "place_order", nil)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, sender.callCount())
}

func TestSubmit_TransientExhausted(t *testing.T) {
	sender := &scriptedSender{results: []error{fmt.Errorf("connection refused")}}
	d := newDispatcher(sender, NewTokenBucket(6000, 10, nil), Policy{Blocking: true, MaxAttempts: 2, MaxInFlight: 4})

	out, err := d.Submit(context.Background(), "place_order", nil)
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Unknown, out.Status, "exhausted retries leave the outcome unknown, not rejected")
	assert.Equal(t, 2, terr.Attempts)
	assert.Equal(t, 2, sender.callCount())
}

func TestSubmit_FailFastRateLimit(t *testing.T) {
	sender := &scriptedSender{results: []error{nil}}
	// 1/min refill: the burst is the whole budget for this test.
	bucket := NewTokenBucket(1, 2, nil)
	d := newDispatcher(sender, bucket, Policy{Blocking: false, MaxAttempts: 1, MaxInFlight: 4})

	for i := 0; i < 2; i++ {
		_, err := d.Submit(context.Background(), "place_order", nil)
		require.NoError(t, err)
	}
	out, err := d.Submit(context.Background(), "place_order", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 0, out.Attempts, "a bare rate-limit refusal means nothing was sent")
	assert.Equal(t, 2, sender.callCount(), "over-budget request must not be sent")
}

func TestSubmit_RateLimitedOnRetryLeavesUnknown(t *testing.T) {
	sender := &scriptedSender{results: []error{fmt.Errorf("connection reset")}}
	// Burst 1 at 1/min: the first attempt spends the only token and the
	// retry cannot get a fresh one after its backoff.
	bucket := NewTokenBucket(1, 1, nil)
	d := newDispatcher(sender, bucket, Policy{Blocking: false, MaxAttempts: 2, MaxInFlight: 4})

	out, err := d.Submit(context.Background(), "place_order", nil)
	var terr *TransientError
	require.ErrorAs(t, err, &terr,
		"a rate limit after a sent attempt is a transient failure, not a refusal")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, Unknown, out.Status)
	assert.Equal(t, 1, out.Attempts, "one attempt reached the wire")
	assert.Equal(t, 1, sender.callCount())
}

func TestSubmit_BlockingRespectsBudget(t *testing.T) {
	sender := &scriptedSender{results: []error{nil}}
	// Burst 1, 6000/min = 100/s: second request must wait ~10ms for a token.
	bucket := NewTokenBucket(6000, 1, nil)
	d := newDispatcher(sender, bucket, Policy{Blocking: true, MaxAttempts: 1, MaxInFlight: 4})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := d.Submit(context.Background(), "place_order", nil)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond,
		"three requests on a burst-1 bucket at 100/s need two refill waits")
	assert.Equal(t, 3, sender.callCount())
}

func TestSubmit_DeadlineLeavesOutcomeUnknown(t *testing.T) {
	block := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, method string, payload any) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
			return nil, nil
		}
	})
	d := newDispatcher(sender, NewTokenBucket(600, 5, nil), Policy{Blocking: true, MaxAttempts: 3, MaxInFlight: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := d.Submit(ctx, "place_order", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, Unknown, out.Status, "timeout must never be treated as rejection")
	close(block)
}

type senderFunc func(ctx context.Context, method string, payload any) (json.RawMessage, error)

func (f senderFunc) Send(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	return f(ctx, method, payload)
}

func TestBackoff_Schedule(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Backoff(0))
	assert.Equal(t, 500*time.Millisecond, Backoff(1))
	assert.Equal(t, time.Second, Backoff(2))
	assert.Equal(t, 10*time.Second, Backoff(10), "capped")
	assert.Equal(t, 10*time.Second, Backoff(64), "no overflow past the cap")
	assert.Equal(t, 250*time.Millisecond, Backoff(-1))
}

func TestTokenBucket_RefillOverTime(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	bucket := NewTokenBucket(60, 2, clock) // 1 token/sec, burst 2

	require.True(t, bucket.TryAcquire())
	require.True(t, bucket.TryAcquire())
	require.False(t, bucket.TryAcquire(), "burst exhausted")

	clock.Advance(time.Second)
	require.True(t, bucket.TryAcquire(), "one token accrues per second")
	require.False(t, bucket.TryAcquire())

	// Refill never exceeds the burst cap.
	clock.Advance(time.Minute)
	require.True(t, bucket.TryAcquire())
	require.True(t, bucket.TryAcquire())
	require.False(t, bucket.TryAcquire())
}

func TestTokenBucket_ZeroRateClamped(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_700_000_000, 0))
	bucket := NewTokenBucket(0, 1, clock)

	require.True(t, bucket.TryAcquire())
	require.False(t, bucket.TryAcquire())

	clock.Advance(time.Minute)
	require.True(t, bucket.TryAcquire(), "zero rate clamps to one token per minute")
}

func TestSubmit_ConcurrentSubmissionsDistinct(t *testing.T) {
	sender := &scriptedSender{results: []error{nil}}
	d := newDispatcher(sender, NewTokenBucket(60000, 100, nil), Policy{Blocking: true, MaxAttempts: 1, MaxInFlight: 8})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), "place_order", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 20, sender.callCount())
}
