// Package dispatch serializes outbound exchange requests against a token
// bucket budget, retries transient failures with exponential backoff, and
// bounds the number of in-flight submissions.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/nadotrader/pkg/util"
)

// ErrRateLimited is returned under the fail-fast policy when the token
// budget is exhausted before anything was sent. It is never returned bare
// once an attempt has reached the wire; a rate limit hit between retries
// surfaces wrapped in a *TransientError with Attempts > 0 instead, because
// the outcome of the sent attempt is unknown.
var ErrRateLimited = errors.New("dispatch: rate limit exceeded")

// TransientError surfaces only after the retry budget is exhausted.
// The request may or may not have reached the exchange; the order's true
// state is resolved by reconciliation, never assumed.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("dispatch: %d attempts failed: %v", e.Attempts, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// Rejection marks an error as a terminal exchange-side rejection.
// Rejections are reported verbatim and never retried: resubmitting an order
// the engine deterministically refuses cannot change the answer.
type Rejection interface {
	error
	RejectionReason() string
}

type Status int

const (
	// Accepted: the exchange acknowledged the request.
	Accepted Status = iota
	// Rejected: the exchange declined; Reason carries its verbatim answer.
	Rejected
	// Unknown: no definitive answer within the deadline. The request may
	// have been accepted server-side; reconcile before concluding anything.
	Unknown
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of one logical submission, retries included.
type Outcome struct {
	Status   Status
	Reason   string
	Attempts int
	Response json.RawMessage
}

// Sender is the transport capability the dispatcher drives.
type Sender interface {
	Send(ctx context.Context, method string, payload any) (json.RawMessage, error)
}

type Policy struct {
	// Blocking waits for a token; non-blocking fails fast with ErrRateLimited.
	Blocking    bool
	MaxAttempts int
	MaxInFlight int
}

type Dispatcher struct {
	sender   Sender
	bucket   *TokenBucket
	policy   Policy
	inflight chan struct{}
	clock    util.Clock
	log      *zap.Logger
}

func New(sender Sender, bucket *TokenBucket, policy Policy, clock util.Clock, log *zap.Logger) *Dispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxInFlight < 1 {
		policy.MaxInFlight = 1
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		sender:   sender,
		bucket:   bucket,
		policy:   policy,
		inflight: make(chan struct{}, policy.MaxInFlight),
		clock:    clock,
		log:      log,
	}
}

// Submit sends one signed request. The payload is reused verbatim across
// retries: the digest of a signed instruction is stable, so the exchange
// treats a duplicate delivery as the same logical order.
//
// Cancellations go through the same path and share the same budget.
func (d *Dispatcher) Submit(ctx context.Context, method string, payload any) (Outcome, error) {
	if err := d.acquire(ctx); err != nil {
		return Outcome{Status: Unknown}, err
	}

	select {
	case d.inflight <- struct{}{}:
	case <-ctx.Done():
		return Outcome{Status: Unknown}, ctx.Err()
	}
	defer func() { <-d.inflight }()

	var lastErr error
	for attempt := 0; attempt < d.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			// Each retry spends a fresh token; retries compete with new
			// requests for the same budget.
			select {
			case <-ctx.Done():
				return d.unknown(attempt, ctx.Err())
			case <-d.clock.After(Backoff(attempt - 1)):
			}
			if err := d.acquire(ctx); err != nil {
				// At least one attempt already reached the wire; this is
				// not "never sent", the outcome is genuinely unknown.
				return Outcome{Status: Unknown, Attempts: attempt},
					&TransientError{Attempts: attempt, Err: err}
			}
		}

		resp, err := d.sender.Send(ctx, method, payload)
		if err == nil {
			return Outcome{Status: Accepted, Attempts: attempt + 1, Response: resp}, nil
		}

		var rej Rejection
		if errors.As(err, &rej) {
			d.log.Info("request rejected by exchange",
				zap.String("method", method),
				zap.String("reason", rej.RejectionReason()))
			return Outcome{
				Status:   Rejected,
				Reason:   rej.RejectionReason(),
				Attempts: attempt + 1,
			}, nil
		}

		if ctx.Err() != nil {
			// Deadline elapsed mid-flight: outcome is genuinely unknown.
			return d.unknown(attempt+1, err)
		}

		lastErr = err
		d.log.Warn("transient dispatch failure",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return Outcome{Status: Unknown, Attempts: d.policy.MaxAttempts},
		&TransientError{Attempts: d.policy.MaxAttempts, Err: lastErr}
}

func (d *Dispatcher) acquire(ctx context.Context) error {
	if d.policy.Blocking {
		return d.bucket.Wait(ctx)
	}
	if !d.bucket.TryAcquire() {
		return ErrRateLimited
	}
	return nil
}

func (d *Dispatcher) unknown(attempts int, err error) (Outcome, error) {
	return Outcome{Status: Unknown, Attempts: attempts}, err
}
