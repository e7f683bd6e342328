package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/mazen160/go-random"
)

// RetryPolicy retries transient failures with exponential backoff,
// wait = BackoffBase^attempt seconds. Permanent failures short-circuit.
type RetryPolicy struct {
	// total attempt ceiling, including the first try
	MaxAttempts int
	// exponent base in seconds; <= 0 disables waiting (useful in tests)
	BackoffBase float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 1.5,
	}
}

// Do runs fn until it succeeds, fails permanently, or exhausts the
// attempt ceiling. Exhaustion converts the last transient error into
// KindTransientExhausted so the failure log can tell the two apart.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				slog.DebugContext(ctx, "succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			break
		}

		wait := p.backoff(attempt)
		slog.DebugContext(ctx, "retrying after backoff", "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return Transient(ctx.Err())
		case <-time.After(wait):
		}
	}

	exhausted := &Error{
		Kind:               KindTransientExhausted,
		InvalidatesSession: invalidatesSession(lastErr),
		Err:                lastErr,
	}
	// unwrap the transient classification so the failure log reads
	// "connection reset", not "transient: connection reset"
	var classified *Error
	if errors.As(lastErr, &classified) && classified.Err != nil {
		exhausted.Err = classified.Err
	}
	return exhausted
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	wait := time.Duration(math.Pow(p.BackoffBase, float64(attempt)) * float64(time.Second))

	// ±20% jitter so parallel workers don't hammer the source in sync
	jitter, err := random.IntRange(80, 121)
	if err != nil {
		return wait
	}
	return wait * time.Duration(jitter) / 100
}

// permanentDetail strips the classification prefix for failure logs.
func permanentDetail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
