// Package retry runs operations under a bounded attempt budget with a constant delay.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dicoderin/bitbot/internal/events"
)

const defaultDelay = 3 * time.Second

// Error is the last failure of an exhausted (or short-circuited) operation.
type Error struct {
	Label    string
	Attempts int
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Label, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt's error.
func (e *Error) Unwrap() error { return e.Err }

// Executor holds the shared retry policy.
type Executor struct {
	delay          time.Duration
	sink           events.Sink
	now            func() time.Time
	retryForbidden bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithDelay overrides the pause between attempts. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithSink routes attempt events to s.
func WithSink(s events.Sink) Option {
	return func(e *Executor) { e.sink = events.Or(s) }
}

// New builds an executor with a 3s delay and no event sink.
func New(opts ...Option) *Executor {
	e := &Executor{delay: defaultDelay, sink: events.Discard, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sink returns a copy of the executor emitting to s instead.
func (e *Executor) Sink(s events.Sink) *Executor {
	cp := *e
	cp.sink = events.Or(s)
	return &cp
}

// RetryForbidden returns a copy that treats Forbidden like any other failure.
// Handshake and refresh calls use it; a 403 there is not cured by re-authenticating.
func (e *Executor) RetryForbidden() *Executor {
	cp := *e
	cp.retryForbidden = true
	return &cp
}

// Do runs op up to maxAttempts times. Forbidden errors return immediately unless
// the executor was built with RetryForbidden; every other class waits the fixed
// delay and tries again until the budget runs out.
func Do[T any](ctx context.Context, e *Executor, label string, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	start := e.now()
	var lastErr error
	var class Class
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			e.sink.Emit(events.Event{
				Kind:    events.AttemptSucceeded,
				Label:   label,
				Attempt: attempt,
				Max:     maxAttempts,
				Elapsed: e.now().Sub(start),
				OK:      true,
			})
			return result, nil
		}
		lastErr = err
		class = Classify(err)
		e.sink.Emit(events.Event{
			Kind:    events.AttemptFailed,
			Label:   label,
			Attempt: attempt,
			Max:     maxAttempts,
			Class:   class.String(),
			Elapsed: e.now().Sub(start),
			Err:     err.Error(),
		})
		if (class == Forbidden && !e.retryForbidden) || ctx.Err() != nil {
			return zero, &Error{Label: label, Attempts: attempt, Class: class, Err: lastErr}
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, e.delay); err != nil {
				return zero, &Error{Label: label, Attempts: attempt, Class: class, Err: lastErr}
			}
		}
	}
	return zero, &Error{Label: label, Attempts: maxAttempts, Class: class, Err: lastErr}
}

// Sleep waits for d or until ctx is done.
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
