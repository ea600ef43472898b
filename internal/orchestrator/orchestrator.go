// Package orchestrator runs every configured identity through the worker, one
// after another, and aggregates the outcome.
package orchestrator

import (
	"context"
	"time"

	"github.com/dicoderin/bitbot/internal/events"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/wallet"
	"github.com/dicoderin/bitbot/internal/worker"
)

const defaultPause = 2 * time.Second

// Runner executes one identity.
type Runner interface {
	Run(ctx context.Context, id wallet.Identity) worker.Result
}

// Summary aggregates a full pass over the identities.
type Summary struct {
	SuccessCount   int
	FailCount      int
	TotalExchanges int
	Accounts       []worker.Result
}

// Orchestrator sequences account runs.
type Orchestrator struct {
	runner Runner
	sink   events.Sink
	pause  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink routes run-level events to s.
func WithSink(s events.Sink) Option {
	return func(o *Orchestrator) { o.sink = events.Or(s) }
}

// WithPause sets the gap between two accounts.
func WithPause(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.pause = d
		}
	}
}

// New wraps runner.
func New(runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{runner: runner, sink: events.Discard, pause: defaultPause}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes keys in order. A key that does not parse counts as a failed
// account. Cancelling ctx stops before the next account and returns what has
// been gathered so far.
func (o *Orchestrator) Run(ctx context.Context, keys []string) Summary {
	var sum Summary
	o.sink.Emit(events.Event{Kind: events.RunStarted, Count: len(keys)})

	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := retry.Sleep(ctx, o.pause); err != nil {
				break
			}
		}

		var res worker.Result
		id, err := wallet.ParseIdentity(key)
		if err != nil {
			res = worker.Result{Reason: worker.ReasonInvalidKey, Err: err}
			o.sink.Emit(events.Event{
				Kind:    events.AccountFinished,
				Index:   i + 1,
				Message: string(res.Reason),
				Err:     err.Error(),
			})
		} else {
			res = o.runner.Run(ctx, id)
		}

		sum.Accounts = append(sum.Accounts, res)
		sum.TotalExchanges += res.Exchanges
		if res.Succeeded {
			sum.SuccessCount++
		} else {
			sum.FailCount++
		}
	}

	o.sink.Emit(events.Event{
		Kind:    events.RunFinished,
		OK:      sum.FailCount == 0,
		Count:   sum.TotalExchanges,
		Success: sum.SuccessCount,
		Failed:  sum.FailCount,
		Message: ctxMessage(ctx),
	})
	return sum
}

func ctxMessage(ctx context.Context) string {
	if ctx.Err() != nil {
		return "interrupted"
	}
	return ""
}
