// Package schedule repeats a job on a cron cadence, starting immediately.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors such as "@every 24h".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Daily is the default cadence.
const Daily = "@every 24h"

// Job is one scheduled run.
type Job func(ctx context.Context)

// Loop runs a job now and then at every fire time of its schedule.
type Loop struct {
	sched  cron.Schedule
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	onWait func(next time.Time)
}

// Option configures a Loop.
type Option func(*Loop)

// OnWait registers a callback invoked with the next fire time before each wait.
func OnWait(fn func(next time.Time)) Option {
	return func(l *Loop) { l.onWait = fn }
}

// New parses expr into a loop.
func New(expr string, opts ...Option) (*Loop, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	l := &Loop{sched: sched, now: time.Now, after: time.After}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Next reports the fire time following t.
func (l *Loop) Next(t time.Time) time.Time { return l.sched.Next(t) }

// Run executes job immediately and then on schedule until ctx is cancelled.
// The next fire time is computed from when the previous run finished, so runs
// never overlap.
func (l *Loop) Run(ctx context.Context, job Job) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job(ctx)

		next := l.sched.Next(l.now())
		if l.onWait != nil {
			l.onWait(next)
		}
		wait := next.Sub(l.now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(wait):
		}
	}
}
