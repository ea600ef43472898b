// Package worker drives one identity through its daily exchange loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dicoderin/bitbot/internal/api"
	"github.com/dicoderin/bitbot/internal/events"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/session"
	"github.com/dicoderin/bitbot/internal/wallet"
)

// Reason explains how an account run ended.
type Reason string

const (
	ReasonCompleted    Reason = "completed"
	ReasonQuotaReached Reason = "quota_reached"
	ReasonForbidden    Reason = "forbidden"
	ReasonUnclassified Reason = "unclassified"
	ReasonAuthFailed   Reason = "auth_failed"
	ReasonInvalidKey   Reason = "invalid_key"
	ReasonCancelled    Reason = "cancelled"
)

// ErrNoMessages is returned when the worker has nothing to send.
var ErrNoMessages = errors.New("no messages configured")

// ErrForbidden marks an account abandoned after repeated 403 responses.
var ErrForbidden = errors.New("access denied repeatedly")

const (
	// DailyMax is the default cap on iterations per account.
	DailyMax = 20

	callAttempts = 3
)

// Result summarises one account run.
type Result struct {
	Address   string
	Succeeded bool
	Exchanges int
	Reason    Reason
	Err       error
}

// Pool hands out proxy endpoints. A nil Pool means every account goes direct.
type Pool interface {
	Acquire(ctx context.Context) (string, bool)
	MarkDead(endpoint string)
	Release(endpoint string)
}

// Sessions authenticates identities and refreshes their tokens.
type Sessions interface {
	Authenticate(ctx context.Context, ex *retry.Executor, id wallet.Identity, proxy string) (*session.State, error)
	Refresh(ctx context.Context, ex *retry.Executor, st *session.State, proxy string) error
}

// API is the part of the remote service used once a session exists.
type API interface {
	Send(ctx context.Context, r api.Route, accessToken string, req api.ExchangeRequest) (string, error)
	Stats(ctx context.Context, r api.Route, accessToken, address string) (api.Stats, error)
	Forget(proxyURL string)
}

// Config bounds a single account run.
type Config struct {
	Count          int
	DailyMax       int
	ForbiddenLimit int
	Cooldown       time.Duration
	PacingMin      time.Duration
	PacingMax      time.Duration
}

// DefaultConfig mirrors the service limits: 20 per day, three 403s, a 5s
// cooldown, and 8-12s between exchanges.
func DefaultConfig(count int) Config {
	return Config{
		Count:          count,
		DailyMax:       DailyMax,
		ForbiddenLimit: 3,
		Cooldown:       5 * time.Second,
		PacingMin:      8 * time.Second,
		PacingMax:      12 * time.Second,
	}
}

// Iterations is min(Count, DailyMax).
func (c Config) Iterations() int {
	max := c.DailyMax
	if max <= 0 {
		max = DailyMax
	}
	return min(c.Count, max)
}

// Worker runs identities one at a time. It holds no per-account state and may
// be reused across accounts and runs.
type Worker struct {
	pool     Pool
	sessions Sessions
	client   API
	ex       *retry.Executor
	sink     events.Sink
	messages []string
	cfg      Config
	pick     func(n int) int
	jitter   func(n int64) int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithSink routes worker and retry events to s.
func WithSink(s events.Sink) Option {
	return func(w *Worker) { w.sink = events.Or(s) }
}

// WithPool routes accounts through a proxy pool.
func WithPool(p Pool) Option {
	return func(w *Worker) { w.pool = p }
}

// WithPicker overrides the message selector; it must return a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(w *Worker) {
		if pick != nil {
			w.pick = pick
		}
	}
}

// New builds a worker sending the given messages.
func New(sessions Sessions, client API, ex *retry.Executor, messages []string, cfg Config, opts ...Option) *Worker {
	if ex == nil {
		ex = retry.New()
	}
	if cfg.ForbiddenLimit <= 0 {
		cfg.ForbiddenLimit = 3
	}
	w := &Worker{
		sessions: sessions,
		client:   client,
		ex:       ex,
		sink:     events.Discard,
		messages: messages,
		cfg:      cfg,
		pick:     rand.IntN,
		jitter:   rand.Int64N,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// account is the mutable state of one Run.
type account struct {
	id        wallet.Identity
	proxy     string
	state     *session.State
	forbidden int
	sink      events.Sink
	ex        *retry.Executor
}

// Run authenticates id and exchanges messages until the iteration budget or
// the daily quota is used up. It never panics on remote failures; every outcome
// is reported through the Result.
func (w *Worker) Run(ctx context.Context, id wallet.Identity) (res Result) {
	sink := events.WithAccount(w.sink, id.Address)
	a := &account{id: id, sink: sink, ex: w.ex.Sink(sink)}
	n := w.cfg.Iterations()
	res = Result{Address: id.Address}

	sink.Emit(events.Event{Kind: events.AccountStarted, Count: n})
	defer func() {
		if a.proxy != "" && w.pool != nil {
			w.pool.Release(a.proxy)
		}
		ev := events.Event{
			Kind:    events.AccountFinished,
			OK:      res.Succeeded,
			Count:   res.Exchanges,
			Message: string(res.Reason),
		}
		if res.Err != nil {
			ev.Err = res.Err.Error()
		}
		sink.Emit(ev)
	}()

	if len(w.messages) == 0 {
		return fail(res, ReasonUnclassified, ErrNoMessages)
	}

	w.acquire(ctx, a)
	st, err := w.sessions.Authenticate(ctx, a.ex, id, a.proxy)
	if err != nil {
		return fail(res, authReason(ctx), err)
	}
	a.state = st

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return fail(res, ReasonCancelled, err)
		}

		if err := w.sessions.Refresh(ctx, a.ex, a.state, a.proxy); err != nil {
			if err := w.reauth(ctx, a, err); err != nil {
				return fail(res, authReason(ctx), err)
			}
		}

		stats, err := retry.Do(ctx, a.ex, "stats", callAttempts, func(ctx context.Context) (api.Stats, error) {
			return w.client.Stats(ctx, a.state.Route(a.proxy), a.state.AccessToken, id.Address)
		})
		switch {
		case err != nil && ctx.Err() != nil:
			return fail(res, ReasonCancelled, ctx.Err())
		case err != nil:
			sink.Emit(events.Event{Kind: events.ExchangeFailed, Index: i, Max: n, Label: "stats", Err: err.Error()})
		case stats.Exhausted():
			sink.Emit(events.Event{Kind: events.QuotaReached, Index: i, Max: n, Stats: toEvent(stats)})
			res.Succeeded = true
			res.Reason = ReasonQuotaReached
			return res
		default:
			done, reason, err := w.exchange(ctx, a, i, n)
			if reason != "" {
				return fail(res, reason, err)
			}
			if done {
				res.Exchanges++
			}
		}

		if i < n {
			if err := retry.Sleep(ctx, w.pace()); err != nil {
				return fail(res, ReasonCancelled, err)
			}
		}
	}

	res.Succeeded = true
	res.Reason = ReasonCompleted
	return res
}

// exchange sends one message. It reports whether a record was appended and,
// when the account must be abandoned, the reason and cause. A zero reason with
// done false means the iteration was lost but the account continues.
func (w *Worker) exchange(ctx context.Context, a *account, index, total int) (done bool, reason Reason, cause error) {
	message := w.messages[w.pick(len(w.messages))]
	for {
		req := api.NewExchangeRequest(a.id.Address, a.state.History, message)
		reply, err := retry.Do(ctx, a.ex, "exchange", callAttempts, func(ctx context.Context) (string, error) {
			return w.client.Send(ctx, a.state.Route(a.proxy), a.state.AccessToken, req)
		})
		if err == nil {
			a.state.History = append(a.state.History,
				api.Turn{Type: api.TurnUser, Message: message},
				api.Turn{Type: api.TurnAssistant, Message: reply},
			)
			a.forbidden = 0
			a.sink.Emit(events.Event{
				Kind: events.ExchangeSent, Index: index, Max: total,
				Message: message, Reply: reply, Count: len(a.state.History),
			})
			w.observe(ctx, a)
			return true, "", nil
		}
		if ctx.Err() != nil {
			return false, ReasonCancelled, ctx.Err()
		}

		class := retry.Classify(err)
		a.sink.Emit(events.Event{
			Kind: events.ExchangeFailed, Index: index, Max: total,
			Label: "exchange", Class: class.String(), Proxy: a.proxy, Err: err.Error(),
		})
		switch {
		case class == retry.Forbidden:
			a.forbidden++
			a.sink.Emit(events.Event{Kind: events.Forbidden, Index: index, Attempt: a.forbidden, Max: w.cfg.ForbiddenLimit})
			if a.forbidden >= w.cfg.ForbiddenLimit {
				return false, ReasonForbidden, fmt.Errorf("%w: %w", ErrForbidden, err)
			}
			if err := retry.Sleep(ctx, w.cfg.Cooldown); err != nil {
				return false, ReasonCancelled, err
			}
			if err := w.reauth(ctx, a, err); err != nil {
				return false, authReason(ctx), err
			}
		case class == retry.Transient && a.proxy != "":
			w.failover(ctx, a, err)
			if err := w.reauth(ctx, a, err); err != nil {
				return false, authReason(ctx), err
			}
			return false, "", nil
		default:
			return false, ReasonUnclassified, err
		}
	}
}

// observe re-reads the quota for display; a failure is only reported.
func (w *Worker) observe(ctx context.Context, a *account) {
	stats, err := retry.Do(ctx, a.ex, "stats update", callAttempts, func(ctx context.Context) (api.Stats, error) {
		return w.client.Stats(ctx, a.state.Route(a.proxy), a.state.AccessToken, a.id.Address)
	})
	if err != nil {
		a.sink.Emit(events.Event{Kind: events.StatsObserved, Err: err.Error()})
		return
	}
	a.sink.Emit(events.Event{Kind: events.StatsObserved, OK: true, Stats: toEvent(stats)})
}

func (w *Worker) acquire(ctx context.Context, a *account) {
	if w.pool != nil {
		if endpoint, ok := w.pool.Acquire(ctx); ok {
			a.proxy = endpoint
		}
	}
	a.sink.Emit(events.Event{Kind: events.ProxyAssigned, Proxy: a.proxy, OK: a.proxy != ""})
}

func (w *Worker) failover(ctx context.Context, a *account, cause error) {
	dead := a.proxy
	w.pool.MarkDead(dead)
	w.client.Forget(dead)
	a.proxy = ""
	if endpoint, ok := w.pool.Acquire(ctx); ok {
		a.proxy = endpoint
	}
	a.sink.Emit(events.Event{
		Kind: events.ProxyFailover, Proxy: a.proxy, Message: dead,
		OK: a.proxy != "", Err: cause.Error(),
	})
}

// reauth replaces the session wholesale, which also clears the history.
func (w *Worker) reauth(ctx context.Context, a *account, cause error) error {
	a.sink.Emit(events.Event{Kind: events.SessionReset, Proxy: a.proxy, Err: cause.Error()})
	st, err := w.sessions.Authenticate(ctx, a.ex, a.id, a.proxy)
	if err != nil {
		return err
	}
	a.state = st
	return nil
}

func (w *Worker) pace() time.Duration {
	lo, hi := w.cfg.PacingMin, w.cfg.PacingMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.jitter(int64(hi-lo)))
}

// authReason blames a failed handshake on shutdown when ctx is already done.
func authReason(ctx context.Context) Reason {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonAuthFailed
}

func fail(res Result, reason Reason, err error) Result {
	res.Succeeded = false
	res.Reason = reason
	res.Err = err
	return res
}

func toEvent(s api.Stats) *events.Stats {
	return &events.Stats{Daily: s.DailyCount, Limit: s.DailyLimit, Total: s.TotalCount, Points: s.Points}
}
