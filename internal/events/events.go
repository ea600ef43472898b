// Package events carries the structured progress stream produced by the engine.
// The engine only emits; rendering is left to whichever Sink the caller wires in.
package events

import (
	"sync"
	"time"
)

// Kind names a single event type.
type Kind string

const (
	RunStarted       Kind = "run.started"
	RunFinished      Kind = "run.finished"
	AccountStarted   Kind = "account.started"
	AccountFinished  Kind = "account.finished"
	AttemptSucceeded Kind = "attempt.succeeded"
	AttemptFailed    Kind = "attempt.failed"
	ProxyAssigned    Kind = "proxy.assigned"
	ProxyFailover    Kind = "proxy.failover"
	ProxyProbed      Kind = "proxy.probed"
	SessionReset     Kind = "session.reset"
	StatsObserved    Kind = "stats.observed"
	QuotaReached     Kind = "quota.reached"
	ExchangeSent     Kind = "exchange.sent"
	ExchangeFailed   Kind = "exchange.failed"
	Forbidden        Kind = "exchange.forbidden"
)

// Stats mirrors the quota counters reported by the remote service.
type Stats struct {
	Daily  int     `json:"daily"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
	Points float64 `json:"points"`
}

// Event is one observation from the engine. Fields that do not apply are left zero.
type Event struct {
	Kind    Kind          `json:"kind"`
	Time    time.Time     `json:"time"`
	Account string        `json:"account,omitempty"`
	Label   string        `json:"label,omitempty"`
	Attempt int           `json:"attempt,omitempty"`
	Max     int           `json:"max,omitempty"`
	Class   string        `json:"class,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Proxy   string        `json:"proxy,omitempty"`
	Message string        `json:"message,omitempty"`
	Reply   string        `json:"reply,omitempty"`
	Index   int           `json:"index,omitempty"`
	Count   int           `json:"count,omitempty"`
	Stats   *Stats        `json:"stats,omitempty"`
	Success int           `json:"success,omitempty"`
	Failed  int           `json:"failed,omitempty"`
	OK      bool          `json:"ok,omitempty"`
	Err     string        `json:"err,omitempty"`
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Bus fans an event out to several sinks in order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus returns a bus with the given sinks attached; nil sinks are skipped.
func NewBus(sinks ...Sink) *Bus {
	b := &Bus{}
	for _, s := range sinks {
		b.Attach(s)
	}
	return b
}

// Attach adds another sink.
func (b *Bus) Attach(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Emit stamps the event time if missing and forwards it.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Emit(ev)
	}
}

// WithAccount tags every event passing through with the account address.
func WithAccount(s Sink, account string) Sink {
	if s == nil {
		s = Discard
	}
	return SinkFunc(func(ev Event) {
		if ev.Account == "" {
			ev.Account = account
		}
		s.Emit(ev)
	})
}

// Or returns s, or Discard when s is nil.
func Or(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
