// Package proxy tracks proxy endpoints, their health, and which of them are in use.
package proxy

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dicoderin/bitbot/internal/events"
)

// State is the health of one endpoint.
type State int

const (
	Untested State = iota
	Active
	Dead
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Dead:
		return "dead"
	default:
		return "untested"
	}
}

// Prober checks whether an endpoint can currently carry traffic.
type Prober interface {
	Probe(ctx context.Context, endpoint string) bool
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context, endpoint string) bool

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context, endpoint string) bool { return f(ctx, endpoint) }

// Status is a point-in-time view of one endpoint.
type Status struct {
	Endpoint string
	State    State
	InUse    bool
}

// Pool hands out healthy endpoints, at most one holder per endpoint.
type Pool struct {
	prober      Prober
	sink        events.Sink
	concurrency int

	mu     sync.Mutex
	order  []string
	states map[string]State
	inUse  map[string]struct{}
	cursor int
}

// Option configures Pool construction parameters.
type Option func(*Pool)

// WithSink reports probe outcomes to s.
func WithSink(s events.Sink) Option {
	return func(p *Pool) { p.sink = events.Or(s) }
}

// WithProbeConcurrency caps the ProbeAll fan-out.
func WithProbeConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool builds a pool of Untested endpoints (blank and duplicate entries dropped).
func NewPool(endpoints []string, prober Prober, opts ...Option) *Pool {
	p := &Pool{
		prober:      prober,
		sink:        events.Discard,
		concurrency: 16,
		states:      make(map[string]State, len(endpoints)),
		inUse:       make(map[string]struct{}),
	}
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		if _, ok := p.states[ep]; ok {
			continue
		}
		p.states[ep] = Untested
		p.order = append(p.order, ep)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len returns the number of known endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// ProbeAll checks every endpoint concurrently and returns how many are healthy.
func (p *Pool) ProbeAll(ctx context.Context) int {
	p.mu.Lock()
	endpoints := append([]string(nil), p.order...)
	p.mu.Unlock()

	results := make([]bool, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = p.probe(gctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	active := 0
	for _, ok := range results {
		if ok {
			active++
		}
	}
	return active
}

// Acquire returns a free endpoint whose probe just passed. Endpoints not marked
// Dead are tried first, then Dead ones get another chance. ok is false when
// nothing is reachable or the pool is empty.
func (p *Pool) Acquire(ctx context.Context) (endpoint string, ok bool) {
	for _, wantDead := range []bool{false, true} {
		for _, ep := range p.candidates(wantDead) {
			if ctx.Err() != nil {
				return "", false
			}
			if !p.probe(ctx, ep) {
				continue
			}
			if p.claim(ep) {
				return ep, true
			}
		}
	}
	return "", false
}

// MarkDead frees an in-use endpoint and marks it Dead. No-op otherwise.
func (p *Pool) MarkDead(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.inUse[endpoint]; !held {
		return
	}
	delete(p.inUse, endpoint)
	p.states[endpoint] = Dead
}

// Release frees an in-use endpoint that is still healthy.
func (p *Pool) Release(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, endpoint)
}

// Snapshot lists every endpoint in configuration order.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.order))
	for i, ep := range p.order {
		_, held := p.inUse[ep]
		out[i] = Status{Endpoint: ep, State: p.states[ep], InUse: held}
	}
	return out
}

// candidates lists free endpoints starting at the rotation cursor, either the
// Dead ones or all the others.
func (p *Pool) candidates(dead bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.order)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ep := p.order[(p.cursor+i)%n]
		if _, held := p.inUse[ep]; held {
			continue
		}
		if (p.states[ep] == Dead) == dead {
			out = append(out, ep)
		}
	}
	return out
}

func (p *Pool) claim(endpoint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.inUse[endpoint]; held {
		return false
	}
	p.inUse[endpoint] = struct{}{}
	p.states[endpoint] = Active
	for i, ep := range p.order {
		if ep == endpoint {
			p.cursor = (i + 1) % len(p.order)
			break
		}
	}
	return true
}

// probe runs the health check and records the outcome. A failed probe never
// demotes an endpoint that another caller claimed in the meantime.
func (p *Pool) probe(ctx context.Context, endpoint string) bool {
	ok := p.prober != nil && p.prober.Probe(ctx, endpoint)

	p.mu.Lock()
	if ok {
		p.states[endpoint] = Active
	} else if _, held := p.inUse[endpoint]; !held {
		p.states[endpoint] = Dead
	}
	p.mu.Unlock()

	ev := events.Event{Kind: events.ProxyProbed, Proxy: endpoint, OK: ok}
	if !ok {
		ev.Err = "probe failed"
	}
	p.sink.Emit(ev)
	return ok
}
