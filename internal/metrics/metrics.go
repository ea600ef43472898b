// Package metrics exposes run counters over the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dicoderin/bitbot/internal/events"
)

var (
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bitbot_attempts_total", Help: "Retried operation attempts"},
		[]string{"label", "outcome"},
	)
	ExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bitbot_exchanges_total", Help: "Exchanges by outcome"},
		[]string{"outcome"},
	)
	AccountsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bitbot_accounts_total", Help: "Finished accounts"},
		[]string{"outcome"},
	)
	ProxyProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bitbot_proxy_probes_total", Help: "Proxy health probes"},
		[]string{"outcome"},
	)
	ProxyFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bitbot_proxy_failovers_total", Help: "Proxies dropped at runtime"},
	)
	SessionResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bitbot_session_resets_total", Help: "Re-authentications after the first"},
	)
	AttemptSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitbot_attempt_seconds",
			Help:    "Latency of a single attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"label"},
	)
)

func init() {
	prometheus.MustRegister(AttemptsTotal, ExchangesTotal, AccountsTotal, ProxyProbesTotal,
		ProxyFailoversTotal, SessionResetsTotal, AttemptSeconds)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Sink translates engine events into counter updates.
type Sink struct{}

// NewSink returns a sink bound to the package counters.
func NewSink() *Sink { return &Sink{} }

// Emit implements events.Sink.
func (Sink) Emit(ev events.Event) {
	switch ev.Kind {
	case events.AttemptSucceeded, events.AttemptFailed:
		AttemptsTotal.WithLabelValues(ev.Label, outcome(ev.Kind == events.AttemptSucceeded)).Inc()
		if ev.Elapsed > 0 {
			AttemptSeconds.WithLabelValues(ev.Label).Observe(ev.Elapsed.Seconds())
		}
	case events.ExchangeSent:
		ExchangesTotal.WithLabelValues("ok").Inc()
	case events.ExchangeFailed:
		ExchangesTotal.WithLabelValues("failed").Inc()
	case events.Forbidden:
		ExchangesTotal.WithLabelValues("forbidden").Inc()
	case events.AccountFinished:
		AccountsTotal.WithLabelValues(outcome(ev.OK)).Inc()
	case events.ProxyProbed:
		ProxyProbesTotal.WithLabelValues(outcome(ev.OK)).Inc()
	case events.ProxyFailover:
		ProxyFailoversTotal.Inc()
	case events.SessionReset:
		SessionResetsTotal.Inc()
	}
}

// Serve starts a background /metrics listener.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
