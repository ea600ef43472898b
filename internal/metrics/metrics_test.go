package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dicoderin/bitbot/internal/events"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	AccountsTotal.WithLabelValues("ok").Add(0)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "bitbot_accounts_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("bitbot_accounts_total metric not found")
	}
}

func TestSinkCountsEvents(t *testing.T) {
	sink := NewSink()

	sentBefore := testutil.ToFloat64(ExchangesTotal.WithLabelValues("ok"))
	forbiddenBefore := testutil.ToFloat64(ExchangesTotal.WithLabelValues("forbidden"))
	attemptsBefore := testutil.ToFloat64(AttemptsTotal.WithLabelValues("exchange", "failed"))
	accountsBefore := testutil.ToFloat64(AccountsTotal.WithLabelValues("failed"))
	probesBefore := testutil.ToFloat64(ProxyProbesTotal.WithLabelValues("ok"))
	failoversBefore := testutil.ToFloat64(ProxyFailoversTotal)

	sink.Emit(events.Event{Kind: events.ExchangeSent})
	sink.Emit(events.Event{Kind: events.ExchangeSent})
	sink.Emit(events.Event{Kind: events.Forbidden})
	sink.Emit(events.Event{Kind: events.AttemptFailed, Label: "exchange", Elapsed: 20 * time.Millisecond})
	sink.Emit(events.Event{Kind: events.AccountFinished, OK: false})
	sink.Emit(events.Event{Kind: events.ProxyProbed, OK: true})
	sink.Emit(events.Event{Kind: events.ProxyFailover})
	sink.Emit(events.Event{Kind: events.RunStarted})

	if got := testutil.ToFloat64(ExchangesTotal.WithLabelValues("ok")) - sentBefore; got != 2 {
		t.Fatalf("expected 2 sent exchanges, got %v", got)
	}
	if got := testutil.ToFloat64(ExchangesTotal.WithLabelValues("forbidden")) - forbiddenBefore; got != 1 {
		t.Fatalf("expected 1 forbidden exchange, got %v", got)
	}
	if got := testutil.ToFloat64(AttemptsTotal.WithLabelValues("exchange", "failed")) - attemptsBefore; got != 1 {
		t.Fatalf("expected 1 failed attempt, got %v", got)
	}
	if got := testutil.ToFloat64(AccountsTotal.WithLabelValues("failed")) - accountsBefore; got != 1 {
		t.Fatalf("expected 1 failed account, got %v", got)
	}
	if got := testutil.ToFloat64(ProxyProbesTotal.WithLabelValues("ok")) - probesBefore; got != 1 {
		t.Fatalf("expected 1 probe, got %v", got)
	}
	if got := testutil.ToFloat64(ProxyFailoversTotal) - failoversBefore; got != 1 {
		t.Fatalf("expected 1 failover, got %v", got)
	}
}
