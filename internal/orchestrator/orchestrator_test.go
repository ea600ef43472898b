package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/dicoderin/bitbot/internal/api"
	"github.com/dicoderin/bitbot/internal/api/apitest"
	"github.com/dicoderin/bitbot/internal/events"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/session"
	"github.com/dicoderin/bitbot/internal/wallet"
	"github.com/dicoderin/bitbot/internal/worker"
)

type stubRunner struct {
	calls   []string
	onRun   func()
	results []worker.Result
}

func (s *stubRunner) Run(_ context.Context, id wallet.Identity) worker.Result {
	s.calls = append(s.calls, id.Address)
	if s.onRun != nil {
		s.onRun()
	}
	if len(s.results) > 0 {
		res := s.results[0]
		s.results = s.results[1:]
		res.Address = id.Address
		return res
	}
	return worker.Result{Address: id.Address, Succeeded: true, Exchanges: 2, Reason: worker.ReasonCompleted}
}

func newKey() string { return solana.NewWallet().PrivateKey.String() }

func TestRunTwoIdentitiesAgainstFake(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()

	client := api.NewClient(srv.Endpoints(), api.WithAPIKey(apitest.APIKey), api.WithTimeouts(2*time.Second, 2*time.Second))
	sessions := session.NewManager(client, session.Config{
		Challenge:  session.Challenge{Domain: "bitquant.io", URI: "https://bitquant.io", Version: "1", ChainID: "solana:test"},
		UserAgents: []string{"test-agent"},
	})
	cfg := worker.DefaultConfig(3)
	cfg.Cooldown, cfg.PacingMin, cfg.PacingMax = 0, 0, 0

	ledger := events.NewLedger(0)
	w := worker.New(sessions, client, retry.New(retry.WithDelay(0)), []string{"gm", "price?"}, cfg, worker.WithSink(ledger))
	o := New(w, WithSink(ledger), WithPause(0))

	sum := o.Run(context.Background(), []string{newKey(), newKey()})
	if sum.SuccessCount != 2 || sum.FailCount != 0 || sum.TotalExchanges != 6 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(sum.Accounts) != 2 || sum.Accounts[0].Address == sum.Accounts[1].Address {
		t.Fatalf("unexpected accounts: %+v", sum.Accounts)
	}

	finished := ledger.Filter(events.RunFinished)
	if len(finished) != 1 || finished[0].Success != 2 || finished[0].Failed != 0 || finished[0].Count != 6 || !finished[0].OK {
		t.Fatalf("unexpected run.finished: %+v", finished)
	}
	if started := ledger.Filter(events.RunStarted); len(started) != 1 || started[0].Count != 2 {
		t.Fatalf("unexpected run.started: %+v", started)
	}
}

func TestInvalidKeyCountsAsFailure(t *testing.T) {
	runner := &stubRunner{}
	ledger := events.NewLedger(0)
	o := New(runner, WithSink(ledger), WithPause(0))

	sum := o.Run(context.Background(), []string{"not-a-key", newKey()})
	if sum.SuccessCount != 1 || sum.FailCount != 1 || sum.TotalExchanges != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected only the valid key to run, got %d", len(runner.calls))
	}
	bad := sum.Accounts[0]
	if bad.Reason != worker.ReasonInvalidKey || !errors.Is(bad.Err, wallet.ErrInvalidKey) {
		t.Fatalf("unexpected invalid-key result: %+v", bad)
	}
	finished := ledger.Filter(events.AccountFinished)
	if len(finished) != 1 || finished[0].Index != 1 || finished[0].OK {
		t.Fatalf("unexpected account.finished: %+v", finished)
	}
}

func TestCancellationReturnsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &stubRunner{onRun: cancel}
	o := New(runner, WithPause(time.Hour))

	done := make(chan Summary, 1)
	go func() { done <- o.Run(ctx, []string{newKey(), newKey(), newKey()}) }()
	select {
	case sum := <-done:
		if len(sum.Accounts) != 1 || sum.SuccessCount != 1 {
			t.Fatalf("expected one finished account, got %+v", sum)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestPauseBetweenAccounts(t *testing.T) {
	runner := &stubRunner{}
	o := New(runner, WithPause(30*time.Millisecond))

	start := time.Now()
	o.Run(context.Background(), []string{newKey(), newKey(), newKey()})
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("expected two pauses, run took %s", elapsed)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runner.calls))
	}
}

func TestEmptyKeyList(t *testing.T) {
	sum := New(&stubRunner{}).Run(context.Background(), nil)
	if sum.SuccessCount != 0 || sum.FailCount != 0 || len(sum.Accounts) != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestTotalIncludesAbandonedAccounts(t *testing.T) {
	runner := &stubRunner{results: []worker.Result{
		{Exchanges: 2, Reason: worker.ReasonForbidden, Err: worker.ErrForbidden},
		{Succeeded: true, Exchanges: 3, Reason: worker.ReasonCompleted},
	}}
	ledger := events.NewLedger(0)
	sum := New(runner, WithSink(ledger), WithPause(0)).Run(context.Background(), []string{newKey(), newKey()})

	if sum.SuccessCount != 1 || sum.FailCount != 1 || sum.TotalExchanges != 5 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	finished := ledger.Filter(events.RunFinished)
	if len(finished) != 1 || finished[0].Count != 5 || finished[0].OK {
		t.Fatalf("unexpected run.finished: %+v", finished)
	}
}
