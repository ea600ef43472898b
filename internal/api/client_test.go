package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/dicoderin/bitbot/internal/api"
	"github.com/dicoderin/bitbot/internal/api/apitest"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/wallet"
)

func newClient(srv *apitest.Server) *api.Client {
	return api.NewClient(srv.Endpoints(),
		api.WithAPIKey(apitest.APIKey),
		api.WithTokenHeaders(map[string]string{"X-Client-Version": "test"}),
		api.WithTimeouts(2*time.Second, 2*time.Second),
	)
}

func TestHandshakeExchangeAndStats(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := newClient(srv)
	ctx := context.Background()

	id := wallet.FromPrivateKey(solana.NewWallet().PrivateKey)
	route := api.Route{Header: api.BaseHeaders("ua", "https://origin", "https://origin/")}

	msg := "sign me " + id.Address
	sig, err := id.Sign([]byte(msg))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	token, err := client.Verify(ctx, route, id.Address, msg, sig)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	tokens, err := client.SignIn(ctx, route, token)
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	refreshed, err := client.Refresh(ctx, route, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if refreshed.AccessToken == tokens.AccessToken {
		t.Fatalf("expected a new access token")
	}

	history := []api.Turn{{Type: api.TurnUser, Message: "hi"}, {Type: api.TurnAssistant, Message: "hello"}}
	reply, err := client.Send(ctx, route, refreshed.AccessToken, api.NewExchangeRequest(id.Address, history, "price of SOL?"))
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !strings.Contains(reply, "price of SOL?") {
		t.Fatalf("unexpected reply %q", reply)
	}
	log := srv.ExchangeLog()
	if len(log) != 1 || len(log[0].Context.ConversationHistory) != 2 || log[0].Message.Type != api.TurnUser {
		t.Fatalf("unexpected exchange body %+v", log)
	}

	stats, err := client.Stats(ctx, route, refreshed.AccessToken, id.Address)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.DailyCount != 1 || stats.DailyLimit != 20 || stats.TotalCount != 101 || stats.Points != 1.5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Exhausted() {
		t.Fatalf("1/20 is not exhausted")
	}
}

func TestExchangeRequestEncodesEmptyArrays(t *testing.T) {
	req := api.NewExchangeRequest("Addr", nil, "hi")
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"context":{"conversationHistory":[],"address":"Addr","poolPositions":[],"availablePools":[]},"message":{"type":"user","message":"hi"}}`
	if string(raw) != want {
		t.Fatalf("unexpected body\n%s\nwant\n%s", raw, want)
	}
}

func TestExchangeRequestSnapshotsHistory(t *testing.T) {
	history := make([]api.Turn, 1, 4)
	history[0] = api.Turn{Type: api.TurnUser, Message: "a"}
	req := api.NewExchangeRequest("Addr", history, "b")
	history = append(history, api.Turn{Type: api.TurnAssistant, Message: "x"})
	history[0].Message = "changed"
	if len(req.Context.ConversationHistory) != 1 || req.Context.ConversationHistory[0].Message != "a" {
		t.Fatalf("request history aliased caller slice")
	}
}

func TestStatusErrorClassification(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.Lock()
	srv.ExchangeFailures["Addr"] = []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError}
	srv.Unlock()
	client := newClient(srv)

	want := []retry.Class{retry.Forbidden, retry.RateLimited, retry.Fatal}
	for i, class := range want {
		_, err := client.Send(context.Background(), api.Route{}, "id:Addr:1", api.NewExchangeRequest("Addr", nil, "x"))
		var se *api.StatusError
		if !errors.As(err, &se) {
			t.Fatalf("call %d: expected StatusError, got %v", i, err)
		}
		if got := retry.Classify(err); got != class {
			t.Fatalf("call %d: expected %s, got %s", i, class, got)
		}
	}
}

func TestMissingAPIKeyRejected(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := api.NewClient(srv.Endpoints())
	_, err := client.SignIn(context.Background(), api.Route{}, "custom:x")
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without api key, got %v", err)
	}
}

func TestTransportErrorsAreTransient(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	endpoints := api.Endpoints{Stats: dead.URL + "/api/activity/stats"}
	dead.Close()

	client := api.NewClient(endpoints, api.WithTimeouts(time.Second, time.Second))
	_, err := client.Stats(context.Background(), api.Route{}, "tok", "Addr")
	if err == nil {
		t.Fatalf("expected error against closed server")
	}
	if got := retry.Classify(err); got != retry.Transient {
		t.Fatalf("expected transient, got %s (%v)", got, err)
	}
}

func TestRoutesThroughTransportPerProxy(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()

	var seen []string
	client := api.NewClient(srv.Endpoints(),
		api.WithAPIKey(apitest.APIKey),
		api.WithTransport(func(proxyURL string) (http.RoundTripper, error) {
			seen = append(seen, proxyURL)
			return http.DefaultTransport, nil
		}),
	)
	ctx := context.Background()
	for _, p := range []string{"", "http://p:1", "", "http://p:1"} {
		_, _ = client.Stats(ctx, api.Route{Proxy: p}, "id:Addr:1", "Addr")
	}
	if len(seen) != 2 || seen[0] != "" || seen[1] != "http://p:1" {
		t.Fatalf("expected one transport per proxy, got %v", seen)
	}
}

type countingTransport struct {
	closed int
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return http.DefaultTransport.RoundTrip(req)
}

func (c *countingTransport) CloseIdleConnections() { c.closed++ }

func TestForgetEvictsProxyClient(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()

	var built []*countingTransport
	client := api.NewClient(srv.Endpoints(),
		api.WithAPIKey(apitest.APIKey),
		api.WithTransport(func(string) (http.RoundTripper, error) {
			tr := &countingTransport{}
			built = append(built, tr)
			return tr, nil
		}),
	)
	ctx := context.Background()
	route := api.Route{Proxy: "http://p:1"}

	_, _ = client.Stats(ctx, route, "id:Addr:1", "Addr")
	client.Forget("http://p:1")
	client.Forget("http://unknown:1")
	_, _ = client.Stats(ctx, route, "id:Addr:1", "Addr")

	if len(built) != 2 {
		t.Fatalf("expected the transport to be rebuilt after Forget, got %d builds", len(built))
	}
	if built[0].closed != 1 || built[1].closed != 0 {
		t.Fatalf("expected only the forgotten transport closed, got %d/%d", built[0].closed, built[1].closed)
	}
}

func TestDecodeErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	client := api.NewClient(api.Endpoints{Exchange: srv.URL})
	_, err := client.Send(context.Background(), api.Route{}, "tok", api.NewExchangeRequest("A", nil, "x"))
	if err == nil {
		t.Fatalf("expected decode error on empty body")
	}
	if got := retry.Classify(err); got != retry.Fatal {
		t.Fatalf("expected fatal for decode failure, got %s", got)
	}
}
