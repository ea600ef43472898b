// Package apitest provides an in-process fake of the remote service for tests.
package apitest

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	solana "github.com/gagliardetto/solana-go"

	"github.com/dicoderin/bitbot/internal/api"
)

const APIKey = "test-key"

// Server fakes verification, token, exchange and stats endpoints. Exported
// fields may be changed between requests under Lock/Unlock.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// DailyLimit is reported as daily_message_limit.
	DailyLimit int
	// Daily holds per-address daily counts; it grows with every successful exchange.
	Daily map[string]int
	// ExchangeFailures queues status codes returned by the exchange endpoint
	// per address before it starts succeeding. A zero entry lets that call through.
	ExchangeFailures map[string][]int
	// StatsFailures queues status codes for the stats endpoint per address, with
	// the same zero-entry rule.
	StatsFailures map[string][]int
	// RefreshStatus, when non-zero, makes every refresh call fail with it.
	RefreshStatus int
	// VerifyStatus, when non-zero, makes every verify call fail with it.
	VerifyStatus int

	Calls     map[string]int
	Exchanges []api.ExchangeRequest
	issued    int
}

// NewServer starts a fake with a daily limit of 20.
func NewServer() *Server {
	s := &Server{
		DailyLimit:       20,
		Daily:            map[string]int{},
		ExchangeFailures: map[string][]int{},
		StatsFailures:    map[string][]int{},
		Calls:            map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verify/solana", s.verify)
	mux.HandleFunc("/v1/accounts:signInWithCustomToken", s.signIn)
	mux.HandleFunc("/v1/token", s.refresh)
	mux.HandleFunc("/api/agent/run", s.exchange)
	mux.HandleFunc("/api/activity/stats", s.stats)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	s.Server = httptest.NewServer(mux)
	return s
}

// Endpoints returns URLs pointing at the fake.
func (s *Server) Endpoints() api.Endpoints {
	return api.Endpoints{
		Verify:   s.URL + "/api/verify/solana",
		SignIn:   s.URL + "/v1/accounts:signInWithCustomToken",
		Refresh:  s.URL + "/v1/token",
		Exchange: s.URL + "/api/agent/run",
		Stats:    s.URL + "/api/activity/stats",
	}
}

// HealthURL answers 200 and serves as a proxy probe target.
func (s *Server) HealthURL() string { return s.URL + "/healthz" }

// Lock guards the exported fields.
func (s *Server) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Server) Unlock() { s.mu.Unlock() }

// CallCount returns how many requests an endpoint name received.
func (s *Server) CallCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls[name]
}

// ExchangeLog returns a copy of the accepted exchange bodies.
func (s *Server) ExchangeLog() []api.ExchangeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ExchangeRequest(nil), s.Exchanges...)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.Calls["verify"]++
	status := s.VerifyStatus
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, "rejected", status)
		return
	}
	pub, err := solana.PublicKeyFromBase58(body.Address)
	if err != nil {
		http.Error(w, "bad address", http.StatusBadRequest)
		return
	}
	sig, err := solana.SignatureFromBase58(body.Signature)
	if err != nil || !ed25519.Verify(ed25519.PublicKey(pub[:]), []byte(body.Message), sig[:]) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}
	if !strings.Contains(body.Message, body.Address) {
		http.Error(w, "address mismatch", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": "custom:" + body.Address})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != APIKey {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	var body struct {
		Token             string `json:"token"`
		ReturnSecureToken bool   `json:"returnSecureToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.ReturnSecureToken {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	address := strings.TrimPrefix(body.Token, "custom:")
	s.mu.Lock()
	s.Calls["signin"]++
	s.issued++
	n := s.issued
	s.mu.Unlock()
	writeJSON(w, map[string]string{
		"idToken":      fmt.Sprintf("id:%s:%d", address, n),
		"refreshToken": fmt.Sprintf("rt:%s:%d", address, n),
	})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != APIKey {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		http.Error(w, "bad grant", http.StatusBadRequest)
		return
	}
	rt := r.PostForm.Get("refresh_token")
	s.mu.Lock()
	s.Calls["refresh"]++
	status := s.RefreshStatus
	s.issued++
	n := s.issued
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, "refresh rejected", status)
		return
	}
	address := strings.Split(strings.TrimPrefix(rt, "rt:"), ":")[0]
	writeJSON(w, map[string]string{
		"access_token":  fmt.Sprintf("id:%s:%d", address, n),
		"refresh_token": fmt.Sprintf("rt:%s:%d", address, n),
	})
}

func (s *Server) exchange(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer id:") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body api.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	address := body.Context.Address

	s.mu.Lock()
	s.Calls["exchange"]++
	if status := pop(s.ExchangeFailures, address); status != 0 {
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.Daily[address]++
	s.Exchanges = append(s.Exchanges, body)
	n := s.Daily[address]
	s.mu.Unlock()

	writeJSON(w, map[string]string{"message": fmt.Sprintf("reply %d to %s", n, body.Message.Message)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer id:") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	address := r.URL.Query().Get("address")
	s.mu.Lock()
	s.Calls["stats"]++
	if status := pop(s.StatsFailures, address); status != 0 {
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	daily := s.Daily[address]
	limit := s.DailyLimit
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"daily_message_count": daily,
		"daily_message_limit": limit,
		"message_count":       daily + 100,
		"points":              float64(daily) * 1.5,
	})
}

func pop(queues map[string][]int, address string) int {
	queue := queues[address]
	if len(queue) == 0 {
		return 0
	}
	queues[address] = queue[1:]
	return queue[0]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
