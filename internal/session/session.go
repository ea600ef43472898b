// Package session performs the signed-challenge handshake and keeps tokens fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/dicoderin/bitbot/internal/api"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/wallet"
)

// ErrAuth marks a handshake that failed after exhausting its retries.
var ErrAuth = errors.New("authentication failed")

const (
	authAttempts    = 5
	refreshAttempts = 3
)

// State is one live session. A re-authentication replaces it wholesale.
type State struct {
	AccessToken  string
	RefreshToken string
	UserAgent    string
	Header       http.Header
	History      []api.Turn
}

// Route pairs the session headers with the proxy in use.
func (s *State) Route(proxy string) api.Route {
	return api.Route{Proxy: proxy, Header: s.Header}
}

// Client is the subset of the remote API the handshake needs.
type Client interface {
	Verify(ctx context.Context, r api.Route, address, message, signature string) (string, error)
	SignIn(ctx context.Context, r api.Route, token string) (api.Tokens, error)
	Refresh(ctx context.Context, r api.Route, refreshToken string) (api.Tokens, error)
}

// Config holds the static inputs of the handshake.
type Config struct {
	Challenge  Challenge
	UserAgents []string
	Origin     string
	Referer    string
}

// Manager authenticates identities and refreshes their tokens.
type Manager struct {
	client Client
	cfg    Config
	now    func() time.Time
	pick   func(n int) int
}

// NewManager wires a manager around client.
func NewManager(client Client, cfg Config) *Manager {
	return &Manager{client: client, cfg: cfg, now: time.Now, pick: rand.IntN}
}

// Authenticate signs a fresh challenge and trades it for tokens. The returned
// state has an empty history and a newly chosen user agent.
func (m *Manager) Authenticate(ctx context.Context, ex *retry.Executor, id wallet.Identity, proxy string) (*State, error) {
	ua := m.userAgent()
	header := api.BaseHeaders(ua, m.cfg.Origin, m.cfg.Referer)
	route := api.Route{Proxy: proxy, Header: header}

	tokens, err := retry.Do(ctx, ex.RetryForbidden(), "authentication", authAttempts, func(ctx context.Context) (api.Tokens, error) {
		msg := m.cfg.Challenge.Message(id.Address, m.now())
		sig, err := id.Sign([]byte(msg))
		if err != nil {
			return api.Tokens{}, err
		}
		token, err := m.client.Verify(ctx, route, id.Address, msg, sig)
		if err != nil {
			return api.Tokens{}, err
		}
		return m.client.SignIn(ctx, route, token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return &State{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserAgent:    ua,
		Header:       header,
		History:      []api.Turn{},
	}, nil
}

// Refresh swaps the refresh token for a new pair, updating st in place. On
// error st is unchanged and the caller is expected to re-authenticate.
func (m *Manager) Refresh(ctx context.Context, ex *retry.Executor, st *State, proxy string) error {
	tokens, err := retry.Do(ctx, ex.RetryForbidden(), "token refresh", refreshAttempts, func(ctx context.Context) (api.Tokens, error) {
		return m.client.Refresh(ctx, st.Route(proxy), st.RefreshToken)
	})
	if err != nil {
		return err
	}
	st.AccessToken = tokens.AccessToken
	st.RefreshToken = tokens.RefreshToken
	return nil
}

func (m *Manager) userAgent() string {
	if len(m.cfg.UserAgents) == 0 {
		return ""
	}
	return m.cfg.UserAgents[m.pick(len(m.cfg.UserAgents))]
}
