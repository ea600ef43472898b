// Package api is the HTTP client for the remote verification, token, exchange and stats endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dicoderin/bitbot/internal/proxy"
)

const (
	maxResponseBytes       = 1 << 20
	defaultRequestTimeout  = 30 * time.Second
	defaultExchangeTimeout = 60 * time.Second
)

// Endpoints are the absolute URLs of the five remote calls.
type Endpoints struct {
	Verify   string
	SignIn   string
	Refresh  string
	Exchange string
	Stats    string
}

// TransportFunc builds the round tripper used for a given proxy ("" means direct).
type TransportFunc func(proxyURL string) (http.RoundTripper, error)

// Client talks to the remote service. One http.Client is kept per proxy.
type Client struct {
	endpoints       Endpoints
	apiKey          string
	tokenHeaders    map[string]string
	requestTimeout  time.Duration
	exchangeTimeout time.Duration
	transport       TransportFunc

	mu      sync.Mutex
	clients map[string]*http.Client
}

// Option configures Client construction parameters.
type Option func(*Client)

// WithAPIKey sets the key appended to the sign-in and refresh calls.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithTokenHeaders adds static headers to the sign-in and refresh calls.
func WithTokenHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.tokenHeaders[k] = v
		}
	}
}

// WithTimeouts overrides the per-request timeouts; non-positive values are ignored.
func WithTimeouts(request, exchange time.Duration) Option {
	return func(c *Client) {
		if request > 0 {
			c.requestTimeout = request
		}
		if exchange > 0 {
			c.exchangeTimeout = exchange
		}
	}
}

// WithTransport replaces the per-proxy transport builder.
func WithTransport(fn TransportFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.transport = fn
		}
	}
}

// NewClient constructs a client for the given endpoints.
func NewClient(endpoints Endpoints, opts ...Option) *Client {
	c := &Client{
		endpoints:       endpoints,
		tokenHeaders:    make(map[string]string),
		requestTimeout:  defaultRequestTimeout,
		exchangeTimeout: defaultExchangeTimeout,
		transport:       defaultTransport,
		clients:         make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultTransport(proxyURL string) (http.RoundTripper, error) {
	return proxy.Transport(proxyURL)
}

// Verify submits the signed challenge and returns the custom sign-in token.
func (c *Client) Verify(ctx context.Context, r Route, address, message, signature string) (string, error) {
	payload := map[string]string{"address": address, "message": message, "signature": signature}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, r, "verify", c.endpoints.Verify, payload, nil, c.requestTimeout, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("verify: response missing token")
	}
	return out.Token, nil
}

// SignIn exchanges a custom token for an ID/refresh token pair.
func (c *Client) SignIn(ctx context.Context, r Route, token string) (Tokens, error) {
	payload := map[string]any{"token": token, "returnSecureToken": true}
	var out struct {
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
	}
	endpoint, err := c.keyed(c.endpoints.SignIn)
	if err != nil {
		return Tokens{}, err
	}
	if err := c.postJSON(ctx, r, "sign in", endpoint, payload, c.tokenHeaders, c.requestTimeout, &out); err != nil {
		return Tokens{}, err
	}
	if out.IDToken == "" || out.RefreshToken == "" {
		return Tokens{}, errors.New("sign in: response missing tokens")
	}
	return Tokens{AccessToken: out.IDToken, RefreshToken: out.RefreshToken}, nil
}

// Refresh runs the refresh-token grant.
func (c *Client) Refresh(ctx context.Context, r Route, refreshToken string) (Tokens, error) {
	endpoint, err := c.keyed(c.endpoints.Refresh)
	if err != nil {
		return Tokens{}, err
	}
	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", refreshToken)

	header := cloneHeader(r.Header)
	for k, v := range c.tokenHeaders {
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.do(ctx, r.Proxy, "refresh", http.MethodPost, endpoint, strings.NewReader(values.Encode()), header, c.requestTimeout, &out); err != nil {
		return Tokens{}, err
	}
	if out.AccessToken == "" {
		return Tokens{}, errors.New("refresh: response missing access token")
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return Tokens{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

// Send posts one exchange and returns the assistant reply.
func (c *Client) Send(ctx context.Context, r Route, accessToken string, req ExchangeRequest) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	auth := map[string]string{"Authorization": "Bearer " + accessToken}
	if err := c.postJSON(ctx, r, "exchange", c.endpoints.Exchange, req, auth, c.exchangeTimeout, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Stats fetches the quota counters for address.
func (c *Client) Stats(ctx context.Context, r Route, accessToken, address string) (Stats, error) {
	u, err := url.Parse(c.endpoints.Stats)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: parse url: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	header := cloneHeader(r.Header)
	header.Set("Authorization", "Bearer "+accessToken)

	var out Stats
	if err := c.do(ctx, r.Proxy, "stats", http.MethodGet, u.String(), nil, header, c.requestTimeout, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (c *Client) keyed(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) postJSON(ctx context.Context, r Route, op, endpoint string, payload any, extra map[string]string, timeout time.Duration, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	header := cloneHeader(r.Header)
	header.Set("Content-Type", "application/json")
	for k, v := range extra {
		header.Set(k, v)
	}
	return c.do(ctx, r.Proxy, op, http.MethodPost, endpoint, bytes.NewReader(body), header, timeout, out)
}

func (c *Client) do(ctx context.Context, proxyURL, op, method, endpoint string, body io.Reader, header http.Header, timeout time.Duration, out any) error {
	hc, err := c.httpClient(proxyURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header = header

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(limited, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %v", op, err)
	}
	return nil
}

func (c *Client) httpClient(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[proxyURL]; ok {
		return hc, nil
	}
	rt, err := c.transport(proxyURL)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Transport: rt}
	c.clients[proxyURL] = hc
	return hc, nil
}

// Forget drops the cached client for proxyURL and closes its idle connections.
// The next call through that proxy builds a fresh transport.
func (c *Client) Forget(proxyURL string) {
	c.mu.Lock()
	hc, ok := c.clients[proxyURL]
	delete(c.clients, proxyURL)
	c.mu.Unlock()
	if ok {
		hc.CloseIdleConnections()
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
