package proxy

import (
	"context"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultProbeURL is a reference target known to answer quickly.
	DefaultProbeURL     = "http://www.google.com"
	defaultProbeTimeout = 5 * time.Second
)

// HTTPProber issues a GET to a reference URL through the candidate proxy.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPProber returns a prober with defaults filled in for empty values.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if url == "" {
		url = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPProber{URL: url, Timeout: timeout}
}

// Probe reports whether a 2xx arrived within the timeout.
func (h *HTTPProber) Probe(ctx context.Context, endpoint string) bool {
	tr, err := Transport(endpoint)
	if err != nil {
		return false
	}
	defer tr.CloseIdleConnections()

	client := &http.Client{Transport: tr, Timeout: h.Timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}
