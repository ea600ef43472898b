package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ParseURL normalises a proxy endpoint. Bare host:port (optionally with
// user:pass@) is treated as an HTTP proxy.
func ParseURL(endpoint string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("empty proxy endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", endpoint)
	}
	return u, nil
}

// Transport returns a fresh transport routed through endpoint, or a direct one when it is empty.
func Transport(endpoint string) (*http.Transport, error) {
	tr := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if strings.TrimSpace(endpoint) == "" {
		return tr, nil
	}
	u, err := ParseURL(endpoint)
	if err != nil {
		return nil, err
	}
	tr.Proxy = http.ProxyURL(u)
	return tr, nil
}
