package api

import "net/http"

// BaseHeaders are the browser-like headers every call of a session carries.
func BaseHeaders(userAgent, origin, referer string) http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json")
	if origin != "" {
		h.Set("Origin", origin)
	}
	if referer != "" {
		h.Set("Referer", referer)
	}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return h
}
