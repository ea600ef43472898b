package api

import (
	"fmt"
	"net/http"
)

// Turn is one entry of the conversation history sent back as context.
type Turn struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

// ExchangeContext is the context block of an exchange request.
type ExchangeContext struct {
	ConversationHistory []Turn `json:"conversationHistory"`
	Address             string `json:"address"`
	PoolPositions       []any  `json:"poolPositions"`
	AvailablePools      []any  `json:"availablePools"`
}

// ExchangeRequest is the body posted to the exchange endpoint.
type ExchangeRequest struct {
	Context ExchangeContext `json:"context"`
	Message Turn            `json:"message"`
}

// NewExchangeRequest snapshots history so later appends do not alias the request.
func NewExchangeRequest(address string, history []Turn, message string) ExchangeRequest {
	h := make([]Turn, len(history))
	copy(h, history)
	return ExchangeRequest{
		Context: ExchangeContext{
			ConversationHistory: h,
			Address:             address,
			PoolPositions:       []any{},
			AvailablePools:      []any{},
		},
		Message: Turn{Type: TurnUser, Message: message},
	}
}

// Stats is the remote quota view for an address.
type Stats struct {
	DailyCount int     `json:"daily_message_count"`
	DailyLimit int     `json:"daily_message_limit"`
	TotalCount int     `json:"message_count"`
	Points     float64 `json:"points"`
}

// Exhausted reports whether the daily quota has been used up.
func (s Stats) Exhausted() bool { return s.DailyCount >= s.DailyLimit }

// Tokens is an access/refresh pair. For sign-in the access token is the ID token.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Route says how to reach the service: through which proxy (empty for direct)
// and with which session headers.
type Route struct {
	Proxy  string
	Header http.Header
}

// StatusError is a non-2xx answer from the remote service.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Body)
}

// StatusCode reports the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }
