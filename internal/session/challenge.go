package session

import (
	"fmt"
	"strings"
	"time"
)

// Challenge describes the sign-in message domain. Every field except the
// address, nonce and issue time comes from configuration.
type Challenge struct {
	Domain  string
	URI     string
	Version string
	ChainID string
}

// Message renders the sign-in-with-Solana text for address at time now. The
// nonce is the wall-clock time in milliseconds.
func (c Challenge) Message(address string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your blockchain account:\n%s\n\n", c.Domain, address)
	fmt.Fprintf(&b, "URI: %s\n", c.URI)
	fmt.Fprintf(&b, "Version: %s\n", c.Version)
	fmt.Fprintf(&b, "Chain ID: %s\n", c.ChainID)
	fmt.Fprintf(&b, "Nonce: %d\n", now.UnixMilli())
	fmt.Fprintf(&b, "Issued At: %s", now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return b.String()
}
