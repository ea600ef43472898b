// Package wallet turns base58 Solana secret keys into signing identities.
package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"
)

// ErrInvalidKey is returned for secrets that are not a base58 64-byte ed25519 key.
var ErrInvalidKey = errors.New("invalid private key")

// Identity is an immutable key pair owned by one account for the length of a run.
type Identity struct {
	Address string
	key     solana.PrivateKey
}

// ParseIdentity decodes a base58 secret key as exported by Solana wallets.
func ParseIdentity(secret string) (Identity, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(key))
	}
	return Identity{Address: key.PublicKey().String(), key: key}, nil
}

// FromPrivateKey wraps an already decoded key.
func FromPrivateKey(key solana.PrivateKey) Identity {
	return Identity{Address: key.PublicKey().String(), key: key}
}

// PublicKey returns the identity's public key.
func (id Identity) PublicKey() solana.PublicKey { return id.key.PublicKey() }

// Sign produces a detached ed25519 signature over msg, base58 encoded.
func (id Identity) Sign(msg []byte) (string, error) {
	if len(id.key) != ed25519.PrivateKeySize {
		return "", ErrInvalidKey
	}
	sig, err := id.key.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return sig.String(), nil
}
