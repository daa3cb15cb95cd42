// Package exchange provides the StandX REST client, the depth/user
// WebSocket feed, and request signing.
package exchange

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
)

// Signature scheme constants. Every mutating request carries a detached
// Ed25519 signature over "v1,<request-id>,<timestamp-ms>,<body>".
const signVersion = "v1"

// Auth holds the StandX session credentials: the JWT bearer token for
// identification and the Ed25519 key that signs every mutating request body.
// Credentials may be replaced at runtime through the dashboard auth endpoint,
// so access is mutex-protected.
type Auth struct {
	mu      sync.RWMutex
	token   string
	signKey ed25519.PrivateKey
	wallet  string
	chain   string
}

// NewAuth creates an Auth from config. Credentials are optional at startup;
// the bot can come up unauthenticated and receive credentials later via
// SetCredentials.
func NewAuth(cfg config.CredentialsConfig) (*Auth, error) {
	a := &Auth{chain: cfg.Chain}
	if cfg.Token == "" && cfg.Ed25519Secret == "" {
		return a, nil
	}
	if err := a.SetCredentials(cfg.Token, cfg.Ed25519Secret, cfg.WalletAddress, cfg.Chain); err != nil {
		return nil, err
	}
	return a, nil
}

// SetCredentials installs a new session: bearer token, signing secret,
// wallet address and chain label. The secret may be base58 or hex, and
// either a 32-byte seed or a full 64-byte private key. An empty chain keeps
// the current one.
func (a *Auth) SetCredentials(token, secret, wallet, chain string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	key, err := parseSigningKey(secret)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	if wallet != "" && !common.IsHexAddress(wallet) {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.signKey = key
	a.wallet = wallet
	if chain != "" {
		a.chain = chain
	}
	return nil
}

// Ready reports whether both the token and the signing key are installed.
func (a *Auth) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != "" && a.signKey != nil
}

// Token returns the current bearer token ("" if not authenticated).
func (a *Auth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// Wallet returns the configured wallet address.
func (a *Auth) Wallet() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.wallet
}

// Chain returns the configured chain name (e.g. "bsc").
func (a *Auth) Chain() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chain
}

// SignBody produces the signature headers for one mutating request body.
// The signed message is "v1,<request-id>,<timestamp-ms>,<body>"; the
// signature is base64 standard encoding of the detached Ed25519 signature.
func (a *Auth) SignBody(body string) (map[string]string, error) {
	a.mu.RLock()
	key := a.signKey
	a.mu.RUnlock()

	if key == nil {
		return nil, fmt.Errorf("no signing key installed")
	}

	requestID := uuid.NewString()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := strings.Join([]string{signVersion, requestID, ts, body}, ",")
	sig := ed25519.Sign(key, []byte(msg))

	return map[string]string{
		"x-request-sign-version": signVersion,
		"x-request-id":           requestID,
		"x-request-timestamp":    ts,
		"x-request-signature":    base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// AuthHeaders returns the bearer header for read-only endpoints.
func (a *Auth) AuthHeaders() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.token == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + a.token}
}

// FullHeaders returns bearer plus signature headers for a mutating request.
func (a *Auth) FullHeaders(body string) (map[string]string, error) {
	sig, err := a.SignBody(body)
	if err != nil {
		return nil, err
	}
	headers := a.AuthHeaders()
	for k, v := range sig {
		headers[k] = v
	}
	return headers, nil
}

// parseSigningKey decodes a base58- or hex-encoded Ed25519 secret. Accepts
// a 32-byte seed or a 64-byte private key.
func parseSigningKey(secret string) (ed25519.PrivateKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty secret")
	}

	raw, err := base58.Decode(secret)
	if err != nil || !validKeyLen(raw) {
		raw, err = hex.DecodeString(strings.TrimPrefix(secret, "0x"))
		if err != nil {
			return nil, fmt.Errorf("secret is neither base58 nor hex")
		}
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("secret must decode to %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func validKeyLen(raw []byte) bool {
	return len(raw) == ed25519.SeedSize || len(raw) == ed25519.PrivateKeySize
}
