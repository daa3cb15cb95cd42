package exchange

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func TestNewAuthEmptyCredentials(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(config.CredentialsConfig{Chain: "bsc"})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if a.Ready() {
		t.Error("auth without credentials must not be ready")
	}
	if len(a.AuthHeaders()) != 0 {
		t.Error("no bearer header expected without a token")
	}
	if _, err := a.SignBody("{}"); err == nil {
		t.Error("SignBody must fail without a signing key")
	}
}

func TestSetCredentialsSecretEncodings(t *testing.T) {
	t.Parallel()
	_, priv := testKeyPair(t)
	seed := priv.Seed()

	tests := []struct {
		name   string
		secret string
	}{
		{"base58 seed", base58.Encode(seed)},
		{"hex seed", hex.EncodeToString(seed)},
		{"0x hex seed", "0x" + hex.EncodeToString(seed)},
		{"base58 full key", base58.Encode(priv)},
		{"hex full key", hex.EncodeToString(priv)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &Auth{}
			if err := a.SetCredentials("tok", tt.secret, "", ""); err != nil {
				t.Fatalf("SetCredentials: %v", err)
			}
			if !a.Ready() {
				t.Error("auth should be ready")
			}
		})
	}
}

func TestSetCredentialsRejectsBadInput(t *testing.T) {
	t.Parallel()
	_, priv := testKeyPair(t)
	goodSecret := base58.Encode(priv.Seed())

	tests := []struct {
		name   string
		token  string
		secret string
		wallet string
	}{
		{"empty token", "", goodSecret, ""},
		{"empty secret", "tok", "", ""},
		{"garbage secret", "tok", "!!not-a-key!!", ""},
		{"short secret", "tok", hex.EncodeToString([]byte{1, 2, 3}), ""},
		{"bad wallet", "tok", goodSecret, "not-an-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &Auth{}
			if err := a.SetCredentials(tt.token, tt.secret, tt.wallet, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSetCredentialsWallet(t *testing.T) {
	t.Parallel()
	_, priv := testKeyPair(t)

	a := &Auth{}
	err := a.SetCredentials("tok", base58.Encode(priv.Seed()), "0x52908400098527886E0F7030069857D2E4169EE7", "bsc")
	if err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	if a.Wallet() == "" {
		t.Error("wallet not stored")
	}
}

func TestSignBodyVerifies(t *testing.T) {
	t.Parallel()
	pub, priv := testKeyPair(t)

	a := &Auth{}
	if err := a.SetCredentials("tok", base58.Encode(priv.Seed()), "", ""); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}

	body := `{"symbol":"BTC-USD","side":"buy"}`
	headers, err := a.SignBody(body)
	if err != nil {
		t.Fatalf("SignBody: %v", err)
	}

	if headers["x-request-sign-version"] != "v1" {
		t.Errorf("sign version = %q, want v1", headers["x-request-sign-version"])
	}
	if headers["x-request-id"] == "" {
		t.Error("missing request id")
	}

	tsMs, err := strconv.ParseInt(headers["x-request-timestamp"], 10, 64)
	if err != nil {
		t.Fatalf("timestamp not numeric: %v", err)
	}
	if d := time.Since(time.UnixMilli(tsMs)); d < 0 || d > time.Minute {
		t.Errorf("timestamp skew %v", d)
	}

	sig, err := base64.StdEncoding.DecodeString(headers["x-request-signature"])
	if err != nil {
		t.Fatalf("signature not base64: %v", err)
	}

	msg := strings.Join([]string{
		headers["x-request-sign-version"],
		headers["x-request-id"],
		headers["x-request-timestamp"],
		body,
	}, ",")
	if !ed25519.Verify(pub, []byte(msg), sig) {
		t.Error("signature does not verify against the documented message layout")
	}
}

func TestSignBodyUniqueRequestIDs(t *testing.T) {
	t.Parallel()
	_, priv := testKeyPair(t)

	a := &Auth{}
	if err := a.SetCredentials("tok", base58.Encode(priv.Seed()), "", ""); err != nil {
		t.Fatal(err)
	}

	h1, _ := a.SignBody("{}")
	h2, _ := a.SignBody("{}")
	if h1["x-request-id"] == h2["x-request-id"] {
		t.Error("request ids must be unique per request")
	}
}

func TestFullHeaders(t *testing.T) {
	t.Parallel()
	_, priv := testKeyPair(t)

	a := &Auth{}
	if err := a.SetCredentials("tok-123", base58.Encode(priv.Seed()), "", ""); err != nil {
		t.Fatal(err)
	}

	headers, err := a.FullHeaders("{}")
	if err != nil {
		t.Fatalf("FullHeaders: %v", err)
	}
	if headers["Authorization"] != "Bearer tok-123" {
		t.Errorf("Authorization = %q", headers["Authorization"])
	}
	if headers["x-request-signature"] == "" {
		t.Error("missing signature header")
	}
}
