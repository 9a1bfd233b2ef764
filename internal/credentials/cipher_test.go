package credentials

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestAccessor(t *testing.T) *Accessor {
	t.Helper()
	c, err := NewCipher(testHexKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return NewAccessor(c)
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(testHexKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	blob, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob not base64: %v", err)
	}
	if len(raw) != 12+len("secret")+16 {
		t.Fatalf("unexpected blob length %d", len(raw))
	}
	plain, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "secret" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestKeyFormats(t *testing.T) {
	keys := []string{
		testHexKey,
		strings.Repeat("k", 32),
		base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32))),
	}
	for _, k := range keys {
		if _, err := NewCipher(k); err != nil {
			t.Fatalf("key %q rejected: %v", k, err)
		}
	}
	if _, err := NewCipher("short"); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
	if _, err := NewCipher(""); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	a := newTestAccessor(t)
	good, err := a.Seal("http://gw", "key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(good)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	notJSON, err := a.cipher.Encrypt("not json")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	cases := map[string]string{
		"malformed": "%%%not-base64",
		"short":     base64.StdEncoding.EncodeToString([]byte("abc")),
		"tampered":  tampered,
		"not json":  notJSON,
	}
	for name, blob := range cases {
		_, err := a.GatewayConfig(blob, "", "inst")
		var credErr *CredentialError
		if !errors.As(err, &credErr) {
			t.Fatalf("%s: expected CredentialError, got %v", name, err)
		}
	}
}

func TestGatewayConfigMetadataFallback(t *testing.T) {
	a := newTestAccessor(t)
	blob, err := a.Seal("", "from-blob")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	cfg, err := a.GatewayConfig(blob, `{"baseUrl":"http://meta","apiKey":"from-meta"}`, "inst-1")
	if err != nil {
		t.Fatalf("gateway config: %v", err)
	}
	if cfg.BaseURL != "http://meta" {
		t.Fatalf("expected base url from metadata, got %q", cfg.BaseURL)
	}
	if cfg.APIKey != "from-blob" {
		t.Fatalf("expected api key from blob, got %q", cfg.APIKey)
	}
	if cfg.InstanceName != "inst-1" {
		t.Fatalf("unexpected instance %q", cfg.InstanceName)
	}
}

func TestNilAccessor(t *testing.T) {
	var a *Accessor
	_, err := a.GatewayConfig("x", "", "i")
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
}
