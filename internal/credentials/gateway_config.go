package credentials

import (
	"encoding/json"
	"strings"
)

// GatewayConfig is everything the outbound relay needs to reach an instance.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	InstanceName string
}

type credentialPayload struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// Accessor turns stored connection blobs into gateway configuration.
type Accessor struct {
	cipher *Cipher
}

func NewAccessor(c *Cipher) *Accessor {
	return &Accessor{cipher: c}
}

// GatewayConfig decrypts blob and fills empty fields from the connection metadata JSON.
func (a *Accessor) GatewayConfig(blob, metadata, instance string) (GatewayConfig, error) {
	if a == nil || a.cipher == nil {
		return GatewayConfig{}, &CredentialError{Reason: "encryption key not configured", Err: ErrKeyMissing}
	}
	plain, err := a.cipher.Decrypt(blob)
	if err != nil {
		return GatewayConfig{}, err
	}
	var creds credentialPayload
	if err := json.Unmarshal([]byte(plain), &creds); err != nil {
		return GatewayConfig{}, &CredentialError{Reason: "undecodable payload", Err: err}
	}

	var meta credentialPayload
	if strings.TrimSpace(metadata) != "" {
		// metadata is advisory; a broken document just yields no fallback values
		_ = json.Unmarshal([]byte(metadata), &meta)
	}
	cfg := GatewayConfig{
		BaseURL:      firstNonEmpty(creds.BaseURL, meta.BaseURL),
		APIKey:       firstNonEmpty(creds.APIKey, meta.APIKey),
		InstanceName: instance,
	}
	return cfg, nil
}

// Seal encrypts a base URL and API key into a storable blob.
func (a *Accessor) Seal(baseURL, apiKey string) (string, error) {
	if a == nil || a.cipher == nil {
		return "", ErrKeyMissing
	}
	raw, err := json.Marshal(credentialPayload{BaseURL: baseURL, APIKey: apiKey})
	if err != nil {
		return "", err
	}
	return a.cipher.Encrypt(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
