package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/message-gateway/internal/domain"
)

// DecodeRouteConfig decrypts and parses a route's configuration blob. An empty blob
// yields an empty config. Blobs written before the credentials/webhook split are
// read as a flat credentials object.
func DecodeRouteConfig(blob, secret string) (domain.RouteConfig, error) {
	cfg := domain.RouteConfig{Credentials: map[string]any{}}
	if strings.TrimSpace(blob) == "" {
		return cfg, nil
	}
	plain, err := Decrypt(blob, secret)
	if err != nil {
		return cfg, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(plain), &probe); err != nil {
		return cfg, fmt.Errorf("parse route config: %w", err)
	}
	_, hasCreds := probe["credentials"]
	_, hasWebhook := probe["webhook"]
	if !hasCreds && !hasWebhook {
		flat, err := decodeObject([]byte(plain))
		if err != nil {
			return cfg, fmt.Errorf("parse legacy credentials: %w", err)
		}
		cfg.Credentials = flat
		return cfg, nil
	}

	if hasCreds {
		creds, err := decodeObject(probe["credentials"])
		if err != nil {
			return cfg, fmt.Errorf("parse credentials: %w", err)
		}
		if creds != nil {
			cfg.Credentials = creds
		}
	}
	if hasWebhook && !bytes.Equal(bytes.TrimSpace(probe["webhook"]), []byte("null")) {
		if err := json.Unmarshal(probe["webhook"], &cfg.Webhook); err != nil {
			return cfg, fmt.Errorf("parse webhook config: %w", err)
		}
	}
	return cfg, nil
}

// EncodeRouteConfig serializes and encrypts cfg for storage.
func EncodeRouteConfig(cfg domain.RouteConfig, secret string) (string, error) {
	if cfg.Credentials == nil {
		cfg.Credentials = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal route config: %w", err)
	}
	return Encrypt(string(raw), secret)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
