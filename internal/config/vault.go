package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// LoadSecrets resolves the service secrets. When VAULT_ADDR is set, secrets
// come from the KV2 path (default secret/data/arc/sanctions-watch); otherwise
// each value falls back to its environment variable so local development and
// CI work without a Vault server.
func LoadSecrets() (Secrets, error) {
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		return Secrets{
			PGURL:           os.Getenv("PG_URL"),
			NATSURL:         os.Getenv("NATS_URL"),
			RedisURL:        os.Getenv("REDIS_URL"),
			EmailAPIKey:     os.Getenv("EMAIL_API_KEY"),
			WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		}, nil
	}

	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		token = "root"
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "secret/data/arc/sanctions-watch"
	}

	mgr, err := NewSecretManager(vaultAddr, token)
	if err != nil {
		return Secrets{}, err
	}
	data, err := mgr.GetKV2(path)
	if err != nil {
		return Secrets{}, err
	}

	str := func(key string) string {
		if v, ok := data[key].(string); ok {
			return v
		}
		return ""
	}
	return Secrets{
		PGURL:           str("PG_URL"),
		NATSURL:         str("NATS_URL"),
		RedisURL:        str("REDIS_URL"),
		EmailAPIKey:     str("EMAIL_API_KEY"),
		WebhookSecret:   str("WEBHOOK_SECRET"),
		SlackWebhookURL: str("SLACK_WEBHOOK_URL"),
	}, nil
}
