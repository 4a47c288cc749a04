package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
)

// Keys recognised in the Vault secret. Values overlay the corresponding
// environment variables before Settings are built.
var vaultOverlayKeys = []string{
	"SIEM_REDIS_PASSWORD",
	"SIEM_CH_PASSWORD",
	"SIEM_CH_USER",
}

// SecretManager wraps the Vault API client for reading secrets.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
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

// overlayVaultSecrets copies recognised keys from the configured Vault secret
// into the process environment. A missing VAULT_ADDR disables the overlay.
func overlayVaultSecrets() error {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil
	}

	token := os.Getenv("VAULT_TOKEN")
	path := getEnv("SIEM_VAULT_SECRET_PATH", "secret/data/siem/pipeline")

	mgr, err := NewSecretManager(addr, token)
	if err != nil {
		return err
	}

	data, err := mgr.GetKV2(path)
	if err != nil {
		return err
	}

	for _, key := range vaultOverlayKeys {
		if v, ok := data[key].(string); ok && v != "" {
			if err := os.Setenv(key, v); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}
