// Package secrets resolves runtime credentials. When Vault is enabled the
// KV v2 store is authoritative; otherwise every secret falls back to its
// environment variable. Missing required secrets are fatal in PROD.
package secrets

import (
	"context"
	"fmt"
	"os"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/logging"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Names of the secrets the engine recognises. They double as environment
// variable names in the fallback path.
const (
	KeyBrokerAPIKey    = "ALPACA_API_KEY"
	KeyBrokerAPISecret = "ALPACA_API_SECRET"
	KeyDBPassword      = "DB_PASSWORD"
	KeyWarehouseDSN    = "WAREHOUSE_DSN"
	KeyRedisPassword   = "REDIS_PASSWORD"
	KeyCryptoWebhook   = "DISCORD_CRYPTO_WEBHOOK_URL"
	KeyEquityWebhook   = "DISCORD_EQUITY_WEBHOOK_URL"
	KeyTestWebhook     = "DISCORD_TEST_WEBHOOK_URL"
)

// Loader fetches secrets from Vault with environment fallback.
type Loader struct {
	client *api.Client
	cfg    config.VaultConfig
	logger zerolog.Logger
}

// NewLoader builds a loader. With Vault disabled the loader serves purely
// from the environment.
func NewLoader(cfg config.VaultConfig) (*Loader, error) {
	l := &Loader{cfg: cfg, logger: logging.Component("secrets")}
	if !cfg.Enabled {
		return l, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	l.client = client
	return l, nil
}

// Get resolves one secret by name. Vault wins when enabled and the key is
// present; the environment variable of the same name is the fallback.
func (l *Loader) Get(ctx context.Context, name string) (string, error) {
	if l.client != nil {
		secret, err := l.client.KVv2(l.cfg.MountPath).Get(ctx, l.cfg.SecretPath)
		if err != nil {
			l.logger.Warn().Err(err).Str("secret", name).Msg("vault read failed, falling back to environment")
		} else if secret != nil {
			if v, ok := secret.Data[name].(string); ok && v != "" {
				return v, nil
			}
		}
	}
	return os.Getenv(name), nil
}

// Apply resolves every recognised secret into the config. Empty broker
// credentials are fatal in PROD with execution enabled; everything else
// degrades with a warning.
func (l *Loader) Apply(ctx context.Context, cfg *config.Config) error {
	resolve := func(name, current string) string {
		if current != "" {
			return current
		}
		v, _ := l.Get(ctx, name)
		return v
	}

	cfg.BrokerConfig.APIKey = resolve(KeyBrokerAPIKey, cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.APISecret = resolve(KeyBrokerAPISecret, cfg.BrokerConfig.APISecret)
	cfg.DatabaseConfig.Password = resolve(KeyDBPassword, cfg.DatabaseConfig.Password)
	cfg.WarehouseConfig.DSN = resolve(KeyWarehouseDSN, cfg.WarehouseConfig.DSN)
	cfg.RedisConfig.Password = resolve(KeyRedisPassword, cfg.RedisConfig.Password)
	cfg.NotificationConfig.CryptoWebhookURL = resolve(KeyCryptoWebhook, cfg.NotificationConfig.CryptoWebhookURL)
	cfg.NotificationConfig.EquityWebhookURL = resolve(KeyEquityWebhook, cfg.NotificationConfig.EquityWebhookURL)
	cfg.NotificationConfig.TestWebhookURL = resolve(KeyTestWebhook, cfg.NotificationConfig.TestWebhookURL)

	if cfg.IsProd() && cfg.ExecutionConfig.EnableExecution {
		if cfg.BrokerConfig.APIKey == "" || cfg.BrokerConfig.APISecret == "" {
			return fmt.Errorf("broker credentials missing in PROD")
		}
	}
	return nil
}
