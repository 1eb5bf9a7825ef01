// Package config defines the bootstrap configuration for the bot: wallet
// credentials, exchange endpoints, and process-wide knobs that are only
// ever set at startup. Sensitive fields are overridable via POLY_*
// environment variables.
//
// The hot-reloadable trading parameters (whale targets, risk thresholds,
// AI/sports/crypto rules) live in strategy.go and are polled from a
// separate file, not loaded here.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level bootstrap configuration.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	AI       AIProviderConfig `mapstructure:"ai_provider"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	// StrategyFile is the path to the hot-reloadable strategies.json.
	StrategyFile string `mapstructure:"strategy_file"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataAPIURL   string `mapstructure:"data_api_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// AIProviderConfig configures the external AI analyzer, if any.
type AIProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// StoreConfig sets where process state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only status HTTP server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE, POLY_DRY_RUN, GEMINI_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("strategy_file", "strategies.json")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.data_api_url", "https://data-api.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("wallet.chain_id", 137)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" && cfg.Wallet.PrivateKey == "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if os.Getenv("DRY_RUN") == "true" || os.Getenv("DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if addr := os.Getenv("PROXY_ADDRESS"); addr != "" {
		cfg.Wallet.FunderAddress = addr
	} else if addr := os.Getenv("FUNDER"); addr != "" {
		cfg.Wallet.FunderAddress = addr
	}

	return &cfg, nil
}

// Validate checks the fields required before the bot can start trading for
// real. Dry-run mode tolerates a missing wallet key.
func (c *Config) Validate() error {
	if !c.DryRun && c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required when dry_run is false (set POLY_PRIVATE_KEY or WALLET_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	return nil
}
