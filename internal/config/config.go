// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	ProxyURL      string `mapstructure:"proxy_url"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// DatabaseConfig configures the SQL persistence layer (internal/db).
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StreamingConfig tunes the book-imbalance streaming executor. Mirrors
// the polling book_imbalance strategy's direction rule but with tighter
// freshness tolerances, since it reacts to individual book events instead of
// periodic snapshots.
type StreamingConfig struct {
	Name                 string        `mapstructure:"name"`
	Enabled              bool          `mapstructure:"enabled"`
	MinImbalance         float64       `mapstructure:"min_imbalance"`
	YesPriceMin          float64       `mapstructure:"yes_price_min"`
	YesPriceMax          float64       `mapstructure:"yes_price_max"`
	MaxSpread            float64       `mapstructure:"max_spread"`
	Categories           []string      `mapstructure:"categories"`
	MaxHoursToClose      float64       `mapstructure:"max_hours_to_close"`
	MinMinutesToClose    float64       `mapstructure:"min_minutes_to_close"`
	FixedSizeUSD         float64       `mapstructure:"fixed_size_usd"`
	CooldownMinutes      int           `mapstructure:"cooldown_minutes"`
	MaxSignalAgeSeconds  int           `mapstructure:"max_signal_age_seconds"`
	MaxPriceDeviation    float64       `mapstructure:"max_price_deviation"`
	MaxFeeRateBps        int           `mapstructure:"max_fee_rate_bps"`
	OrderType            string        `mapstructure:"order_type"`
	LimitOffsetBps       int           `mapstructure:"limit_offset_bps"`
	SpreadTimeoutSeconds int           `mapstructure:"spread_timeout_seconds"`
	MaxPositions         int           `mapstructure:"max_positions"`
	Live                 bool          `mapstructure:"live"`
	HealthCheckInterval  time.Duration `mapstructure:"health_check_interval"`
}

// StrategyConfig is the per-strategy tuning block. Every polled
// strategy (scalp, favorite_hedge, swing_rebalance, map_longshot,
// bo3_longshot, book_imbalance) is configured by one of these, keyed by Name.
type StrategyConfig struct {
	Name                string   `mapstructure:"name"`
	Enabled             bool     `mapstructure:"enabled"`
	Live                bool     `mapstructure:"live"`
	MinImbalance        float64  `mapstructure:"min_imbalance"`
	YesPriceMin         float64  `mapstructure:"yes_price_min"`
	YesPriceMax         float64  `mapstructure:"yes_price_max"`
	MaxSpread           float64  `mapstructure:"max_spread"`
	MaxExitSpread       float64  `mapstructure:"max_exit_spread"`
	Categories          []string `mapstructure:"categories"`
	MaxHoursToClose     float64  `mapstructure:"max_hours_to_close"`
	MinMinutesToClose   float64  `mapstructure:"min_minutes_to_close"`
	MaxPositions        int      `mapstructure:"max_positions"`
	MaxPositionUSD      float64  `mapstructure:"max_position_usd"`
	FixedSizeUSD        float64  `mapstructure:"fixed_size_usd"`
	SizePct             float64  `mapstructure:"size_pct"`
	CooldownMinutes     int      `mapstructure:"cooldown_minutes"`
	MaxSignalAgeSeconds int      `mapstructure:"max_signal_age_seconds"`
	MaxPriceDeviation   float64  `mapstructure:"max_price_deviation"`
	MaxFeeRateBps       int      `mapstructure:"max_fee_rate_bps"`
	OrderType           string   `mapstructure:"order_type"`
	LimitOffsetBps      int      `mapstructure:"limit_offset_bps"`
	SpreadTimeoutSeconds int     `mapstructure:"spread_timeout_seconds"`

	// AllocatedCapital seeds this strategy's capital.Ledger row at startup
	// if it has none persisted yet.
	AllocatedCapital float64 `mapstructure:"allocated_capital"`
}

// ScannerConfig controls how the engine discovers and tracks tradeable
// markets (internal/market.Registry).
type ScannerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	MaxEndDateDays int           `mapstructure:"max_end_date_days"`
	ExcludeSlugs   []string      `mapstructure:"exclude_slugs"`
}

// StoreConfig sets the in-memory tick-buffer flush cadence.
type StoreConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBufferSize int           `mapstructure:"max_buffer_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE, POLY_PROXY_URL, POLY_DATABASE_URL,
// POLY_STRATEGY_WHITELIST (plus POLY_DRY_RUN). Telegram credentials are not
// read.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if proxy := os.Getenv("POLY_PROXY_URL"); proxy != "" {
		cfg.Wallet.ProxyURL = proxy
	}
	if dsn := os.Getenv("POLY_DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	if whitelist := os.Getenv("POLY_STRATEGY_WHITELIST"); whitelist != "" {
		allowed := make(map[string]bool)
		for _, name := range strings.Split(whitelist, ",") {
			allowed[strings.TrimSpace(name)] = true
		}
		filtered := cfg.Strategies[:0]
		for _, sc := range cfg.Strategies {
			if allowed[sc.Name] {
				filtered = append(filtered, sc)
			}
		}
		cfg.Strategies = filtered
	}

	// POLY_TELEGRAM_TOKEN / POLY_TELEGRAM_CHAT_ID are not read: Config has
	// no field for them, and this engine sends no notifications.

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (set POLY_DATABASE_URL)")
	}
	anyEnabled := c.Streaming.Enabled
	for _, sc := range c.Strategies {
		if sc.Enabled {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return fmt.Errorf("at least one strategy or the streaming executor must be enabled")
	}
	for _, sc := range c.Strategies {
		if !sc.Enabled {
			continue
		}
		if sc.Name == "" {
			return fmt.Errorf("strategy entry missing name")
		}
		if sc.FixedSizeUSD <= 0 && sc.SizePct <= 0 {
			return fmt.Errorf("strategy %s: fixed_size_usd or size_pct must be > 0", sc.Name)
		}
		if sc.MaxPositions <= 0 {
			return fmt.Errorf("strategy %s: max_positions must be > 0", sc.Name)
		}
		switch sc.OrderType {
		case "market", "limit", "spread", "":
		default:
			return fmt.Errorf("strategy %s: order_type must be one of market, limit, spread", sc.Name)
		}
	}
	return nil
}
