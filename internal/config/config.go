// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by STATERA_* environment variables.
type Config struct {
	Contract ContractConfig `toml:"contract"`
	Wallet   WalletConfig   `toml:"wallet"`
	Protocol ProtocolConfig `toml:"protocol"`
	Oracle   OracleConfig   `toml:"oracle"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Executor ExecutorConfig `toml:"executor"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ContractConfig locates the deployed contract and the gateway in front of
// the proof server, indexer and node.
type ContractConfig struct {
	Address        string   `toml:"address"`
	Backend        string   `toml:"backend"` // "gateway" or "sim"
	GatewayURL     string   `toml:"gateway_url"`
	ProofServerURI string   `toml:"proof_server_uri"`
	IndexerURI     string   `toml:"indexer_uri"`
	IndexerWSURI   string   `toml:"indexer_ws_uri"`
	NodeURI        string   `toml:"node_uri"`
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	RequestTimeout duration `toml:"request_timeout"`
	RateLimit      float64  `toml:"rate_limit"`
	Burst          int      `toml:"burst"`
	JoinRetry      duration `toml:"join_retry"`
}

// WalletConfig holds the liquidator seed, raw or sealed on disk.
type WalletConfig struct {
	Seed           string `toml:"seed"`
	SealedSeedPath string `toml:"sealed_seed_path"`
	SeedPassword   string `toml:"seed_password"`
}

// ProtocolConfig are the deployment arguments for the simulated ledger.
type ProtocolConfig struct {
	LiquidationThreshold   uint64 `toml:"liquidation_threshold"`
	LoanToValue            uint64 `toml:"loan_to_value"`
	MinimumCollateralRatio uint64 `toml:"minimum_collateral_ratio"`
}

// OracleConfig configures the price source and the sample policy.
type OracleConfig struct {
	Source         string   `toml:"source"` // "simulated" or "http"
	Asset          string   `toml:"asset"`
	InitialPrice   float64  `toml:"initial_price"`
	BaseVolatility float64  `toml:"base_volatility"`
	HistoryLimit   int      `toml:"history_limit"`
	Seed           uint64   `toml:"seed"`
	TickInterval   duration `toml:"tick_interval"`
	Condition      string   `toml:"condition"`
	Scenario       string   `toml:"scenario"`
	MaxAge         duration `toml:"max_age"`
	MinConfidence  float64  `toml:"min_confidence"`
	FetchTimeout   duration `toml:"fetch_timeout"`
	HTTPURL        string   `toml:"http_url"`
	CoinID         string   `toml:"coin_id"`
}

// MonitorConfig configures position monitors.
type MonitorConfig struct {
	Interval      duration `toml:"interval"`
	AtRiskRatio   float64  `toml:"at_risk_ratio"`
	SubmitTimeout duration `toml:"submit_timeout"`
	Positions     []string `toml:"positions"`
}

// ExecutorConfig configures the liquidation executor.
type ExecutorConfig struct {
	LockTTL  duration `toml:"lock_ttl"`
	DedupTTL duration `toml:"dedup_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	PositionTTL duration `toml:"position_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage parameters for archives.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"` // requests per minute per client, 0 disables
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration decodes TOML strings such as "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Contract: ContractConfig{
			Backend:        "gateway",
			GatewayURL:     "http://localhost:8088",
			ProofServerURI: "http://127.0.0.1:6300",
			IndexerURI:     "https://indexer.testnet-02.midnight.network/api/v1/graphql",
			IndexerWSURI:   "wss://indexer.testnet-02.midnight.network/api/v1/graphql/ws",
			NodeURI:        "https://rpc.testnet-02.midnight.network",
			RequestTimeout: duration{30 * time.Second},
			RateLimit:      5,
			Burst:          5,
			JoinRetry:      duration{10 * time.Second},
		},
		Protocol: ProtocolConfig{
			LiquidationThreshold:   90,
			LoanToValue:            80,
			MinimumCollateralRatio: 120,
		},
		Oracle: OracleConfig{
			Source:         "simulated",
			Asset:          "ADA",
			InitialPrice:   0.45,
			BaseVolatility: 0.02,
			HistoryLimit:   1000,
			Seed:           1,
			TickInterval:   duration{time.Minute},
			Condition:      "normal",
			MaxAge:         duration{5 * time.Minute},
			MinConfidence:  0.9,
			FetchTimeout:   duration{5 * time.Second},
			HTTPURL:        "https://api.coingecko.com/api/v3",
			CoinID:         "cardano",
		},
		Monitor: MonitorConfig{
			Interval:      duration{30 * time.Second},
			AtRiskRatio:   1.2,
			SubmitTimeout: duration{2 * time.Minute},
		},
		Executor: ExecutorConfig{
			LockTTL:  duration{2 * time.Minute},
			DedupTTL: duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "statera:",
			PositionTTL: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "statera",
			User:          "statera",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "statera-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Port:         5500,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{3 * time.Minute},
		},
		Notify: NotifyConfig{
			Events:          []string{"liquidation_succeeded", "liquidation_failed", "at_risk", "monitor_error"},
			DiscordUsername: "statera",
			Cooldown:        duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"monitor":  true,
	"simulate": true,
	"full":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validConditions = map[string]bool{
	"normal":              true,
	"volatile":            true,
	"crash":               true,
	"pump":                true,
	"liquidation_cascade": true,
}

// UsesSimLedger reports whether the contract backend is the in-memory ledger.
func (c *Config) UsesSimLedger() bool {
	return strings.EqualFold(c.Mode, "simulate") || strings.EqualFold(c.Contract.Backend, "sim")
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, monitor, simulate, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Contract
	switch strings.ToLower(c.Contract.Backend) {
	case "gateway", "sim":
	default:
		add("contract: backend must be gateway or sim, got %q", c.Contract.Backend)
	}
	if !c.UsesSimLedger() {
		if strings.TrimSpace(c.Contract.Address) == "" {
			add("contract: address is required (CONTRACT_ADDRESS)")
		}
		if c.Contract.GatewayURL == "" {
			add("contract: gateway_url must not be empty")
		}
	}
	if c.Contract.RateLimit < 0 {
		add("contract: rate_limit must be >= 0")
	}

	// Wallet
	if c.Wallet.SealedSeedPath != "" && c.Wallet.SeedPassword == "" {
		add("wallet: seed_password is required when sealed_seed_path is set")
	}

	// Protocol
	if c.Protocol.LiquidationThreshold == 0 || c.Protocol.LiquidationThreshold > 100 {
		add("protocol: liquidation_threshold must be 1-100, got %d", c.Protocol.LiquidationThreshold)
	}
	if c.Protocol.LoanToValue == 0 || c.Protocol.LoanToValue > 100 {
		add("protocol: loan_to_value must be 1-100, got %d", c.Protocol.LoanToValue)
	}

	// Oracle
	switch c.Oracle.Source {
	case "simulated":
		if c.Oracle.InitialPrice <= 0 {
			add("oracle: initial_price must be > 0")
		}
		if c.Oracle.BaseVolatility < 0 {
			add("oracle: base_volatility must be >= 0")
		}
	case "http":
		if c.Oracle.HTTPURL == "" || c.Oracle.CoinID == "" {
			add("oracle: http_url and coin_id are required for the http source")
		}
	default:
		add("oracle: source must be simulated or http, got %q", c.Oracle.Source)
	}
	if c.Oracle.Asset == "" {
		add("oracle: asset must not be empty")
	}
	if !validConditions[c.Oracle.Condition] {
		add("oracle: unknown condition %q", c.Oracle.Condition)
	}
	if c.Oracle.MinConfidence < 0 || c.Oracle.MinConfidence > 1 {
		add("oracle: min_confidence must be within [0, 1]")
	}
	if c.Oracle.TickInterval.Duration <= 0 {
		add("oracle: tick_interval must be > 0")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		add("monitor: interval must be > 0")
	}
	if c.Monitor.AtRiskRatio < 1 {
		add("monitor: at_risk_ratio must be >= 1, got %v", c.Monitor.AtRiskRatio)
	}

	// Stores
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			add("postgres: host or dsn must be set")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
