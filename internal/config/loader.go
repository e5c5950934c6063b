package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies environment
// overrides. A missing file is not an error when path is empty; the result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields from STATERA_* variables that are set
// and non-empty. A few unprefixed names are honoured for deployments that
// predate the prefix.
func applyEnvOverrides(cfg *Config) {
	// Contract
	setStr(&cfg.Contract.Address, "CONTRACT_ADDRESS")
	setStr(&cfg.Contract.Address, "STATERA_CONTRACT_ADDRESS")
	setStr(&cfg.Contract.Backend, "STATERA_CONTRACT_BACKEND")
	setStr(&cfg.Contract.GatewayURL, "STATERA_CONTRACT_GATEWAY_URL")
	setStr(&cfg.Contract.ProofServerURI, "PROOF_SERVER_URI")
	setStr(&cfg.Contract.ProofServerURI, "STATERA_CONTRACT_PROOF_SERVER_URI")
	setStr(&cfg.Contract.IndexerURI, "INDEXER_URI")
	setStr(&cfg.Contract.IndexerURI, "STATERA_CONTRACT_INDEXER_URI")
	setStr(&cfg.Contract.IndexerWSURI, "INDEXER_WS_URI")
	setStr(&cfg.Contract.IndexerWSURI, "STATERA_CONTRACT_INDEXER_WS_URI")
	setStr(&cfg.Contract.NodeURI, "NODE_URI")
	setStr(&cfg.Contract.NodeURI, "STATERA_CONTRACT_NODE_URI")
	setStr(&cfg.Contract.APIKey, "STATERA_CONTRACT_API_KEY")
	setStr(&cfg.Contract.APISecret, "STATERA_CONTRACT_API_SECRET")
	setDuration(&cfg.Contract.RequestTimeout, "STATERA_CONTRACT_REQUEST_TIMEOUT")
	setFloat64(&cfg.Contract.RateLimit, "STATERA_CONTRACT_RATE_LIMIT")
	setInt(&cfg.Contract.Burst, "STATERA_CONTRACT_BURST")
	setDuration(&cfg.Contract.JoinRetry, "STATERA_CONTRACT_JOIN_RETRY")

	// Wallet
	setStr(&cfg.Wallet.Seed, "STATERA_WALLET_SEED")
	setStr(&cfg.Wallet.SealedSeedPath, "STATERA_WALLET_SEALED_SEED_PATH")
	setStr(&cfg.Wallet.SeedPassword, "STATERA_WALLET_SEED_PASSWORD")

	// Protocol
	setUint64(&cfg.Protocol.LiquidationThreshold, "STATERA_PROTOCOL_LIQUIDATION_THRESHOLD")
	setUint64(&cfg.Protocol.LoanToValue, "STATERA_PROTOCOL_LOAN_TO_VALUE")
	setUint64(&cfg.Protocol.MinimumCollateralRatio, "STATERA_PROTOCOL_MINIMUM_COLLATERAL_RATIO")

	// Oracle
	setStr(&cfg.Oracle.Source, "STATERA_ORACLE_SOURCE")
	setStr(&cfg.Oracle.Asset, "STATERA_ORACLE_ASSET")
	setFloat64(&cfg.Oracle.InitialPrice, "STATERA_ORACLE_INITIAL_PRICE")
	setFloat64(&cfg.Oracle.BaseVolatility, "STATERA_ORACLE_BASE_VOLATILITY")
	setInt(&cfg.Oracle.HistoryLimit, "STATERA_ORACLE_HISTORY_LIMIT")
	setUint64(&cfg.Oracle.Seed, "STATERA_ORACLE_SEED")
	setDuration(&cfg.Oracle.TickInterval, "STATERA_ORACLE_TICK_INTERVAL")
	setStr(&cfg.Oracle.Condition, "STATERA_ORACLE_CONDITION")
	setStr(&cfg.Oracle.Scenario, "STATERA_ORACLE_SCENARIO")
	setDuration(&cfg.Oracle.MaxAge, "STATERA_ORACLE_MAX_AGE")
	setFloat64(&cfg.Oracle.MinConfidence, "STATERA_ORACLE_MIN_CONFIDENCE")
	setDuration(&cfg.Oracle.FetchTimeout, "STATERA_ORACLE_FETCH_TIMEOUT")
	setStr(&cfg.Oracle.HTTPURL, "STATERA_ORACLE_HTTP_URL")
	setStr(&cfg.Oracle.CoinID, "STATERA_ORACLE_COIN_ID")

	// Monitor
	setDuration(&cfg.Monitor.Interval, "STATERA_MONITOR_INTERVAL")
	setFloat64(&cfg.Monitor.AtRiskRatio, "STATERA_MONITOR_AT_RISK_RATIO")
	setDuration(&cfg.Monitor.SubmitTimeout, "STATERA_MONITOR_SUBMIT_TIMEOUT")
	setStringSlice(&cfg.Monitor.Positions, "STATERA_MONITOR_POSITIONS")

	// Executor
	setDuration(&cfg.Executor.LockTTL, "STATERA_EXECUTOR_LOCK_TTL")
	setDuration(&cfg.Executor.DedupTTL, "STATERA_EXECUTOR_DEDUP_TTL")

	// Redis
	setBool(&cfg.Redis.Enabled, "STATERA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STATERA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STATERA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STATERA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STATERA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STATERA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STATERA_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "STATERA_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PositionTTL, "STATERA_REDIS_POSITION_TTL")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "STATERA_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "STATERA_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "STATERA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STATERA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STATERA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STATERA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STATERA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STATERA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STATERA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STATERA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STATERA_POSTGRES_RUN_MIGRATIONS")

	// S3
	setBool(&cfg.S3.Enabled, "STATERA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STATERA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STATERA_S3_REGION")
	setStr(&cfg.S3.Bucket, "STATERA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STATERA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STATERA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STATERA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STATERA_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "STATERA_S3_ARCHIVE_INTERVAL")

	// Server
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "STATERA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STATERA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STATERA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "STATERA_SERVER_RATE_LIMIT")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "STATERA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STATERA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIURL, "STATERA_NOTIFY_TELEGRAM_API_URL")
	setStr(&cfg.Notify.DiscordWebhookURL, "STATERA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "STATERA_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "STATERA_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "STATERA_NOTIFY_COOLDOWN")

	// Top-level
	setStr(&cfg.Mode, "STATERA_MODE")
	setStr(&cfg.LogLevel, "STATERA_LOG_LEVEL")
}

// Typed env helpers. Each leaves dst untouched when the variable is unset,
// empty or unparsable.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
