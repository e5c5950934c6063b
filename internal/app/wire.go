package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	s3blob "github.com/statera-protocol/statera-protocol-midnight/internal/blob/s3"
	"github.com/statera-protocol/statera-protocol-midnight/internal/cache/redis"
	"github.com/statera-protocol/statera-protocol-midnight/internal/config"
	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/crypto"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/executor"
	"github.com/statera-protocol/statera-protocol-midnight/internal/ledger"
	"github.com/statera-protocol/statera-protocol-midnight/internal/monitor"
	"github.com/statera-protocol/statera-protocol-midnight/internal/notify"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
	"github.com/statera-protocol/statera-protocol-midnight/internal/privatestate"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/handler"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/middleware"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/ws"
	"github.com/statera-protocol/statera-protocol-midnight/internal/service"
	"github.com/statera-protocol/statera-protocol-midnight/internal/store/postgres"
)

// simAddress is the contract address reported when the simulated ledger is
// used without one configured.
const simAddress = "sim-ledger"

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores, nil without Postgres.
	AuditStore       domain.AuditStore
	LiquidationStore domain.LiquidationStore
	TxStore          domain.TxBroadcastStore
	SnapshotStore    domain.PositionSnapshotStore

	// Caches and bus, nil without Redis. RateLimiter and PrivateState fall
	// back to in-process implementations.
	PriceCache    domain.PriceCache
	PositionCache domain.PositionCache
	LockManager   domain.LockManager
	EventBus      domain.EventBus
	RateLimiter   domain.RateLimiter
	PrivateState  domain.PrivateStateStore

	// Blob storage, nil without S3.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Checks probes the optional backing services for /api/health.
	Checks map[string]handler.Checker

	// Core
	Signer    *crypto.Signer
	SecretKey string
	Contract  *contract.Service
	SimLedger *contract.SimLedger // set when the simulated ledger backs Contract
	Simulator *oracle.Simulator   // nil for the http price source
	Feed      oracle.Feed
	Policy    oracle.Policy
	Oracle    *service.OracleService
	Ledger    *ledger.Reader
	Executor  *executor.Executor
	Hub       *ws.Hub
	Sink      monitor.EventSink
	Monitors  *monitor.Supervisor
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.LiquidationStore = postgres.NewLiquidationStore(pool)
		deps.TxStore = postgres.NewTxBroadcastStore(pool)
		deps.SnapshotStore = postgres.NewPositionSnapshotStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.PositionCache = redis.NewPositionCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.PrivateState = redis.NewPrivateStateStore(redisClient)
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
		deps.PrivateState = privatestate.NewMemory()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health
		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.LiquidationStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	if err := wireCore(cfg, deps, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := deps.Contract.Close(); err != nil {
			logger.Warn("contract close failed", slog.String("error", err.Error()))
		}
	})

	return deps, cleanup, nil
}

// wireCore builds the oracle, contract, executor and monitoring graph on top
// of the infrastructure in deps.
func wireCore(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	signer, err := loadSigner(cfg.Wallet)
	if err != nil {
		return fmt.Errorf("wire: wallet: %w", err)
	}
	deps.Signer = signer
	deps.SecretKey = "local"
	if signer != nil {
		deps.SecretKey = signer.Address().Hex()
	}

	// --- Oracle feed ---
	var lastPrice *priceTracker
	switch strings.ToLower(cfg.Oracle.Source) {
	case "http":
		timeout := cfg.Oracle.FetchTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		deps.Feed = oracle.WithTimeout(
			oracle.NewHTTPFeed(cfg.Oracle.HTTPURL, cfg.Oracle.CoinID, cfg.Oracle.Asset),
			timeout,
		)
		lastPrice = newPriceTracker(cfg.Oracle.InitialPrice)
	default:
		deps.Simulator = oracle.NewSimulator(oracle.Config{
			Asset:          cfg.Oracle.Asset,
			InitialPrice:   cfg.Oracle.InitialPrice,
			BaseVolatility: cfg.Oracle.BaseVolatility,
			HistoryLimit:   cfg.Oracle.HistoryLimit,
			Seed:           cfg.Oracle.Seed,
		})
		deps.Feed = deps.Simulator
	}

	policy := oracle.DefaultPolicy()
	if cfg.Oracle.MaxAge.Duration > 0 {
		policy.MaxAge = cfg.Oracle.MaxAge.Duration
	}
	if cfg.Oracle.MinConfidence > 0 {
		policy.MinConfidence = cfg.Oracle.MinConfidence
	}
	deps.Policy = policy

	// --- Contract ---
	if cfg.UsesSimLedger() {
		price := func() float64 { return deps.Simulator.CurrentSample().Price }
		if deps.Simulator == nil {
			price = lastPrice.Load
		}
		deps.SimLedger = contract.NewSimLedger(domain.ProtocolParameters{
			LiquidationThreshold:   cfg.Protocol.LiquidationThreshold,
			LoanToValue:            cfg.Protocol.LoanToValue,
			MinimumCollateralRatio: cfg.Protocol.MinimumCollateralRatio,
		}, price)
		address := cfg.Contract.Address
		if address == "" {
			address = simAddress
		}
		deps.Contract = contract.NewService(address, contract.SimConnector(deps.SimLedger), logger)
	} else {
		if signer == nil {
			logger.Warn("no wallet seed configured; liquidations will be submitted unsigned")
		}
		var auth *crypto.HMACAuth
		if cfg.Contract.APIKey != "" {
			auth = &crypto.HMACAuth{Key: cfg.Contract.APIKey, Secret: cfg.Contract.APISecret}
		}
		connect := contract.GatewayConnector(contract.GatewayConfig{
			BaseURL: cfg.Contract.GatewayURL,
			Network: contract.NetworkConfig{
				ProofServerURI: cfg.Contract.ProofServerURI,
				IndexerURI:     cfg.Contract.IndexerURI,
				IndexerWSURI:   cfg.Contract.IndexerWSURI,
				NodeURI:        cfg.Contract.NodeURI,
			},
			Timeout:   cfg.Contract.RequestTimeout.Duration,
			RateLimit: cfg.Contract.RateLimit,
			Burst:     cfg.Contract.Burst,
		}, signer, auth)
		deps.Contract = contract.NewService(cfg.Contract.Address, connect, logger)
	}

	// --- Ledger reads ---
	var ledgerOpts []ledger.Option
	if deps.PositionCache != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithCache(deps.PositionCache, cfg.Redis.PositionTTL.Duration))
	}
	if deps.SnapshotStore != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithSnapshots(deps.SnapshotStore))
	}
	deps.Ledger = ledger.NewReader(deps.Contract, logger, ledgerOpts...)

	// --- Executor ---
	execOpts := []executor.Option{
		executor.WithAlerter(deps.Notifier),
		executor.WithDedupTTL(cfg.Executor.DedupTTL.Duration),
	}
	if deps.LockManager != nil {
		execOpts = append(execOpts, executor.WithLocks(deps.LockManager, cfg.Executor.LockTTL.Duration))
	}
	if deps.LiquidationStore != nil {
		execOpts = append(execOpts, executor.WithStores(deps.LiquidationStore, deps.AuditStore, deps.TxStore))
	}
	deps.Executor = executor.New(deps.Contract, logger, execOpts...)

	// --- Event fan-out ---
	// With a bus, the hub relays what any process publishes, this one
	// included. Without one it is fed directly.
	var bridge ws.Bridge
	if deps.EventBus != nil {
		bridge = ws.Bridge{
			domain.ChannelOraclePrice:   ws.ChannelPrices,
			domain.ChannelMonitorEvents: ws.ChannelMonitors,
			domain.ChannelLiquidations:  ws.ChannelLiquidations,
		}
	}
	deps.Hub = ws.NewHub(cfg.Mode, deps.EventBus, bridge, logger)

	oracleOpts := []service.OracleOption{service.WithPolicy(deps.Policy)}
	if deps.EventBus != nil {
		deps.Sink = service.NewFanout(deps.Notifier, service.NewBusSink(deps.EventBus, logger))
		oracleOpts = append(oracleOpts, service.WithBus(deps.EventBus))
	} else {
		deps.Sink = service.NewFanout(deps.Notifier, deps.Hub)
		oracleOpts = append(oracleOpts, service.WithPriceSink(deps.Hub))
	}
	if lastPrice != nil {
		oracleOpts = append(oracleOpts, service.WithPriceSink(lastPrice))
	}
	if deps.PriceCache != nil {
		oracleOpts = append(oracleOpts, service.WithPriceCache(deps.PriceCache))
	}
	if deps.Archiver != nil {
		oracleOpts = append(oracleOpts, service.WithArchiver(deps.Archiver))
	}
	deps.Oracle = service.NewOracleService(deps.Feed, deps.Simulator, service.OracleConfig{
		Condition:       domain.MarketCondition(strings.ToLower(cfg.Oracle.Condition)),
		TickInterval:    cfg.Oracle.TickInterval.Duration,
		ArchiveInterval: cfg.S3.ArchiveInterval.Duration,
	}, logger, oracleOpts...)

	// --- Monitors ---
	deps.Monitors = monitor.NewSupervisor(deps.Feed, deps.Policy, deps.Ledger, deps.Executor, deps.Sink, monitor.Config{
		Interval:      cfg.Monitor.Interval.Duration,
		FetchTimeout:  cfg.Oracle.FetchTimeout.Duration,
		SubmitTimeout: cfg.Monitor.SubmitTimeout.Duration,
		AtRiskRatio:   cfg.Monitor.AtRiskRatio,
	}, logger)

	return nil
}

// loadSigner returns nil when no seed is configured.
func loadSigner(cfg config.WalletConfig) (*crypto.Signer, error) {
	if cfg.Seed == "" && cfg.SealedSeedPath == "" {
		return nil, nil
	}
	seed, err := crypto.LoadSeed(crypto.SeedConfig{
		RawSeed:    cfg.Seed,
		SealedPath: cfg.SealedSeedPath,
		Password:   cfg.SeedPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(seed)
}

// priceTracker remembers the last recorded oracle price. It prices the
// simulated ledger when samples come from an external feed.
type priceTracker struct {
	bits atomic.Uint64
}

func newPriceTracker(initial float64) *priceTracker {
	t := &priceTracker{}
	t.bits.Store(math.Float64bits(initial))
	return t
}

func (t *priceTracker) PublishPrice(_ context.Context, sample domain.OraclePrice) {
	t.bits.Store(math.Float64bits(sample.Price))
}

func (t *priceTracker) Load() float64 {
	return math.Float64frombits(t.bits.Load())
}
