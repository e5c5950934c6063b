package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/feed"
	"github.com/statera-protocol/statera-protocol-midnight/internal/privatestate"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/handler"
	"github.com/statera-protocol/statera-protocol-midnight/internal/service"
)

const (
	shutdownTimeout = 15 * time.Second
	// stopTimeout bounds how long StopAll waits for in-flight submissions.
	stopTimeout = 30 * time.Second
)

// ServerMode serves the liquidation API. The contract is joined in the
// background; until it is Ready, liquidation requests answer 503.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.joinContract(ctx, deps)
	})
	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	a.stopMonitorsOnExit(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// MonitorMode joins the contract, then watches the configured positions and
// those recorded in private state, liquidating any that become unhealthy.
// The HTTP server stays up for status and manual control.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if err := a.joinContract(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.watchKnownPositions(ctx, deps); err != nil {
		return err
	}
	a.followIndexer(ctx, g, deps)
	g.Go(func() error {
		return deps.Oracle.Run(ctx)
	})
	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	a.stopMonitorsOnExit(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// SimulateMode runs against the in-memory ledger: fixture positions are
// opened and watched, the configured scenario is played, and the oracle then
// keeps ticking under the configured condition.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.String("scenario", a.cfg.Oracle.Scenario),
	)
	if deps.SimLedger == nil {
		return errors.New("simulate mode: simulated ledger not wired")
	}
	if err := a.joinContract(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	sim := service.NewSimulation(deps.SimLedger, deps.PrivateState, deps.SecretKey, deps.Monitors, deps.Oracle, a.logger)
	start, err := deps.Oracle.Latest(ctx)
	if err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}
	if _, err := sim.Open(ctx, service.DefaultSeeds(start.Price, a.cfg.Protocol.LiquidationThreshold)); err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}

	g.Go(func() error {
		if scenario := a.cfg.Oracle.Scenario; scenario != "" {
			report, err := sim.Run(ctx, scenario, a.cfg.Oracle.TickInterval.Duration)
			if err != nil {
				return fmt.Errorf("simulate mode: %w", err)
			}
			a.logger.InfoContext(ctx, "scenario report",
				slog.String("scenario", report.Scenario),
				slog.Int("steps", report.Steps),
				slog.Float64("start_price", report.StartPrice),
				slog.Float64("end_price", report.EndPrice),
				slog.Int64("liquidations", report.Liquidations),
				slog.Duration("duration", report.Duration),
				slog.String("trend", string(report.Trend)),
			)
		}
		return deps.Oracle.Run(ctx)
	})
	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	a.stopMonitorsOnExit(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API, the oracle and the monitors together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.joinContract(ctx, deps); err != nil {
			return err
		}
		return a.watchKnownPositions(ctx, deps)
	})
	a.followIndexer(ctx, g, deps)
	g.Go(func() error {
		return deps.Oracle.Run(ctx)
	})
	g.Go(func() error {
		return deps.Executor.Run(ctx)
	})
	a.stopMonitorsOnExit(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// joinContract initializes the contract service, retrying transient
// failures. A missing address is fatal.
func (a *App) joinContract(ctx context.Context, deps *Dependencies) error {
	if err := deps.Contract.InitWithRetry(ctx, a.cfg.Contract.JoinRetry.Duration); err != nil {
		return fmt.Errorf("join contract: %w", err)
	}
	a.logger.InfoContext(ctx, "contract joined", slog.String("address", deps.Contract.Address()))
	return nil
}

// watchKnownPositions starts monitors for the configured positions and the
// ones recorded in private state. Entries that are not ids are treated as
// position handles.
func (a *App) watchKnownPositions(ctx context.Context, deps *Dependencies) error {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, entry := range a.cfg.Monitor.Positions {
		if pid, err := contract.ParseID(entry); err == nil {
			add(pid.UUID())
		} else {
			add(contract.DeriveUUID(entry))
		}
	}
	recorded, err := privatestate.Positions(ctx, deps.PrivateState)
	if err != nil {
		a.logger.WarnContext(ctx, "private state unavailable", slog.String("error", err.Error()))
	}
	for _, id := range recorded {
		add(id)
	}

	for _, id := range ids {
		if _, err := deps.Monitors.Watch(ctx, id); err != nil {
			return fmt.Errorf("watch %s: %w", id, err)
		}
	}
	a.logger.InfoContext(ctx, "monitors started", slog.Int("positions", len(ids)))
	return nil
}

// followIndexer subscribes to contract actions so watched positions are
// re-read from the ledger after any change instead of waiting out the cache.
func (a *App) followIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.UsesSimLedger() || a.cfg.Contract.IndexerWSURI == "" {
		return
	}
	f := feed.NewIndexerFeed(a.cfg.Contract.IndexerWSURI, deps.Contract.Address(), func(ctx context.Context, action feed.ContractAction) {
		n := a.invalidateWatched(ctx, deps)
		a.logger.DebugContext(ctx, "contract action",
			slog.String("kind", action.Kind),
			slog.String("tx_hash", action.TxHash),
			slog.Int64("height", action.Height),
			slog.Int("invalidated", n),
		)
	}, a.logger)
	g.Go(func() error {
		defer f.Close()
		return f.Run(ctx)
	})
}

// invalidateWatched drops cached ledger reads for every watched position.
func (a *App) invalidateWatched(ctx context.Context, deps *Dependencies) int {
	n := 0
	for _, st := range deps.Monitors.List() {
		id, err := uuid.Parse(st.PositionID)
		if err != nil {
			continue
		}
		deps.Ledger.Invalidate(ctx, id)
		n++
	}
	return n
}

// stopMonitorsOnExit stops every monitor once ctx ends, letting in-flight
// submissions finish.
func (a *App) stopMonitorsOnExit(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		deps.Monitors.StopAll(stopCtx)
		return nil
	})
}

// startHTTPServer adds the API server and the WebSocket hub to the group. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, a.handlers(ctx, deps), deps.Hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// handlers builds the route handlers. Monitors started over the API live as
// long as ctx.
func (a *App) handlers(ctx context.Context, deps *Dependencies) server.Handlers {
	health := handler.NewHealthHandler(deps.Contract)
	for name, check := range deps.Checks {
		health.AddCheck(name, check)
	}
	h := server.Handlers{
		Health:      health,
		Status:      handler.NewStatusHandler(a.cfg.Mode, deps.Contract, deps.Monitors, deps.Oracle),
		Liquidation: handler.NewLiquidationHandler(deps.Executor, deps.LiquidationStore, a.logger),
		Positions:   handler.NewPositionHandler(deps.Ledger, deps.Oracle, a.cfg.Monitor.AtRiskRatio, a.logger),
		Oracle:      handler.NewOracleHandler(deps.Oracle, a.logger),
		Monitors:    handler.NewMonitorHandler(ctx, deps.Monitors, a.logger),
	}
	if deps.BlobReader != nil || deps.Archiver != nil {
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, deps.Archiver, a.logger)
	}
	return h
}
