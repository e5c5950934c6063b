// Package executor turns a liquidation payload into exactly one call of the
// contract's liquidation circuit and reports the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/metrics"
)

// ContractProvider hands out the contract while the connection is ready.
// *contract.Service implements it.
type ContractProvider interface {
	Contract() (contract.Contract, error)
}

// Alerter is the notification hook used for liquidation outcomes.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event names.
const (
	EventLiquidationSucceeded = "liquidation_succeeded"
	EventLiquidationFailed    = "liquidation_failed"
)

// Source labels where a request came from.
const (
	SourceAPI     = "api"
	SourceMonitor = "monitor"
)

// Executor validates liquidation payloads and submits them. It never
// re-reads the position: the payload is the snapshot the caller decided on
// and the ledger is the final arbiter.
type Executor struct {
	contracts ContractProvider
	dedup     *Dedup
	logger    *slog.Logger

	locks    domain.LockManager
	lockTTL  time.Duration
	attempts domain.LiquidationStore
	audit    domain.AuditStore
	txs      domain.TxBroadcastStore
	alerter  Alerter

	cleanupInterval time.Duration
}

// Option configures optional collaborators.
type Option func(*Executor)

// WithLocks serialises liquidations of one position across processes.
func WithLocks(l domain.LockManager, ttl time.Duration) Option {
	return func(e *Executor) { e.locks, e.lockTTL = l, ttl }
}

// WithStores records attempts, audit entries and broadcast transactions.
// Any of them may be nil.
func WithStores(attempts domain.LiquidationStore, audit domain.AuditStore, txs domain.TxBroadcastStore) Option {
	return func(e *Executor) { e.attempts, e.audit, e.txs = attempts, audit, txs }
}

// WithAlerter sends notifications on outcomes.
func WithAlerter(a Alerter) Option {
	return func(e *Executor) { e.alerter = a }
}

// WithDedupTTL changes how long successes are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.dedup = NewDedup(ttl) }
}

// New creates an Executor.
func New(contracts ContractProvider, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		contracts:       contracts,
		dedup:           NewDedup(10 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		lockTTL:         2 * time.Minute,
		cleanupInterval: time.Minute,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Validate rejects malformed payloads before anything leaves the process.
func Validate(p domain.LiquidationPayload) (contract.PositionID, error) {
	var problems []string
	if strings.TrimSpace(p.PositionID) == "" {
		problems = append(problems, "id is required")
	}
	if p.Debt < 0 {
		problems = append(problems, "debt must be non-negative")
	}
	if p.CollateralAmount < 0 {
		problems = append(problems, "collateral_amount must be non-negative")
	}
	if len(problems) > 0 {
		return contract.PositionID{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, strings.Join(problems, ", "))
	}
	id, err := contract.ParseID(p.PositionID)
	if err != nil {
		return contract.PositionID{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return id, nil
}

// Execute submits payload once.
//
// A non-success ledger status is a Failed result, not an error. Errors are
// reserved for invalid payloads (domain.ErrInvalidPayload), an unavailable
// contract (domain.ErrNotReady, domain.ErrClosed) and unexpected transport
// or response failures.
func (e *Executor) Execute(ctx context.Context, payload domain.LiquidationPayload, source string) (domain.LiquidationResult, error) {
	id, err := Validate(payload)
	if err != nil {
		return domain.LiquidationResult{}, err
	}
	key := id.UUID().String()

	if e.dedup.Seen(key) {
		res := domain.LiquidationResult{Outcome: domain.LiquidationFailed, Reason: "already liquidated"}
		e.finish(ctx, payload, source, res)
		return res, nil
	}

	c, err := e.contracts.Contract()
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("executor: %w", err)
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "liquidation:"+key, e.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			res := domain.LiquidationResult{Outcome: domain.LiquidationFailed, Reason: "liquidation already in progress"}
			e.finish(ctx, payload, source, res)
			return res, nil
		}
		if err != nil {
			return domain.LiquidationResult{}, fmt.Errorf("executor: acquire lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	call, err := c.LiquidateDebtPosition(ctx, uint64(payload.CollateralAmount), id, uint64(payload.Debt))
	metrics.LiquidationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LiquidationsTotal.WithLabelValues(source, "error").Inc()
		e.logger.ErrorContext(ctx, "liquidation call failed",
			slog.String("position_id", key),
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		e.auditLog(ctx, "liquidation_error", payload, source, map[string]any{"error": err.Error()})
		return domain.LiquidationResult{}, fmt.Errorf("executor: liquidate %s: %w", key, err)
	}

	res := Interpret(call)
	if res.Succeeded() {
		e.dedup.Mark(key)
	}
	e.finish(ctx, payload, source, res)
	return res, nil
}

// Interpret maps a contract call result to a liquidation outcome.
func Interpret(call contract.CallResult) domain.LiquidationResult {
	res := domain.LiquidationResult{
		TxHash:      call.TxHash,
		BlockHash:   call.BlockHash,
		BlockHeight: call.BlockHeight,
	}
	if call.Succeeded() {
		res.Outcome = domain.LiquidationSucceeded
		return res
	}
	res.Outcome = domain.LiquidationFailed
	res.Reason = call.Status
	return res
}

// Run periodically trims the success cache until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) finish(ctx context.Context, p domain.LiquidationPayload, source string, res domain.LiquidationResult) {
	metrics.LiquidationsTotal.WithLabelValues(source, string(res.Outcome)).Inc()

	attrs := []any{
		slog.String("position_id", p.PositionID),
		slog.Int64("debt", p.Debt),
		slog.Int64("collateral_amount", p.CollateralAmount),
		slog.String("source", source),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.Succeeded() {
		e.logger.InfoContext(ctx, "position liquidated", append(attrs, slog.String("tx_hash", res.TxHash), slog.Int64("block_height", res.BlockHeight))...)
	} else {
		e.logger.WarnContext(ctx, "liquidation rejected", append(attrs, slog.String("reason", res.Reason))...)
	}

	if e.attempts != nil {
		err := e.attempts.Record(ctx, domain.LiquidationAttempt{
			ID:               uuid.New(),
			PositionID:       p.PositionID,
			Debt:             p.Debt,
			CollateralAmount: p.CollateralAmount,
			Outcome:          res.Outcome,
			Reason:           res.Reason,
			TxHash:           res.TxHash,
			BlockHeight:      res.BlockHeight,
			Source:           source,
			CreatedAt:        time.Now().UTC(),
		})
		if err != nil {
			e.logger.WarnContext(ctx, "record attempt failed", slog.String("error", err.Error()))
		}
	}

	e.auditLog(ctx, "liquidation_"+string(res.Outcome), p, source, map[string]any{
		"reason":  res.Reason,
		"tx_hash": res.TxHash,
	})

	if res.Succeeded() && e.txs != nil {
		err := e.txs.Insert(ctx, domain.TxBroadcast{
			User:         p.PositionID,
			OnchainEvent: domain.OnchainLiquidation,
			Amount:       p.CollateralAmount,
			CoinType:     "tDUST",
			TxHash:       res.TxHash,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			e.logger.WarnContext(ctx, "record tx broadcast failed", slog.String("error", err.Error()))
		}
	}

	if e.alerter != nil {
		event, title := EventLiquidationFailed, "Liquidation failed"
		msg := fmt.Sprintf("position %s debt=%d collateral=%d reason=%s", p.PositionID, p.Debt, p.CollateralAmount, res.Reason)
		if res.Succeeded() {
			event, title = EventLiquidationSucceeded, "Position liquidated"
			msg = fmt.Sprintf("position %s debt=%d collateral=%d tx=%s", p.PositionID, p.Debt, p.CollateralAmount, res.TxHash)
		}
		if err := e.alerter.Notify(ctx, event, title, msg); err != nil {
			e.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) auditLog(ctx context.Context, event string, p domain.LiquidationPayload, source string, extra map[string]any) {
	if e.audit == nil {
		return
	}
	detail := map[string]any{
		"position_id":       p.PositionID,
		"debt":              p.Debt,
		"collateral_amount": p.CollateralAmount,
		"source":            source,
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) String() string {
	return fmt.Sprintf("Executor{dedup=%d}", e.dedup.Len())
}
