package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/health"
)

// Ledger statuses besides domain.StatusSucceedEntirely.
const (
	StatusFailEntirely = "FailEntirely"
	StatusFailFallible = "FailFallible"
)

// DefaultParameters are the deployment arguments of the reference contract.
var DefaultParameters = domain.ProtocolParameters{
	LiquidationThreshold:   90,
	LoanToValue:            80,
	MinimumCollateralRatio: 120,
}

// SimLedger is an in-memory contract that enforces the protocol rules. It
// backs simulate mode and tests. The price it liquidates against comes from
// its own trusted oracle, not from the caller.
type SimLedger struct {
	mu           sync.Mutex
	params       domain.ProtocolParameters
	price        func() float64
	positions    map[PositionID]*domain.Position
	admins       map[string]bool
	oracles      map[string]bool
	staked       uint64
	rewards      uint64
	height       int64
	liquidations int64
	calls        map[string]int
	failNext     error
	closed       bool
}

// NewSimLedger creates a ledger priced by price.
func NewSimLedger(params domain.ProtocolParameters, price func() float64) *SimLedger {
	return &SimLedger{
		params:    params,
		price:     price,
		positions: make(map[PositionID]*domain.Position),
		admins:    make(map[string]bool),
		oracles:   make(map[string]bool),
		calls:     make(map[string]int),
	}
}

// SimConnector returns a Connector that always yields l.
func SimConnector(l *SimLedger) Connector {
	return func(context.Context, string) (Backend, error) { return l, nil }
}

// FailNext makes the next circuit call return err instead of executing.
func (l *SimLedger) FailNext(err error) {
	l.mu.Lock()
	l.failNext = err
	l.mu.Unlock()
}

// Calls returns how often circuit was invoked, including failed calls.
func (l *SimLedger) Calls(circuit string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[circuit]
}

// LiquidationCount mirrors the ledger's liquidation counter.
func (l *SimLedger) LiquidationCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liquidations
}

// Open creates an active position for handle directly, bypassing the mint
// borrow limit. It is a fixture helper.
func (l *SimLedger) Open(handle string, collateral, debt uint64) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := EncodeID(DeriveUUID(handle))
	pos := &domain.Position{
		ID:         id.UUID(),
		Owner:      handle,
		CoinType:   "tDUST",
		Collateral: collateral,
		Debt:       debt,
		Status:     domain.PositionInactive,
		UpdatedAt:  time.Now(),
	}
	if collateral > 0 {
		pos.Status = domain.PositionActive
	}
	pos.BorrowLimit = domain.BorrowLimit(pos.Collateral, l.price(), l.params.LoanToValue)
	l.positions[id] = pos
	return *pos
}

func (l *SimLedger) DepositToCollateralPool(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitDepositToCollateralPool, func() bool {
		if amount == 0 {
			return false
		}
		pos, ok := l.positions[id]
		if !ok {
			pos = &domain.Position{ID: id.UUID(), CoinType: "tDUST"}
			l.positions[id] = pos
		}
		if pos.Status == domain.PositionClosed {
			return false
		}
		pos.Collateral += amount
		pos.Status = domain.PositionActive
		l.touch(pos)
		return true
	})
}

func (l *SimLedger) MintSUSD(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitMintSUSD, func() bool {
		pos, ok := l.positions[id]
		if !ok || pos.Status != domain.PositionActive || pos.Debt+amount > pos.BorrowLimit {
			return false
		}
		pos.Debt += amount
		l.touch(pos)
		return true
	})
}

func (l *SimLedger) Repay(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitRepay, func() bool {
		pos, ok := l.positions[id]
		if !ok || pos.Status != domain.PositionActive || amount > pos.Debt {
			return false
		}
		pos.Debt -= amount
		l.touch(pos)
		return true
	})
}

func (l *SimLedger) WithdrawCollateral(ctx context.Context, id PositionID, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitWithdrawCollateral, func() bool {
		pos, ok := l.positions[id]
		if !ok || pos.Status != domain.PositionActive || amount > pos.Collateral {
			return false
		}
		rest := *pos
		rest.Collateral -= amount
		if rest.Debt > 0 {
			a := health.Assess(rest, l.price(), l.params.MinimumCollateralRatio)
			if a.Status != health.Healthy {
				return false
			}
		}
		pos.Collateral = rest.Collateral
		if pos.Collateral == 0 {
			pos.Status = domain.PositionClosed
		}
		l.touch(pos)
		return true
	})
}

func (l *SimLedger) DepositToStakePool(ctx context.Context, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitDepositToStakePool, func() bool {
		l.staked += amount
		return amount > 0
	})
}

func (l *SimLedger) WithdrawStake(ctx context.Context, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitWithdrawStake, func() bool {
		if amount > l.staked {
			return false
		}
		l.staked -= amount
		return true
	})
}

func (l *SimLedger) WithdrawStakeReward(ctx context.Context, amount uint64) (CallResult, error) {
	return l.apply(ctx, CircuitWithdrawStakeReward, func() bool {
		if amount > l.rewards {
			return false
		}
		l.rewards -= amount
		return true
	})
}

func (l *SimLedger) CheckStakeReward(ctx context.Context) (CallResult, error) {
	return l.apply(ctx, CircuitCheckStakeReward, func() bool {
		l.rewards += l.staked / 100
		return true
	})
}

func (l *SimLedger) ResetProtocolConfig(ctx context.Context, p domain.ProtocolParameters) (CallResult, error) {
	return l.apply(ctx, CircuitResetProtocolConfig, func() bool {
		if p.LiquidationThreshold == 0 || p.LoanToValue == 0 || p.MinimumCollateralRatio == 0 {
			return false
		}
		l.params = p
		return true
	})
}

func (l *SimLedger) AddAdmin(ctx context.Context, pubKey []byte) (CallResult, error) {
	return l.apply(ctx, CircuitAddAdmin, func() bool {
		l.admins[hex.EncodeToString(pubKey)] = true
		return true
	})
}

func (l *SimLedger) AddTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error) {
	return l.apply(ctx, CircuitAddTrustedOracle, func() bool {
		l.oracles[hex.EncodeToString(pubKey)] = true
		return true
	})
}

func (l *SimLedger) RemoveTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error) {
	return l.apply(ctx, CircuitRemoveTrustedOracle, func() bool {
		k := hex.EncodeToString(pubKey)
		if !l.oracles[k] {
			return false
		}
		delete(l.oracles, k)
		return true
	})
}

// LiquidateDebtPosition succeeds only when the submitted amounts match the
// ledger and the position is liquidatable at the ledger's own price. A stale
// snapshot or an already closed position fails entirely.
func (l *SimLedger) LiquidateDebtPosition(ctx context.Context, collateral uint64, id PositionID, debt uint64) (CallResult, error) {
	return l.apply(ctx, CircuitLiquidateDebtPosition, func() bool {
		pos, ok := l.positions[id]
		if !ok || pos.Collateral != collateral || pos.Debt != debt {
			return false
		}
		if health.Evaluate(*pos, l.price(), l.params.LiquidationThreshold) != health.Liquidatable {
			return false
		}
		pos.Collateral = 0
		pos.Debt = 0
		pos.Status = domain.PositionClosed
		l.touch(pos)
		l.liquidations++
		return true
	})
}

func (l *SimLedger) ReadPosition(ctx context.Context, id PositionID) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("contract/sim: position %s: %w", id, domain.ErrNotFound)
	}
	return *pos, nil
}

func (l *SimLedger) ReadProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params, nil
}

// Close implements Backend.
func (l *SimLedger) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *SimLedger) apply(ctx context.Context, circuit string, fn func() bool) (CallResult, error) {
	if err := ctx.Err(); err != nil {
		return CallResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls[circuit]++
	if l.closed {
		return CallResult{}, domain.ErrClosed
	}
	if err := l.failNext; err != nil {
		l.failNext = nil
		return CallResult{}, err
	}

	l.height++
	status := StatusFailEntirely
	if fn() {
		status = domain.StatusSucceedEntirely
	}
	h := sha256.Sum256([]byte(circuit + ":" + strconv.FormatInt(l.height, 10)))
	b := sha256.Sum256(h[:])
	return CallResult{
		Status:      status,
		TxHash:      hex.EncodeToString(h[:]),
		BlockHash:   hex.EncodeToString(b[:]),
		BlockHeight: l.height,
	}, nil
}

func (l *SimLedger) touch(pos *domain.Position) {
	pos.BorrowLimit = domain.BorrowLimit(pos.Collateral, l.price(), l.params.LoanToValue)
	pos.UpdatedAt = time.Now()
}

var _ Backend = (*SimLedger)(nil)
