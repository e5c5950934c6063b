// Package contract is the boundary to the deployed Statera contract. Every
// impure circuit is one method on Contract; ledger reads go through
// LedgerReader.
package contract

import (
	"context"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Circuit names as exposed by the deployed contract.
const (
	CircuitDepositToCollateralPool = "depositToCollateralPool"
	CircuitMintSUSD                = "mint_sUSD"
	CircuitRepay                   = "repay"
	CircuitWithdrawCollateral      = "withdrawCollateral"
	CircuitDepositToStakePool      = "depositToStakePool"
	CircuitWithdrawStake           = "withdrawStake"
	CircuitWithdrawStakeReward     = "withdrawStakeReward"
	CircuitCheckStakeReward        = "checkStakeReward"
	CircuitResetProtocolConfig     = "resetProtocolConfig"
	CircuitAddAdmin                = "addAdmin"
	CircuitAddTrustedOracle        = "addTrustedOracle"
	CircuitRemoveTrustedOracle     = "removeTrustedOraclePk"
	CircuitLiquidateDebtPosition   = "liquidateDebtPosition"
)

// CallResult is the finalized public data of one circuit call.
type CallResult struct {
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash"`
	BlockHash   string `json:"block_hash"`
	BlockHeight int64  `json:"block_height"`
}

// Succeeded reports whether the call applied entirely.
func (r CallResult) Succeeded() bool {
	return r.Status == domain.StatusSucceedEntirely
}

// Contract is the set of impure circuits of the deployed contract. Amounts
// are atomic units, ids are 32-byte padded identifiers.
type Contract interface {
	DepositToCollateralPool(ctx context.Context, id PositionID, amount uint64) (CallResult, error)
	MintSUSD(ctx context.Context, id PositionID, amount uint64) (CallResult, error)
	Repay(ctx context.Context, id PositionID, amount uint64) (CallResult, error)
	WithdrawCollateral(ctx context.Context, id PositionID, amount uint64) (CallResult, error)
	DepositToStakePool(ctx context.Context, amount uint64) (CallResult, error)
	WithdrawStake(ctx context.Context, amount uint64) (CallResult, error)
	WithdrawStakeReward(ctx context.Context, amount uint64) (CallResult, error)
	CheckStakeReward(ctx context.Context) (CallResult, error)
	ResetProtocolConfig(ctx context.Context, params domain.ProtocolParameters) (CallResult, error)
	AddAdmin(ctx context.Context, pubKey []byte) (CallResult, error)
	AddTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error)
	RemoveTrustedOracle(ctx context.Context, pubKey []byte) (CallResult, error)
	LiquidateDebtPosition(ctx context.Context, collateral uint64, id PositionID, debt uint64) (CallResult, error)
}

// LedgerReader reads public ledger state. Reads may lag the chain.
type LedgerReader interface {
	ReadPosition(ctx context.Context, id PositionID) (domain.Position, error)
	ReadProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error)
}

// Backend is what a Service needs from a concrete connection.
type Backend interface {
	Contract
	LedgerReader
	Close() error
}
