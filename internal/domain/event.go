package domain

import "time"

// MonitorState is the position monitor's finite state.
type MonitorState string

const (
	MonitorIdle        MonitorState = "idle"
	MonitorWatching    MonitorState = "watching"
	MonitorLiquidating MonitorState = "liquidating"
	MonitorStopped     MonitorState = "stopped"
)

// MonitorEventType classifies monitor events.
type MonitorEventType string

const (
	EventStateChange MonitorEventType = "state_change"
	EventHealthy     MonitorEventType = "healthy"
	EventAtRisk      MonitorEventType = "at_risk"
	EventLiquidation MonitorEventType = "liquidation"
	EventTickError   MonitorEventType = "tick_error"
)

// MonitorEvent is emitted by a position monitor for observers.
type MonitorEvent struct {
	Type        MonitorEventType `json:"type"`
	PositionID  string           `json:"position_id"`
	State       MonitorState     `json:"state"`
	HealthRatio float64          `json:"health_ratio,omitempty"`
	Price       float64          `json:"price,omitempty"`
	RoundID     int64            `json:"round_id,omitempty"`
	Outcome     string           `json:"outcome,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	At          time.Time        `json:"at"`
}

// OnchainEvent names a broadcast transaction kind.
type OnchainEvent string

const (
	OnchainDeposit              OnchainEvent = "Deposit"
	OnchainCollateralWithdrawal OnchainEvent = "Collateral_Withdrawal"
	OnchainMint                 OnchainEvent = "Mint"
	OnchainStake                OnchainEvent = "Stake"
	OnchainUnstake              OnchainEvent = "Unstake"
	OnchainRepay                OnchainEvent = "Repay"
	OnchainClaim                OnchainEvent = "Claim"
	OnchainLiquidation          OnchainEvent = "Liquidation"
)

// TxBroadcast records a broadcast transaction.
type TxBroadcast struct {
	ID           int64
	User         string
	OnchainEvent OnchainEvent
	Amount       int64
	CoinType     string
	TxHash       string
	CreatedAt    time.Time
}

// BotStatus is a summary of the process's current operational state.
type BotStatus struct {
	Mode           string  `json:"mode"`
	ContractState  string  `json:"contract_state"`
	ContractAddr   string  `json:"contract_address,omitempty"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	ActiveMonitors int     `json:"active_monitors"`
	OracleAsset    string  `json:"oracle_asset,omitempty"`
	OraclePrice    float64 `json:"oracle_price,omitempty"`
	OracleRound    int64   `json:"oracle_round,omitempty"`
}
