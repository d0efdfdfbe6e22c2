package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
)

// OperationResult is the uniform envelope orchestrator operations return.
// Venue and transport failures land here as Success=false with a message;
// only caller mistakes (bad input, unknown symbol) surface as Go errors.
type OperationResult struct {
	Success bool
	Message string
	Details any
}

// TradePlan is the lot-size-adjusted opening plan for one delta-neutral
// position. CapitalToDeploy is what the caller asked for; the quantities
// are what the venue filters allow.
type TradePlan struct {
	Symbol           string
	CapitalToDeploy  decimal.Decimal
	StepSize         string
	FinalPerpQty     decimal.Decimal
	ExistingSpotQty  decimal.Decimal
	SpotPrice        decimal.Decimal
	SpotQtyToBuy     decimal.Decimal
	SpotCapitalToBuy decimal.Decimal
}

// ExecutionReport pairs the plan with the orders it produced. A nil
// SpotOrder means the spot leg was skipped because existing holdings
// already covered it.
type ExecutionReport struct {
	Plan      TradePlan
	PerpOrder *core.Order
	SpotOrder *core.Order
}

// CloseReport carries both closing orders.
type CloseReport struct {
	Symbol    string
	PerpQty   decimal.Decimal
	SpotQty   decimal.Decimal
	PerpOrder *core.Order
	SpotOrder *core.Order
}

// RebalanceReport records the 50/50 USDT rebalance decision and, when a
// transfer was needed, its outcome.
type RebalanceReport struct {
	CurrentSpotUSDT   decimal.Decimal
	CurrentPerpUSDT   decimal.Decimal
	TotalUSDT         decimal.Decimal
	TargetEach        decimal.Decimal
	TransferNeeded    bool
	TransferAmount    decimal.Decimal
	TransferDirection core.TransferDirection
	Transfer          *core.TransferResult
}

// FundingReport is the funding earned by the current position on one
// symbol since its reconstructed opening time.
type FundingReport struct {
	Symbol            string
	PositionAmt       decimal.Decimal
	PositionNotional  decimal.Decimal
	SpotBalance       decimal.Decimal
	EffectiveValueUSD decimal.Decimal
	PositionOpenedAt  time.Time
	PaymentCount      int
	TotalFunding      decimal.Decimal
	Asset             string

	// FundingPct is TotalFunding over EffectiveValueUSD in percent.
	// FeeCoverageProgress is FundingPct over the round-trip fee threshold,
	// zero until funding turns positive.
	FundingPct          decimal.Decimal
	FeeCoverageProgress decimal.Decimal
}

// PositionPnL is one row of the health report's per-position summary.
type PositionPnL struct {
	Symbol           string
	PositionValueUSD decimal.Decimal
	SpotValueUSD     decimal.Decimal
	ImbalancePct     decimal.Decimal

	// PnLPct is unrealized profit over position value; invalid when the
	// position has no value to measure against.
	PnLPct decimal.NullDecimal
}

// HealthReport is the outcome of a portfolio-wide health check.
type HealthReport struct {
	Warnings        []string
	Criticals       []string
	DNPositionCount int
	Positions       []PositionPnL
}
