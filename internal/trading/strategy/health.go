package strategy

import (
	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
)

// LiquidationRisk grades how close the perp leg sits to liquidation.
type LiquidationRisk string

const (
	RiskNone     LiquidationRisk = "NONE"
	RiskLow      LiquidationRisk = "LOW"
	RiskMedium   LiquidationRisk = "MEDIUM"
	RiskHigh     LiquidationRisk = "HIGH"
	RiskCritical LiquidationRisk = "CRITICAL"
)

var (
	liqCriticalBufferPct = decimal.NewFromInt(1)
	liqHighBufferPct     = decimal.NewFromInt(5)
	liqMediumBufferPct   = decimal.NewFromInt(10)
)

// PositionHealth is the verdict on one hedged pair.
type PositionHealth struct {
	Symbol               string
	NetDelta             decimal.Decimal
	TotalSize            decimal.Decimal
	ImbalancePct         decimal.Decimal
	IsDeltaNeutral       bool
	PositionValueUSD     decimal.Decimal
	LiquidationBufferPct decimal.NullDecimal
	Risk                 LiquidationRisk
	Reasons              []string
}

// CheckPositionHealth grades one perp position against its spot leg. The
// liquidation buffer is |liquidationPrice - markPrice| relative to the
// mark; a short's liquidation price sits above the mark. Positions without
// a liquidation price carry no risk grade.
func CheckPositionHealth(pos core.PerpPosition, spotQty decimal.Decimal, leverage int) PositionHealth {
	netDelta := spotQty.Add(pos.PositionAmt)
	totalSize := decimal.Max(spotQty.Abs(), pos.PositionAmt.Abs())
	imbalance := ImbalancePct(netDelta, totalSize)

	health := PositionHealth{
		Symbol:           pos.Symbol,
		NetDelta:         netDelta,
		TotalSize:        totalSize,
		ImbalancePct:     imbalance,
		IsDeltaNeutral:   imbalance.LessThanOrEqual(ImbalanceThresholdPct),
		PositionValueUSD: pos.PositionAmt.Abs().Mul(pos.MarkPrice),
		Risk:             RiskNone,
	}

	hasPosition := pos.PositionAmt.Abs().GreaterThan(positionEpsilon)
	if hasPosition && !pos.LiquidationPrice.IsZero() && !pos.MarkPrice.IsZero() {
		buffer := pos.LiquidationPrice.Sub(pos.MarkPrice).Abs().Div(pos.MarkPrice).Mul(hundred)
		health.LiquidationBufferPct = decimal.NewNullDecimal(buffer)
		switch {
		case buffer.LessThan(liqCriticalBufferPct):
			health.Risk = RiskCritical
		case buffer.LessThan(liqHighBufferPct):
			health.Risk = RiskHigh
		case buffer.LessThan(liqMediumBufferPct):
			health.Risk = RiskMedium
		default:
			health.Risk = RiskLow
		}
	}

	if leverage != 1 {
		health.Risk = RiskCritical
		health.Reasons = append(health.Reasons, "leverage violates delta-neutral contract")
	}
	return health
}

// RebalanceAction is the orchestrator-facing verdict for one position.
type RebalanceAction string

const (
	ActionHold          RebalanceAction = "HOLD"
	ActionRebalance     RebalanceAction = "REBALANCE"
	ActionClosePosition RebalanceAction = "CLOSE_POSITION"
)

// DetermineRebalanceAction ranks liquidation risk above imbalance: a
// position near liquidation is closed outright, never rebalanced.
func DetermineRebalanceAction(health PositionHealth) RebalanceAction {
	if health.Risk == RiskHigh || health.Risk == RiskCritical {
		return ActionClosePosition
	}
	if health.ImbalancePct.GreaterThan(ImbalanceThresholdPct) {
		return ActionRebalance
	}
	return ActionHold
}
