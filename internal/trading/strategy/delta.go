// Package strategy is the computational core of the delta-neutral funding
// harvest: delta accounting, position sizing, health grading, and
// funding-rate screening. Every function is deterministic and performs no
// I/O; the orchestrator feeds it venue snapshots and acts on the results.
package strategy

import (
	"strings"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
)

// Tunable thresholds for the delta-neutral book.
var (
	// ImbalanceThresholdPct is the net delta, as a percent of the larger
	// leg, above which a position no longer counts as delta neutral.
	ImbalanceThresholdPct = decimal.NewFromFloat(2.0)

	// SpotWarnUSD is the spot-leg value below which rebalancing is advised.
	SpotWarnUSD = decimal.NewFromInt(10)

	// SpotCriticalUSD is the spot-leg value below which the pair can no
	// longer be closed cleanly.
	SpotCriticalUSD = decimal.NewFromInt(5)

	// PnLWarnPct and PnLCriticalPct grade unrealized perp loss against
	// position value.
	PnLWarnPct     = decimal.NewFromInt(-25)
	PnLCriticalPct = decimal.NewFromInt(-50)

	// FeeCoverageThresholdPct is the round-trip fee cost, in percent of
	// notional, that accumulated funding has to out-earn.
	FeeCoverageThresholdPct = decimal.NewFromFloat(0.135)
)

// FundingPeriodsPerDay reflects the venue's 8-hour funding cycle.
const FundingPeriodsPerDay = 3

var (
	// aprMultiplier converts a single funding rate into an annualized
	// percentage: periods per day times 365 days times 100.
	aprMultiplier = decimal.NewFromInt(FundingPeriodsPerDay * 365 * 100)

	// positionEpsilon is the dust floor below which a perp position is
	// treated as flat.
	positionEpsilon = decimal.New(1, -9)

	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// AnalyzePositionData joins live perp positions with their spot legs and
// returns the delta accounting keyed by perp symbol. Positions at or below
// the dust floor are dropped. The base asset comes from the perp symbol
// map; unknown symbols fall back to stripping the USDT suffix.
func AnalyzePositionData(perpPositions []core.PerpPosition, spotBalances []core.SpotBalance, perpSymbols map[string]core.SymbolInfo) map[string]*core.AnalyzedPosition {
	spotByAsset := make(map[string]decimal.Decimal, len(spotBalances))
	for _, b := range spotBalances {
		spotByAsset[b.Asset] = b.Total()
	}

	analyzed := make(map[string]*core.AnalyzedPosition)
	for _, pos := range perpPositions {
		if pos.PositionAmt.Abs().LessThanOrEqual(positionEpsilon) {
			continue
		}
		baseAsset := strings.TrimSuffix(pos.Symbol, "USDT")
		if info, ok := perpSymbols[pos.Symbol]; ok && info.BaseAsset != "" {
			baseAsset = info.BaseAsset
		}
		analyzed[pos.Symbol] = analyzePair(baseAsset, spotByAsset[baseAsset], pos)
	}
	return analyzed
}

func analyzePair(baseAsset string, spotQty decimal.Decimal, pos core.PerpPosition) *core.AnalyzedPosition {
	netDelta := spotQty.Add(pos.PositionAmt)
	totalSize := decimal.Max(spotQty.Abs(), pos.PositionAmt.Abs())
	imbalance := ImbalancePct(netDelta, totalSize)
	return &core.AnalyzedPosition{
		Symbol:           pos.Symbol,
		BaseAsset:        baseAsset,
		SpotQty:          spotQty,
		PerpQty:          pos.PositionAmt,
		NetDelta:         netDelta,
		TotalSize:        totalSize,
		ImbalancePct:     imbalance,
		IsDeltaNeutral:   imbalance.LessThanOrEqual(ImbalanceThresholdPct),
		MarkPrice:        pos.MarkPrice,
		PositionValueUSD: pos.PositionAmt.Abs().Mul(pos.MarkPrice),
		UnrealizedProfit: pos.UnrealizedProfit,
		LiquidationPrice: pos.LiquidationPrice,
		Leverage:         pos.Leverage,
	}
}

// ImbalancePct returns |netDelta| as a percentage of the larger leg. A book
// with no size has no imbalance.
func ImbalancePct(netDelta, totalSize decimal.Decimal) decimal.Decimal {
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return netDelta.Abs().Div(totalSize).Mul(hundred)
}

// SpotOnlyPosition synthesizes the accounting row for a spot holding with
// no perp leg: fully imbalanced and never delta neutral.
func SpotOnlyPosition(asset string, qty, price decimal.Decimal) *core.AnalyzedPosition {
	return &core.AnalyzedPosition{
		Symbol:           asset + "USDT",
		BaseAsset:        asset,
		SpotQty:          qty,
		PerpQty:          decimal.Zero,
		NetDelta:         qty,
		TotalSize:        qty.Abs(),
		ImbalancePct:     hundred,
		IsDeltaNeutral:   false,
		MarkPrice:        price,
		PositionValueUSD: qty.Mul(price),
	}
}
