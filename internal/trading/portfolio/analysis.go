package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"funding_harvester/internal/core"
	"funding_harvester/internal/trading/strategy"
	"funding_harvester/pkg/telemetry"
)

// tradeWalkTolerance bounds the reconstruction match between accumulated
// trade quantities and the live position amount.
var tradeWalkTolerance = decimal.New(1, -6)

// tradeWindowLimit is the venue's maximum trade-history page. Positions
// opened before the oldest trade in the window cannot be attributed.
const tradeWindowLimit = 1000

// PerformFundingAnalysis reports the funding income the open position on
// symbol has accumulated since it was opened. The opening time is not
// stored anywhere on the venue; it is reconstructed by walking recent
// trades backwards until their signed quantities reproduce the live
// position amount.
func (o *Orchestrator) PerformFundingAnalysis(ctx context.Context, symbol string) (OperationResult, error) {
	var (
		account  *core.PerpAccount
		balances []core.SpotBalance
		ticker   *core.BookTicker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		account, err = o.perp.GetAccountInfo(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		balances, err = o.spot.GetAccountBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		ticker, err = o.perp.GetBookTicker(gctx, symbol)
		return err
	})
	if err := g.Wait(); err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("failed to fetch position data: %v", err)}, nil
	}

	var position *core.PerpPosition
	for i := range account.Positions {
		if account.Positions[i].Symbol == symbol && !account.Positions[i].PositionAmt.IsZero() {
			position = &account.Positions[i]
			break
		}
	}
	if position == nil {
		return OperationResult{Message: fmt.Sprintf("no open perp position for %s", symbol)}, nil
	}

	// Value the book at the bid: that is what the spot leg would fetch and
	// what the short would cost to buy back, so it understates rather than
	// flatters the funding percentage.
	mark := ticker.BidPrice

	baseAsset := strings.TrimSuffix(symbol, "USDT")
	spotFree := decimal.Zero
	for _, b := range balances {
		if b.Asset == baseAsset {
			spotFree = b.Free
			break
		}
	}

	notional := position.PositionAmt.Abs().Mul(mark)
	effectiveValue := spotFree.Mul(mark).Add(notional).Add(position.UnrealizedProfit)

	trades, err := o.perp.GetUserTrades(ctx, symbol, tradeWindowLimit)
	if err != nil {
		return OperationResult{Message: fmt.Sprintf("failed to fetch trade history: %v", err)}, nil
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Time.Before(trades[j].Time) })

	openedAt, ok := findOpeningTime(trades, position.PositionAmt)
	if !ok {
		return OperationResult{Message: fmt.Sprintf("cannot attribute funding: %s position older than trade window (%d trades)", symbol, tradeWindowLimit)}, nil
	}

	payments, err := o.perp.GetIncomeHistory(ctx, core.IncomeQuery{
		Symbol:     symbol,
		IncomeType: core.IncomeTypeFundingFee,
		StartTime:  openedAt,
		Limit:      tradeWindowLimit,
	})
	if err != nil {
		return OperationResult{Message: fmt.Sprintf("failed to fetch funding payments: %v", err)}, nil
	}

	totalFunding := decimal.Zero
	asset := "USDT"
	for i, p := range payments {
		totalFunding = totalFunding.Add(p.Income)
		if i == 0 && p.Asset != "" {
			asset = p.Asset
		}
	}

	fundingPct := decimal.Zero
	if !effectiveValue.IsZero() {
		fundingPct = totalFunding.Div(effectiveValue).Mul(hundred)
	}
	feeCoverage := decimal.Zero
	if fundingPct.IsPositive() {
		feeCoverage = fundingPct.Div(strategy.FeeCoverageThresholdPct).Mul(hundred)
	}

	report := FundingReport{
		Symbol:              symbol,
		PositionAmt:         position.PositionAmt,
		PositionNotional:    notional,
		SpotBalance:         spotFree,
		EffectiveValueUSD:   effectiveValue,
		PositionOpenedAt:    openedAt,
		PaymentCount:        len(payments),
		TotalFunding:        totalFunding,
		Asset:               asset,
		FundingPct:          fundingPct,
		FeeCoverageProgress: feeCoverage,
	}
	telemetry.GetGlobalMetrics().SetFundingIncome(symbol, totalFunding.InexactFloat64())

	msg := fmt.Sprintf("%s: %d funding payments totalling %s %s since %s",
		symbol, len(payments), totalFunding, asset, openedAt.UTC().Format(time.RFC3339))
	return OperationResult{Success: true, Message: msg, Details: report}, nil
}

// findOpeningTime walks trades newest-first, accumulating signed
// quantities until they reproduce the live position amount; that trade
// opened the position. A partial close inside the window whose fills
// happen to net out can misattribute the boundary.
func findOpeningTime(trades []core.UserTrade, positionAmt decimal.Decimal) (time.Time, bool) {
	running := decimal.Zero
	for i := len(trades) - 1; i >= 0; i-- {
		running = running.Add(trades[i].SignedQty())
		if running.Sub(positionAmt).Abs().LessThan(tradeWalkTolerance) {
			return trades[i].Time, true
		}
	}
	return time.Time{}, false
}

// PerformHealthCheckAnalysis grades every hedged pair in a fresh snapshot
// against the operational limits: spot legs too thin to rebalance or
// close, and unrealized losses deep enough to demand attention.
func (o *Orchestrator) PerformHealthCheckAnalysis(ctx context.Context) (OperationResult, error) {
	snap, err := o.GetComprehensivePortfolioData(ctx)
	if err != nil {
		return OperationResult{Message: fmt.Sprintf("failed to fetch portfolio snapshot: %v", err)}, nil
	}

	symbols := make([]string, 0, len(snap.AnalyzedPositions))
	for symbol, pos := range snap.AnalyzedPositions {
		if pos.PerpQty.IsZero() {
			// Spot-only rows have no pair to grade.
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var report HealthReport
	for _, symbol := range symbols {
		pos := snap.AnalyzedPositions[symbol]
		report.DNPositionCount++

		spotValue := pos.SpotQty.Mul(pos.MarkPrice)
		row := PositionPnL{
			Symbol:           symbol,
			PositionValueUSD: pos.PositionValueUSD,
			SpotValueUSD:     spotValue,
			ImbalancePct:     pos.ImbalancePct,
		}
		if pos.PositionValueUSD.IsPositive() {
			row.PnLPct = decimal.NewNullDecimal(pos.UnrealizedProfit.Div(pos.PositionValueUSD).Mul(hundred))
		}
		report.Positions = append(report.Positions, row)

		switch {
		case spotValue.LessThan(strategy.SpotCriticalUSD):
			report.Criticals = append(report.Criticals,
				fmt.Sprintf("%s: spot leg worth $%s is below $%s, impossible to close cleanly", symbol, spotValue.StringFixed(2), strategy.SpotCriticalUSD))
		case spotValue.LessThan(strategy.SpotWarnUSD):
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: spot leg worth $%s is below $%s, rebalancing advised", symbol, spotValue.StringFixed(2), strategy.SpotWarnUSD))
		}

		if row.PnLPct.Valid {
			pnl := row.PnLPct.Decimal
			switch {
			case pnl.LessThan(strategy.PnLCriticalPct):
				report.Criticals = append(report.Criticals,
					fmt.Sprintf("%s: unrealized PnL %s%% is below %s%%", symbol, pnl.StringFixed(2), strategy.PnLCriticalPct))
			case pnl.LessThan(strategy.PnLWarnPct):
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s: unrealized PnL %s%% is below %s%%", symbol, pnl.StringFixed(2), strategy.PnLWarnPct))
			}
		}
	}

	telemetry.GetGlobalMetrics().SetHealthCounts(int64(len(report.Warnings)), int64(len(report.Criticals)))

	msg := fmt.Sprintf("%d delta-neutral positions checked: %d warnings, %d criticals",
		report.DNPositionCount, len(report.Warnings), len(report.Criticals))
	return OperationResult{Success: true, Message: msg, Details: report}, nil
}
