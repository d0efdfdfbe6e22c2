package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"funding_harvester/internal/core"
	"funding_harvester/internal/trading/strategy"
	"funding_harvester/pkg/concurrency"
	apperrors "funding_harvester/pkg/errors"
	"funding_harvester/pkg/telemetry"
)

var (
	// minSpotNotionalUSD is the dollar floor under which the spot buy is
	// skipped; existing holdings already cover the leg.
	minSpotNotionalUSD = decimal.NewFromInt(1)

	// transferDeadBandUSD is the wallet imbalance tolerated before moving
	// USDT, keeping back-to-back rebalances idempotent.
	transferDeadBandUSD = decimal.NewFromInt(1)

	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// ValidatePreconditions checks that both wallets carry enough USDT for a
// position of minCapitalUSD on symbol and that the symbol's leverage is
// already 1x. Shortfalls come back as Success=false with the reasons
// listed; only a malformed request is a Go error.
func (o *Orchestrator) ValidatePreconditions(ctx context.Context, symbol string, minCapitalUSD decimal.Decimal) (OperationResult, error) {
	if !minCapitalUSD.IsPositive() {
		return OperationResult{}, apperrors.ValidationError{Field: "minCapitalUSD", Value: minCapitalUSD.String(), Message: "must be positive"}
	}

	var (
		balances []core.SpotBalance
		account  *core.PerpAccount
		leverage int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = o.spot.GetAccountBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		account, err = o.perp.GetAccountInfo(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		leverage, err = o.perp.GetLeverage(gctx, symbol)
		return err
	})
	if err := g.Wait(); err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("precondition fetch failed: %v", err)}, nil
	}

	spotUSDT := decimal.Zero
	for _, b := range balances {
		if b.Asset == "USDT" {
			spotUSDT = b.Free
			break
		}
	}
	perpUSDT := account.Asset("USDT").AvailableBalance

	if errs := strategy.ValidateStrategyPreconditions(spotUSDT, perpUSDT, minCapitalUSD, leverage); len(errs) > 0 {
		reasons := make([]string, len(errs))
		for i, err := range errs {
			reasons[i] = err.Error()
		}
		return OperationResult{Message: strings.Join(reasons, "; ")}, nil
	}
	return OperationResult{Success: true, Message: fmt.Sprintf("preconditions met for %s with %s USD", symbol, minCapitalUSD)}, nil
}

// PrepareAndExecuteDNPosition opens a delta-neutral position on symbol: a
// spot holding hedged one-for-one by a perp short, splitting capitalUSD
// evenly across the legs. With dryRun set it stops after planning and
// returns the TradePlan untraded.
//
// Leverage is forced to 1x before any market data is trusted, and no order
// goes out unless every pre-trade fetch succeeded. The two legs execute
// concurrently; if one fails the other is NOT rolled back, the result
// reports both outcomes and the operator resolves the remainder.
func (o *Orchestrator) PrepareAndExecuteDNPosition(ctx context.Context, symbol string, capitalUSD decimal.Decimal, dryRun bool) (OperationResult, error) {
	if !capitalUSD.IsPositive() {
		return OperationResult{}, apperrors.ValidationError{Field: "capitalUSD", Value: capitalUSD.String(), Message: "must be positive"}
	}

	account, err := o.perp.GetAccountInfo(ctx)
	if err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("failed to fetch perp account: %v", err)}, nil
	}
	for _, pos := range account.Positions {
		if pos.Symbol == symbol && pos.IsShort() {
			return OperationResult{Message: fmt.Sprintf("already have a short position on %s, refusing to stack", symbol)}, nil
		}
	}

	levOK, err := o.perp.SetLeverage(ctx, symbol, 1)
	if err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("failed to set 1x leverage on %s: %v", symbol, err)}, nil
	}
	if !levOK {
		return OperationResult{Message: fmt.Sprintf("venue did not confirm 1x leverage on %s", symbol)}, nil
	}

	var (
		ticker   *core.BookTicker
		info     *core.SymbolInfo
		balances []core.SpotBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticker, err = o.spot.GetBookTicker(gctx, symbol)
		return err
	})
	g.Go(func() error {
		var err error
		info, err = o.perp.GetSymbolInfo(gctx, symbol, false)
		return err
	})
	g.Go(func() error {
		var err error
		balances, err = o.spot.GetAccountBalances(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("pre-trade fetch failed, nothing ordered: %v", err)}, nil
	}

	// The long leg buys at the ask; sizing against the bid is the
	// conservative side.
	spotPrice := ticker.BidPrice

	baseAsset := info.BaseAsset
	if baseAsset == "" {
		baseAsset = strings.TrimSuffix(symbol, "USDT")
	}
	existingSpotQty := decimal.Zero
	for _, b := range balances {
		if b.Asset == baseAsset {
			existingSpotQty = b.Total()
			break
		}
	}

	size, err := strategy.CalculatePositionSize(capitalUSD, spotPrice, existingSpotQty.Mul(spotPrice))
	if err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("position sizing failed: %v", err)}, nil
	}

	finalPerpQty := info.TruncateQty(size.TotalPerpQuantityToShort)
	if !finalPerpQty.IsPositive() {
		return OperationResult{Message: fmt.Sprintf("capital %s USD yields zero %s after step-size %s truncation", capitalUSD, symbol, info.StepSize)}, nil
	}

	spotQtyToBuy := decimal.Max(decimal.Zero, finalPerpQty.Sub(existingSpotQty))
	spotCapitalToBuy := spotQtyToBuy.Mul(spotPrice)

	plan := TradePlan{
		Symbol:           symbol,
		CapitalToDeploy:  capitalUSD,
		StepSize:         info.StepSize,
		FinalPerpQty:     finalPerpQty,
		ExistingSpotQty:  existingSpotQty,
		SpotPrice:        spotPrice,
		SpotQtyToBuy:     spotQtyToBuy,
		SpotCapitalToBuy: spotCapitalToBuy,
	}
	if dryRun {
		return OperationResult{Success: true, Message: fmt.Sprintf("dry run: would short %s %s and buy %s USD spot", finalPerpQty, symbol, spotCapitalToBuy.StringFixed(2)), Details: plan}, nil
	}

	report := ExecutionReport{Plan: plan}
	buySpot := spotCapitalToBuy.GreaterThan(minSpotNotionalUSD)
	legErrs := concurrency.Parallel(ctx,
		func(ctx context.Context) error {
			order, err := o.perp.PlaceMarket(ctx, symbol, finalPerpQty, core.SideSell)
			if err != nil {
				return fmt.Errorf("perp leg: %w", err)
			}
			report.PerpOrder = order
			telemetry.GetGlobalMetrics().RecordOrderPlaced(ctx, string(core.MarketPerp), core.SideSell)
			return nil
		},
		func(ctx context.Context) error {
			if !buySpot {
				return nil
			}
			order, err := o.spot.PlaceBuyMarketQuote(ctx, symbol, spotCapitalToBuy)
			if err != nil {
				return fmt.Errorf("spot leg: %w", err)
			}
			report.SpotOrder = order
			telemetry.GetGlobalMetrics().RecordOrderPlaced(ctx, string(core.MarketSpot), core.SideBuy)
			return nil
		},
	)
	if err := errors.Join(legErrs...); err != nil {
		o.log.Error("Delta-neutral open incomplete", "symbol", symbol, "error", err)
		return OperationResult{Message: fmt.Sprintf("execution incomplete, no rollback attempted: %v", err), Details: report}, nil
	}

	msg := fmt.Sprintf("opened delta-neutral position on %s: short %s", symbol, finalPerpQty)
	if buySpot {
		msg += fmt.Sprintf(", bought %s USD spot", spotCapitalToBuy.StringFixed(2))
	} else {
		msg += ", existing spot covers the long leg"
	}
	o.log.Info("Delta-neutral position opened", "symbol", symbol, "perp_qty", finalPerpQty.String(), "spot_capital", spotCapitalToBuy.String())
	return OperationResult{Success: true, Message: msg, Details: report}, nil
}

// ExecuteDNPositionClose unwinds both legs of the pair on symbol at
// market: a reduce-only perp close against the entire spot holding. Pairs
// missing either leg are refused, closing one side alone would leave a
// directional book.
func (o *Orchestrator) ExecuteDNPositionClose(ctx context.Context, symbol string) (OperationResult, error) {
	snap, err := o.GetComprehensivePortfolioData(ctx)
	if err != nil {
		return OperationResult{Message: fmt.Sprintf("refusing to close on a partial snapshot: %v", err)}, nil
	}
	pos := snap.Position(symbol)
	if pos == nil || pos.PerpQty.IsZero() || !pos.SpotQty.IsPositive() {
		return OperationResult{Message: fmt.Sprintf("%s is not a valid delta-neutral pair: need both an open perp position and a spot holding", symbol)}, nil
	}

	sideToClose := core.SideSell
	if pos.PerpQty.IsNegative() {
		sideToClose = core.SideBuy
	}

	report := CloseReport{Symbol: symbol, PerpQty: pos.PerpQty, SpotQty: pos.SpotQty}
	legErrs := concurrency.Parallel(ctx,
		func(ctx context.Context) error {
			order, err := o.perp.ClosePosition(ctx, symbol, pos.PerpQty.Abs(), sideToClose)
			if err != nil {
				return fmt.Errorf("perp leg: %w", err)
			}
			report.PerpOrder = order
			telemetry.GetGlobalMetrics().RecordOrderPlaced(ctx, string(core.MarketPerp), sideToClose)
			return nil
		},
		func(ctx context.Context) error {
			order, err := o.spot.PlaceSellMarketBase(ctx, symbol, pos.SpotQty)
			if err != nil {
				return fmt.Errorf("spot leg: %w", err)
			}
			report.SpotOrder = order
			telemetry.GetGlobalMetrics().RecordOrderPlaced(ctx, string(core.MarketSpot), core.SideSell)
			return nil
		},
	)
	if err := errors.Join(legErrs...); err != nil {
		o.log.Error("Delta-neutral close incomplete", "symbol", symbol, "error", err)
		return OperationResult{Message: fmt.Sprintf("close incomplete, no rollback attempted: %v", err), Details: report}, nil
	}
	o.log.Info("Delta-neutral position closed", "symbol", symbol, "perp_qty", pos.PerpQty.String(), "spot_qty", pos.SpotQty.String())
	return OperationResult{Success: true, Message: fmt.Sprintf("closed delta-neutral position on %s", symbol), Details: report}, nil
}

// RebalanceUSDT5050 levels USDT between the spot and perp wallets so both
// legs of the next position can be funded evenly. Imbalances inside the
// dead band are left alone.
func (o *Orchestrator) RebalanceUSDT5050(ctx context.Context) (OperationResult, error) {
	var (
		balances []core.SpotBalance
		account  *core.PerpAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = o.spot.GetAccountBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		account, err = o.perp.GetAccountInfo(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("failed to fetch wallet balances: %v", err)}, nil
	}

	spotUSDT := decimal.Zero
	for _, b := range balances {
		if b.Asset == "USDT" {
			spotUSDT = b.Total()
			break
		}
	}
	perpUSDT := account.Asset("USDT").WalletBalance

	total := spotUSDT.Add(perpUSDT)
	target := total.Div(two)
	delta := target.Sub(spotUSDT)

	report := RebalanceReport{
		CurrentSpotUSDT: spotUSDT,
		CurrentPerpUSDT: perpUSDT,
		TotalUSDT:       total,
		TargetEach:      target,
	}
	if delta.Abs().LessThanOrEqual(transferDeadBandUSD) {
		return OperationResult{Success: true, Message: "wallets already balanced within $1, no transfer needed", Details: report}, nil
	}

	direction := core.TransferSpotToPerp
	if delta.IsPositive() {
		direction = core.TransferPerpToSpot
	}
	amount := delta.Abs().Round(6)
	report.TransferNeeded = true
	report.TransferAmount = amount
	report.TransferDirection = direction

	transfer, err := o.perp.Transfer(ctx, "USDT", amount, direction)
	if err != nil {
		if callerFault(err) {
			return OperationResult{}, err
		}
		return OperationResult{Message: fmt.Sprintf("transfer failed: %v", err), Details: report}, nil
	}
	report.Transfer = transfer
	if !transfer.Succeeded() {
		return OperationResult{Message: fmt.Sprintf("venue reported transfer status %q", transfer.Status), Details: report}, nil
	}
	telemetry.GetGlobalMetrics().RecordTransfer(ctx, string(direction))
	o.log.Info("USDT wallets rebalanced", "amount", amount.String(), "direction", string(direction))
	return OperationResult{Success: true, Message: fmt.Sprintf("transferred %s USDT %s", amount, strings.ToLower(strings.ReplaceAll(string(direction), "_", " "))), Details: report}, nil
}
