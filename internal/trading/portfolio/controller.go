// Package portfolio implements the high-level operations of the funding
// harvester: snapshot assembly, funding-rate discovery, position open and
// close, wallet rebalancing, and the funding and health analyses. Every
// operation works on fresh venue data; the package keeps no position state
// between calls.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
	"funding_harvester/internal/trading/strategy"
	"funding_harvester/pkg/concurrency"
	apperrors "funding_harvester/pkg/errors"
	"funding_harvester/pkg/retry"
	"funding_harvester/pkg/telemetry"
)

// Orchestrator composes the two venue surfaces with the strategy engine.
type Orchestrator struct {
	spot   core.ISpotVenue
	perp   core.IPerpVenue
	pool   *concurrency.WorkerPool
	screen strategy.OpportunityScreen
	log    core.ILogger
}

// NewOrchestrator wires the venue clients to the operation set. The pool
// bounds the wide fan-outs (per-position and per-pair requests); a nil pool
// runs them unbounded.
func NewOrchestrator(spot core.ISpotVenue, perp core.IPerpVenue, pool *concurrency.WorkerPool, screen strategy.OpportunityScreen, logger core.ILogger) *Orchestrator {
	return &Orchestrator{
		spot:   spot,
		perp:   perp,
		pool:   pool,
		screen: screen,
		log:    logger.WithField("component", "portfolio_orchestrator"),
	}
}

// GetComprehensivePortfolioData assembles the canonical portfolio snapshot:
// perp account and positions with refreshed mark prices, spot balances
// valued in USD, and the per-symbol delta-neutral classification.
//
// A failed branch leaves its slot as the zero value and the snapshot is
// returned partial, together with the joined branch errors. The caller
// decides whether partial data is acceptable; read-only consumers usually
// render what arrived, trading operations must refuse. A transient venue
// failure retries the whole assembly once.
func (o *Orchestrator) GetComprehensivePortfolioData(ctx context.Context) (*core.PortfolioSnapshot, error) {
	start := time.Now()
	var snap *core.PortfolioSnapshot
	err := retry.Do(ctx, retry.SnapshotPolicy, apperrors.IsTransientStatus, func() error {
		var buildErr error
		snap, buildErr = o.buildSnapshot(ctx)
		return buildErr
	})
	telemetry.GetGlobalMetrics().RecordSnapshotDuration(ctx, time.Since(start).Seconds())
	if snap != nil {
		o.publishGauges(snap)
	}
	return snap, err
}

func (o *Orchestrator) buildSnapshot(ctx context.Context) (*core.PortfolioSnapshot, error) {
	var (
		perpAccount  *core.PerpAccount
		spotBalances []core.SpotBalance
		perpInfos    map[string]core.SymbolInfo
		spotInfos    map[string]core.SymbolInfo
	)
	branches := [...]string{"perp_account", "spot_balances", "perp_exchange_info", "spot_exchange_info"}
	errs := concurrency.Parallel(ctx,
		func(ctx context.Context) error {
			var err error
			perpAccount, err = o.perp.GetAccountInfo(ctx)
			return err
		},
		func(ctx context.Context) error {
			var err error
			spotBalances, err = o.spot.GetAccountBalances(ctx)
			return err
		},
		func(ctx context.Context) error {
			var err error
			perpInfos, err = o.perp.GetSymbolInfos(ctx)
			return err
		},
		func(ctx context.Context) error {
			var err error
			spotInfos, err = o.spot.GetSymbolInfos(ctx)
			return err
		},
	)
	for i, err := range errs {
		if err != nil {
			o.log.Warn("Portfolio snapshot branch failed", "branch", branches[i], "error", err)
			telemetry.GetGlobalMetrics().RecordSnapshotError(ctx, branches[i])
		}
	}

	snap := &core.PortfolioSnapshot{PerpAccount: perpAccount}

	var positions []core.PerpPosition
	if perpAccount != nil {
		positions = perpAccount.ActivePositions()
	}
	o.refreshMarkPrices(ctx, positions)
	snap.PerpPositions = positions

	balances := make([]core.SpotBalance, 0, len(spotBalances))
	for _, b := range spotBalances {
		if b.Total().IsZero() {
			continue
		}
		balances = append(balances, b)
	}
	o.priceSpotBalances(ctx, balances, spotInfos)
	snap.SpotBalances = balances

	snap.AnalyzedPositions = strategy.AnalyzePositionData(positions, balances, perpInfos)
	o.addSpotOnlyPositions(snap, balances)
	o.annotateCurrentAPR(ctx, snap)

	return snap, errors.Join(errs...)
}

// refreshMarkPrices replaces the account-snapshot mark with the live book
// mid for every open position. A failed ticker keeps the account mark.
func (o *Orchestrator) refreshMarkPrices(ctx context.Context, positions []core.PerpPosition) {
	if len(positions) == 0 {
		return
	}
	tasks := make([]concurrency.Task[*core.BookTicker], len(positions))
	for i := range positions {
		symbol := positions[i].Symbol
		tasks[i] = func(ctx context.Context) (*core.BookTicker, error) {
			return o.perp.GetBookTicker(ctx, symbol)
		}
	}
	for i, res := range concurrency.GatherOn(ctx, o.pool, tasks) {
		if res.Err != nil {
			o.log.Warn("Mark price refresh failed, keeping account mark",
				"symbol", positions[i].Symbol, "error", res.Err)
			continue
		}
		positions[i].MarkPrice = res.Value.Mid()
	}
}

// priceSpotBalances fills ValueUSD on every balance. Stablecoins are valued
// one-to-one; other assets are probed against their USDT spot pair and left
// at zero when no such pair trades.
func (o *Orchestrator) priceSpotBalances(ctx context.Context, balances []core.SpotBalance, spotInfos map[string]core.SymbolInfo) {
	if len(balances) == 0 {
		return
	}
	tasks := make([]concurrency.Task[decimal.Decimal], len(balances))
	for i := range balances {
		b := balances[i]
		tasks[i] = func(ctx context.Context) (decimal.Decimal, error) {
			if core.IsStablecoin(b.Asset) {
				return decimal.NewFromInt(1), nil
			}
			probeSymbol := b.Asset + "USDT"
			if spotInfos != nil {
				if _, listed := spotInfos[probeSymbol]; !listed {
					return decimal.Zero, nil
				}
			}
			ticker, err := o.spot.ProbeBookTicker(ctx, probeSymbol)
			if err != nil {
				// Unpriced assets carry zero value rather than failing the
				// snapshot.
				return decimal.Zero, nil
			}
			return ticker.Mid(), nil
		}
	}
	for i, res := range concurrency.GatherOn(ctx, o.pool, tasks) {
		balances[i].ValueUSD = balances[i].Total().Mul(res.Value)
	}
}

// addSpotOnlyPositions synthesizes an analyzed row for every priced
// non-stablecoin holding that has no perp leg, so unhedged inventory shows
// up in the same table as the pairs.
func (o *Orchestrator) addSpotOnlyPositions(snap *core.PortfolioSnapshot, balances []core.SpotBalance) {
	for _, b := range balances {
		if core.IsStablecoin(b.Asset) {
			continue
		}
		symbol := b.Asset + "USDT"
		if _, ok := snap.AnalyzedPositions[symbol]; ok {
			continue
		}
		total := b.Total()
		price := decimal.Zero
		if total.IsPositive() && !b.ValueUSD.IsZero() {
			price = b.ValueUSD.Div(total)
		}
		snap.AnalyzedPositions[symbol] = strategy.SpotOnlyPosition(b.Asset, total, price)
	}
}

// annotateCurrentAPR stamps each hedged pair with the APR implied by its
// latest funding rate.
func (o *Orchestrator) annotateCurrentAPR(ctx context.Context, snap *core.PortfolioSnapshot) {
	var symbols []string
	for symbol, pos := range snap.AnalyzedPositions {
		if !pos.PerpQty.IsZero() {
			symbols = append(symbols, symbol)
		}
	}
	if len(symbols) == 0 {
		return
	}
	sort.Strings(symbols)

	tasks := make([]concurrency.Task[[]core.FundingRateRecord], len(symbols))
	for i, symbol := range symbols {
		tasks[i] = func(ctx context.Context) ([]core.FundingRateRecord, error) {
			return o.perp.GetFundingRateHistory(ctx, symbol, 1)
		}
	}
	for i, res := range concurrency.GatherOn(ctx, o.pool, tasks) {
		if res.Err != nil {
			o.log.Warn("Funding rate annotation failed", "symbol", symbols[i], "error", res.Err)
			continue
		}
		if len(res.Value) == 0 {
			continue
		}
		apr := strategy.AnnualizedPct(res.Value[0].FundingRate)
		snap.AnalyzedPositions[symbols[i]].CurrentAPR = decimal.NewNullDecimal(apr)
	}
}

func (o *Orchestrator) publishGauges(snap *core.PortfolioSnapshot) {
	metrics := telemetry.GetGlobalMetrics()
	gauges := make([]telemetry.PositionGauge, 0, len(snap.AnalyzedPositions))
	for _, pos := range snap.AnalyzedPositions {
		gauges = append(gauges, telemetry.PositionGauge{
			Symbol:        pos.Symbol,
			NetDelta:      pos.NetDelta.InexactFloat64(),
			ImbalancePct:  pos.ImbalancePct.InexactFloat64(),
			UnrealizedPnL: pos.UnrealizedProfit.InexactFloat64(),
			ValueUSD:      pos.PositionValueUSD.InexactFloat64(),
		})
		if pos.CurrentAPR.Valid {
			metrics.SetFundingAPR(pos.Symbol, pos.CurrentAPR.Decimal.InexactFloat64())
		}
	}
	metrics.SetPortfolioGauges(gauges)
}

// tradableSymbols fetches the symbol lists of both surfaces in parallel.
// Pair discovery needs both lists, so the first failure aborts.
func (o *Orchestrator) tradableSymbols(ctx context.Context) (spotSymbols, perpSymbols []string, err error) {
	errs := concurrency.Parallel(ctx,
		func(ctx context.Context) error {
			var err error
			spotSymbols, err = o.spot.GetAvailableSymbols(ctx)
			return err
		},
		func(ctx context.Context) error {
			var err error
			perpSymbols, err = o.perp.GetAvailableSymbols(ctx)
			return err
		},
	)
	if err := concurrency.FirstError(errs); err != nil {
		return nil, nil, fmt.Errorf("failed to discover tradable symbols: %w", err)
	}
	return spotSymbols, perpSymbols, nil
}

// DiscoverDeltaNeutralPairs returns the symbols listed for trading on both
// surfaces, sorted.
func (o *Orchestrator) DiscoverDeltaNeutralPairs(ctx context.Context) ([]string, error) {
	spotSymbols, perpSymbols, err := o.tradableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	return strategy.FindDeltaNeutralPairs(spotSymbols, perpSymbols), nil
}

// GetAllFundingRates fetches the latest funding rate for every
// delta-neutral pair and returns the snapshots sorted by APR, best first.
// Pairs whose rate fetch failed or that have no funding history yet are
// dropped from the result.
func (o *Orchestrator) GetAllFundingRates(ctx context.Context) ([]core.FundingSnapshot, error) {
	spotSymbols, perpSymbols, err := o.tradableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	pairs := strategy.FindDeltaNeutralPairs(spotSymbols, perpSymbols)

	tasks := make([]concurrency.Task[[]core.FundingRateRecord], len(pairs))
	for i, symbol := range pairs {
		tasks[i] = func(ctx context.Context) ([]core.FundingRateRecord, error) {
			return o.perp.GetFundingRateHistory(ctx, symbol, 1)
		}
	}

	snapshots := make([]core.FundingSnapshot, 0, len(pairs))
	for i, res := range concurrency.GatherOn(ctx, o.pool, tasks) {
		if res.Err != nil {
			o.log.Warn("Funding rate fetch failed", "symbol", pairs[i], "error", res.Err)
			continue
		}
		if len(res.Value) == 0 {
			continue
		}
		latest := res.Value[0]
		snapshots = append(snapshots, core.FundingSnapshot{
			Symbol:      pairs[i],
			FundingRate: latest.FundingRate,
			APR:         strategy.AnnualizedPct(latest.FundingRate),
			FundingTime: latest.FundingTime,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].APR.GreaterThan(snapshots[j].APR)
	})
	return snapshots, nil
}

// ScreenFundingOpportunities grades every delta-neutral pair against the
// configured viability screen using up to sampleLimit historical rates.
// Results come back viable pairs first, best effective APR on top.
func (o *Orchestrator) ScreenFundingOpportunities(ctx context.Context, sampleLimit int) ([]strategy.FundingOpportunity, error) {
	if sampleLimit < o.screen.MinSamples {
		sampleLimit = o.screen.MinSamples
	}
	spotSymbols, perpSymbols, err := o.tradableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	pairs := strategy.FindDeltaNeutralPairs(spotSymbols, perpSymbols)

	tasks := make([]concurrency.Task[[]core.FundingRateRecord], len(pairs))
	for i, symbol := range pairs {
		tasks[i] = func(ctx context.Context) ([]core.FundingRateRecord, error) {
			return o.perp.GetFundingRateHistory(ctx, symbol, sampleLimit)
		}
	}

	opportunities := make([]strategy.FundingOpportunity, 0, len(pairs))
	for i, res := range concurrency.GatherOn(ctx, o.pool, tasks) {
		if res.Err != nil {
			o.log.Warn("Funding history fetch failed", "symbol", pairs[i], "error", res.Err)
			continue
		}
		opportunities = append(opportunities, strategy.AnalyzeFundingOpportunity(pairs[i], res.Value, o.screen))
	}
	sort.Slice(opportunities, func(i, j int) bool {
		if opportunities[i].Viable != opportunities[j].Viable {
			return opportunities[i].Viable
		}
		return opportunities[i].EffectiveAPRPct > opportunities[j].EffectiveAPRPct
	})
	return opportunities, nil
}

// callerFault reports whether err is the caller's mistake (bad input or an
// unknown symbol). Those escape as Go errors; venue and transport failures
// are folded into OperationResult instead.
func callerFault(err error) bool {
	var verr apperrors.ValidationError
	var serr apperrors.UnknownSymbolError
	return errors.As(err, &verr) || errors.As(err, &serr)
}
