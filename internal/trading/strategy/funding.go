package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
)

// AnnualizedPct converts one 8-hour funding rate into an APR percentage.
func AnnualizedPct(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(aprMultiplier)
}

// EffectiveAPRPct is the annualized return on total deployed capital: half
// the headline APR, because capital backs both legs but only the short earns
// funding.
func EffectiveAPRPct(rate decimal.Decimal) decimal.Decimal {
	return AnnualizedPct(rate).Div(two)
}

// FindDeltaNeutralPairs returns the sorted intersection of the two symbol
// sets.
func FindDeltaNeutralPairs(spotSymbols, perpSymbols []string) []string {
	perpSet := make(map[string]struct{}, len(perpSymbols))
	for _, s := range perpSymbols {
		perpSet[s] = struct{}{}
	}
	pairs := make([]string, 0, len(spotSymbols))
	for _, s := range spotSymbols {
		if _, ok := perpSet[s]; ok {
			pairs = append(pairs, s)
		}
	}
	sort.Strings(pairs)
	return pairs
}

// FilterViablePairs keeps the pairs whose spot and perp 24h volumes both
// clear the liquidity floor. Symbols missing from a volume map count as
// zero volume.
func FilterViablePairs(pairs []string, minLiquidityUSD decimal.Decimal, spotVolumeUSD, perpVolumeUSD map[string]decimal.Decimal) []string {
	viable := make([]string, 0, len(pairs))
	for _, symbol := range pairs {
		if spotVolumeUSD[symbol].GreaterThanOrEqual(minLiquidityUSD) &&
			perpVolumeUSD[symbol].GreaterThanOrEqual(minLiquidityUSD) {
			viable = append(viable, symbol)
		}
	}
	return viable
}

// OpportunityScreen is the gate a funding history must pass before the
// symbol is worth deploying into.
type OpportunityScreen struct {
	MinAPRPct  float64
	MinSamples int
	MaxCoV     float64
}

// DefaultScreen matches the shipped strategy defaults.
var DefaultScreen = OpportunityScreen{MinAPRPct: 15, MinSamples: 5, MaxCoV: 0.5}

// FundingOpportunity is the screened verdict for one symbol. The statistics
// are float64: they grade a signal and never touch order quantities.
type FundingOpportunity struct {
	Symbol          string
	Samples         int
	MeanRate        float64
	MeanAPRPct      float64
	EffectiveAPRPct float64
	RateCoV         float64
	PositiveRatio   float64
	Viable          bool
	Reasons         []string
}

// AnalyzeFundingOpportunity screens a funding-rate history against the
// given gate. Every failed criterion lands in Reasons; the opportunity is
// viable only when none fail. The rate's coefficient of variation is only
// meaningful for a positive mean, so a non-positive mean fails on its own.
func AnalyzeFundingOpportunity(symbol string, history []core.FundingRateRecord, screen OpportunityScreen) FundingOpportunity {
	opp := FundingOpportunity{Symbol: symbol, Samples: len(history)}
	if opp.Samples < screen.MinSamples {
		opp.Reasons = append(opp.Reasons, fmt.Sprintf("only %d funding samples, need %d", opp.Samples, screen.MinSamples))
	}
	if opp.Samples == 0 {
		opp.Viable = len(opp.Reasons) == 0
		return opp
	}

	rates := make([]float64, len(history))
	var positives int
	for i, rec := range history {
		rates[i] = rec.FundingRate.InexactFloat64()
		if rates[i] > 0 {
			positives++
		}
	}
	opp.PositiveRatio = float64(positives) / float64(len(rates))
	opp.MeanRate = mean(rates)
	opp.MeanAPRPct = opp.MeanRate * (FundingPeriodsPerDay * 365 * 100)
	opp.EffectiveAPRPct = opp.MeanAPRPct / 2

	if opp.MeanRate <= 0 {
		opp.Reasons = append(opp.Reasons, "mean funding rate is not positive")
	} else {
		opp.RateCoV = sampleStddev(rates, opp.MeanRate) / opp.MeanRate
		if opp.RateCoV > screen.MaxCoV {
			opp.Reasons = append(opp.Reasons, fmt.Sprintf("rate CoV %.2f exceeds %.2f", opp.RateCoV, screen.MaxCoV))
		}
	}
	if opp.MeanAPRPct < screen.MinAPRPct {
		opp.Reasons = append(opp.Reasons, fmt.Sprintf("mean APR %.2f%% below %.2f%%", opp.MeanAPRPct, screen.MinAPRPct))
	}

	opp.Viable = len(opp.Reasons) == 0
	return opp
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStddev uses the n-1 denominator; a single sample has no spread.
func sampleStddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
