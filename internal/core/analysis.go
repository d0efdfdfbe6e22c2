package core

import (
	"github.com/shopspring/decimal"
)

// AnalyzedPosition classifies one perp position against its matching spot
// holding. All derived fields are computed per snapshot and never stored,
// so classification cannot go stale relative to balances.
type AnalyzedPosition struct {
	Symbol    string
	BaseAsset string

	SpotQty decimal.Decimal
	PerpQty decimal.Decimal // signed, negative = short

	NetDelta       decimal.Decimal // spotQty + perpQty
	TotalSize      decimal.Decimal // max(|spotQty|, |perpQty|)
	ImbalancePct   decimal.Decimal
	IsDeltaNeutral bool

	MarkPrice        decimal.Decimal
	PositionValueUSD decimal.Decimal // |perpQty| * markPrice
	UnrealizedProfit decimal.Decimal
	LiquidationPrice decimal.Decimal
	Leverage         decimal.Decimal

	// CurrentAPR is annotated by the orchestrator from the latest funding
	// rate; invalid until a rate was fetched for the symbol.
	CurrentAPR decimal.NullDecimal
}

// PortfolioSnapshot is the canonical dashboard view assembled by the
// orchestrator: the raw account data plus derived classification.
type PortfolioSnapshot struct {
	PerpAccount       *PerpAccount
	PerpPositions     []PerpPosition // active only
	SpotBalances      []SpotBalance  // non-zero only, enriched with ValueUSD
	AnalyzedPositions map[string]*AnalyzedPosition
}

// Position returns the analyzed position for symbol, or nil.
func (s *PortfolioSnapshot) Position(symbol string) *AnalyzedPosition {
	if s == nil || s.AnalyzedPositions == nil {
		return nil
	}
	return s.AnalyzedPositions[symbol]
}

// SpotQtyOf returns the total spot holding of an asset in the snapshot.
func (s *PortfolioSnapshot) SpotQtyOf(asset string) decimal.Decimal {
	for _, b := range s.SpotBalances {
		if b.Asset == asset {
			return b.Total()
		}
	}
	return decimal.Zero
}
