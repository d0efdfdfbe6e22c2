package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market distinguishes the two venue surfaces a symbol can list on.
type Market string

const (
	MarketSpot Market = "spot"
	MarketPerp Market = "perp"
)

// Order sides and types as the venue spells them.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// TransferDirection names the internal wallet transfer direction.
type TransferDirection string

const (
	TransferSpotToPerp TransferDirection = "SPOT_TO_PERP"
	TransferPerpToSpot TransferDirection = "PERP_TO_SPOT"
)

// stablecoins are quote-side assets valued at 1 USD without a price probe.
var stablecoins = map[string]struct{}{
	"USDT": {},
	"USDC": {},
	"USDF": {},
}

// IsStablecoin reports whether the asset is treated as 1 USD for valuation.
func IsStablecoin(asset string) bool {
	_, ok := stablecoins[asset]
	return ok
}

// SymbolInfo is the per-symbol metadata extracted from exchange info.
// Filter values keep the venue's display strings because order precision is
// derived from the printed form ("0.0010" allows three fractional digits).
// An empty filter string means the venue did not publish that filter.
type SymbolInfo struct {
	Symbol              string
	Status              string
	BaseAsset           string
	QuoteAsset          string
	QuoteAssetPrecision int
	StepSize            string
	TickSize            string
	MinQty              string
	MinNotional         string
}

// IsTrading reports whether the symbol is open for trading.
func (s SymbolInfo) IsTrading() bool {
	return s.Status == "TRADING"
}

// QtyPrecision returns the fractional digits the step size allows. A step
// of "1" allows none; an empty or unparseable step allows full precision.
func (s SymbolInfo) QtyPrecision() (int32, bool) {
	if s.StepSize == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s.StepSize)
	if err != nil || d.IsZero() {
		return 0, false
	}
	printed := d.String()
	for i := 0; i < len(printed); i++ {
		if printed[i] == '.' {
			return int32(len(printed) - i - 1), true
		}
	}
	return 0, true
}

// TruncateQty floors a quantity to the symbol's step precision. Truncation
// never rounds up.
func (s SymbolInfo) TruncateQty(q decimal.Decimal) decimal.Decimal {
	precision, ok := s.QtyPrecision()
	if !ok {
		return q
	}
	return q.Truncate(precision)
}

// BookTicker is the best bid/ask for one symbol.
type BookTicker struct {
	Symbol   string
	BidPrice decimal.Decimal
	BidQty   decimal.Decimal
	AskPrice decimal.Decimal
	AskQty   decimal.Decimal
}

// Mid returns the bid/ask midpoint used for valuation and mark fallback.
func (b BookTicker) Mid() decimal.Decimal {
	return b.BidPrice.Add(b.AskPrice).Div(decimal.NewFromInt(2))
}

// SpotBalance is one asset row from the spot account.
type SpotBalance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal

	// ValueUSD is filled by the orchestrator from a price probe; zero when
	// no spot market prices the asset.
	ValueUSD decimal.Decimal
}

// Total returns free plus locked.
func (b SpotBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// PerpPosition is one open perpetual position. PositionAmt is signed:
// positive long, negative short.
type PerpPosition struct {
	Symbol           string
	PositionAmt      decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedProfit decimal.Decimal
	LiquidationPrice decimal.Decimal
	Leverage         decimal.Decimal
}

// Notional returns |positionAmt| * markPrice.
func (p PerpPosition) Notional() decimal.Decimal {
	return p.PositionAmt.Abs().Mul(p.MarkPrice)
}

// IsShort reports whether the position is short.
func (p PerpPosition) IsShort() bool {
	return p.PositionAmt.IsNegative()
}

// PerpAsset is one margin asset row from the perp account.
type PerpAsset struct {
	Asset            string
	WalletBalance    decimal.Decimal
	MarginBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	UnrealizedProfit decimal.Decimal
}

// PerpAccount is the full perpetual account snapshot.
type PerpAccount struct {
	Assets                []PerpAsset
	Positions             []PerpPosition
	TotalWalletBalance    decimal.Decimal
	TotalMarginBalance    decimal.Decimal
	TotalUnrealizedProfit decimal.Decimal
	AvailableBalance      decimal.Decimal
}

// Asset returns the margin row for the given asset, or a zero row.
func (a *PerpAccount) Asset(asset string) PerpAsset {
	for _, row := range a.Assets {
		if row.Asset == asset {
			return row
		}
	}
	return PerpAsset{Asset: asset}
}

// ActivePositions returns positions with a non-zero amount.
func (a *PerpAccount) ActivePositions() []PerpPosition {
	var active []PerpPosition
	for _, p := range a.Positions {
		if !p.PositionAmt.IsZero() {
			active = append(active, p)
		}
	}
	return active
}

// FundingRateRecord is one historical funding payment rate.
type FundingRateRecord struct {
	Symbol      string
	FundingRate decimal.Decimal
	FundingTime time.Time
}

// FundingSnapshot pairs the latest rate of a symbol with its annualized
// percentage.
type FundingSnapshot struct {
	Symbol      string
	FundingRate decimal.Decimal
	APR         decimal.Decimal
	FundingTime time.Time
}

// IncomeRecord is one income-history row (funding fees, commissions, ...).
type IncomeRecord struct {
	Symbol     string
	IncomeType string
	Income     decimal.Decimal
	Asset      string
	Time       time.Time
}

// IncomeTypeFundingFee selects funding payments in income-history queries.
const IncomeTypeFundingFee = "FUNDING_FEE"

// IncomeQuery narrows an income-history request. Zero fields are omitted
// from the venue call.
type IncomeQuery struct {
	Symbol     string
	IncomeType string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// UserTrade is one fill from the perp trade history.
type UserTrade struct {
	Symbol      string
	ID          int64
	OrderID     int64
	Side        string
	Price       decimal.Decimal
	Qty         decimal.Decimal
	QuoteQty    decimal.Decimal
	Commission  decimal.Decimal
	RealizedPnl decimal.Decimal
	Time        time.Time
}

// SignedQty returns the trade quantity with SELL negated, so summing
// trades reproduces the signed position amount.
func (t UserTrade) SignedQty() decimal.Decimal {
	if t.Side == SideSell {
		return t.Qty.Neg()
	}
	return t.Qty
}

// Order is the venue's view of one order, returned from placement, status,
// and cancel calls on both surfaces.
type Order struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          string
	Type          string
	Status        string
	Price         decimal.Decimal
	AvgPrice      decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	CumQuote      decimal.Decimal
	ReduceOnly    bool
	UpdateTime    time.Time
}

// TransferResult is the venue acknowledgment of an internal transfer.
type TransferResult struct {
	TranID       string
	ClientTranID string
	Status       string
	Asset        string
	Amount       decimal.Decimal
	Direction    TransferDirection
}

// Succeeded reports whether the venue confirmed the transfer.
func (t *TransferResult) Succeeded() bool {
	return t != nil && t.Status == "SUCCESS"
}
