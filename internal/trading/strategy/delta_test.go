package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding_harvester/internal/core"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcSymbolMap() map[string]core.SymbolInfo {
	return map[string]core.SymbolInfo{
		"BTCUSDT": {Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		"ETHUSDT": {Symbol: "ETHUSDT", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}
}

func TestAnalyzePositionData_HealthyPair(t *testing.T) {
	positions := []core.PerpPosition{{
		Symbol:      "BTCUSDT",
		PositionAmt: d("-0.5"),
		MarkPrice:   d("20000"),
	}}
	balances := []core.SpotBalance{{Asset: "BTC", Free: d("0.5")}}

	analyzed := AnalyzePositionData(positions, balances, btcSymbolMap())
	require.Len(t, analyzed, 1)

	pos := analyzed["BTCUSDT"]
	require.NotNil(t, pos)
	assert.Equal(t, "BTC", pos.BaseAsset)
	assert.True(t, pos.NetDelta.IsZero(), "matched legs must net to zero")
	assert.True(t, pos.ImbalancePct.IsZero())
	assert.True(t, pos.IsDeltaNeutral)
	assert.Equal(t, "10000", pos.PositionValueUSD.String())
	assert.Equal(t, "0.5", pos.TotalSize.String())
}

func TestAnalyzePositionData_ImbalancedPair(t *testing.T) {
	positions := []core.PerpPosition{{
		Symbol:      "ETHUSDT",
		PositionAmt: d("-2.0"),
		MarkPrice:   d("2000"),
	}}
	balances := []core.SpotBalance{{Asset: "ETH", Free: d("1.9"), Locked: d("0.05")}}

	analyzed := AnalyzePositionData(positions, balances, btcSymbolMap())
	pos := analyzed["ETHUSDT"]
	require.NotNil(t, pos)

	assert.Equal(t, "-0.05", pos.NetDelta.String())
	assert.Equal(t, "2.5", pos.ImbalancePct.String())
	assert.False(t, pos.IsDeltaNeutral)
	assert.Equal(t, "4000", pos.PositionValueUSD.String())
}

func TestAnalyzePositionData_SkipsDustPositions(t *testing.T) {
	positions := []core.PerpPosition{
		{Symbol: "BTCUSDT", PositionAmt: d("0.0000000001"), MarkPrice: d("20000")},
		{Symbol: "ETHUSDT", PositionAmt: decimal.Zero, MarkPrice: d("2000")},
	}

	analyzed := AnalyzePositionData(positions, nil, btcSymbolMap())
	assert.Empty(t, analyzed)
}

func TestAnalyzePositionData_BaseAssetFallback(t *testing.T) {
	// SOLUSDT is absent from the symbol map, so the base asset comes from
	// trimming the quote suffix.
	positions := []core.PerpPosition{{
		Symbol:      "SOLUSDT",
		PositionAmt: d("-10"),
		MarkPrice:   d("150"),
	}}
	balances := []core.SpotBalance{{Asset: "SOL", Free: d("10")}}

	analyzed := AnalyzePositionData(positions, balances, btcSymbolMap())
	pos := analyzed["SOLUSDT"]
	require.NotNil(t, pos)
	assert.Equal(t, "SOL", pos.BaseAsset)
	assert.True(t, pos.NetDelta.IsZero())
}

func TestAnalyzePositionData_MissingSpotLegDefaultsToZero(t *testing.T) {
	positions := []core.PerpPosition{{
		Symbol:      "BTCUSDT",
		PositionAmt: d("-0.5"),
		MarkPrice:   d("20000"),
	}}

	analyzed := AnalyzePositionData(positions, nil, btcSymbolMap())
	pos := analyzed["BTCUSDT"]
	require.NotNil(t, pos)
	assert.True(t, pos.SpotQty.IsZero())
	assert.Equal(t, "100", pos.ImbalancePct.String())
	assert.False(t, pos.IsDeltaNeutral)
}

func TestImbalancePct(t *testing.T) {
	assert.True(t, ImbalancePct(d("1"), decimal.Zero).IsZero(), "empty book has no imbalance")
	assert.Equal(t, "2.5", ImbalancePct(d("-0.05"), d("2")).String())
	assert.Equal(t, "100", ImbalancePct(d("3"), d("3")).String())
}

func TestSpotOnlyPosition(t *testing.T) {
	pos := SpotOnlyPosition("ASTER", d("120"), d("1.5"))

	assert.Equal(t, "ASTERUSDT", pos.Symbol)
	assert.Equal(t, "ASTER", pos.BaseAsset)
	assert.True(t, pos.PerpQty.IsZero())
	assert.Equal(t, "100", pos.ImbalancePct.String())
	assert.False(t, pos.IsDeltaNeutral)
	assert.Equal(t, "120", pos.NetDelta.String())
	assert.Equal(t, "180", pos.PositionValueUSD.String())
}
