package aster

import (
	"sort"
	"strings"
	"sync"

	"funding_harvester/internal/core"
	apperrors "funding_harvester/pkg/errors"

	"github.com/shopspring/decimal"
)

// filterCache holds the trading rules of one market surface. Lookups are
// read-through: a miss triggers a full exchange-info refresh by the owning
// surface, which then swaps the set wholesale.
type filterCache struct {
	mu      sync.RWMutex
	market  core.Market
	symbols map[string]core.SymbolInfo
	loaded  bool
}

func newFilterCache(market core.Market) *filterCache {
	return &filterCache{market: market, symbols: make(map[string]core.SymbolInfo)}
}

func (f *filterCache) replace(symbols map[string]core.SymbolInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = symbols
	f.loaded = true
}

func (f *filterCache) get(symbol string) (core.SymbolInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, ok := f.symbols[symbol]
	return info, ok
}

func (f *filterCache) isLoaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded
}

// snapshot returns a copy of the cached rule set.
func (f *filterCache) snapshot() map[string]core.SymbolInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]core.SymbolInfo, len(f.symbols))
	for sym, info := range f.symbols {
		out[sym] = info
	}
	return out
}

// tradingSymbols returns the sorted symbols currently open for trading.
func (f *filterCache) tradingSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.symbols))
	for sym, info := range f.symbols {
		if info.IsTrading() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// formatQty truncates a base quantity to the symbol's step size and renders
// it for the wire. An empty step size passes the value through unformatted.
func (f *filterCache) formatQty(symbol string, qty decimal.Decimal) (string, error) {
	info, ok := f.get(symbol)
	if !ok {
		return "", apperrors.UnknownSymbolError{Symbol: symbol, Market: string(f.market)}
	}
	return truncateToFilter(qty, info.StepSize), nil
}

// formatPrice truncates a price to the symbol's tick size.
func (f *filterCache) formatPrice(symbol string, price decimal.Decimal) (string, error) {
	info, ok := f.get(symbol)
	if !ok {
		return "", apperrors.UnknownSymbolError{Symbol: symbol, Market: string(f.market)}
	}
	return truncateToFilter(price, info.TickSize), nil
}

func truncateToFilter(value decimal.Decimal, filter string) string {
	if filter == "" {
		return value.String()
	}
	return value.Truncate(int32(precisionOf(filter))).String()
}

// precisionOf counts the meaningful fractional digits of a filter value
// expressed as a display string: "0.00100000" has precision 3.
func precisionOf(filter string) int {
	d, err := decimal.NewFromString(filter)
	if err != nil {
		return 0
	}
	s := d.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}
