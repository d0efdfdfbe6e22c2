package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
	"funding_harvester/internal/trading/strategy"
	apperrors "funding_harvester/pkg/errors"
	"funding_harvester/pkg/logging"
)

// fakeSpot serves core.ISpotVenue from in-memory fixtures and records the
// orders it receives.
type fakeSpot struct {
	mu sync.Mutex

	symbols     []string
	infos       map[string]core.SymbolInfo
	tickers     map[string]core.BookTicker
	balances    []core.SpotBalance
	balancesErr error
	buyErr      error
	sellErr     error

	buys  []spotOrderCall
	sells []spotOrderCall
}

type spotOrderCall struct {
	symbol string
	amount decimal.Decimal
}

func (f *fakeSpot) GetBookTicker(_ context.Context, symbol string) (*core.BookTicker, error) {
	if t, ok := f.tickers[symbol]; ok {
		return &t, nil
	}
	return nil, fmt.Errorf("no spot ticker for %s", symbol)
}

func (f *fakeSpot) ProbeBookTicker(ctx context.Context, symbol string) (*core.BookTicker, error) {
	return f.GetBookTicker(ctx, symbol)
}

func (f *fakeSpot) GetAvailableSymbols(context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeSpot) GetSymbolInfo(_ context.Context, symbol string, _ bool) (*core.SymbolInfo, error) {
	if info, ok := f.infos[symbol]; ok {
		return &info, nil
	}
	return nil, apperrors.UnknownSymbolError{Symbol: symbol, Market: string(core.MarketSpot)}
}

func (f *fakeSpot) GetSymbolInfos(context.Context) (map[string]core.SymbolInfo, error) {
	return f.infos, nil
}

func (f *fakeSpot) GetAccountBalances(context.Context) ([]core.SpotBalance, error) {
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return f.balances, nil
}

func (f *fakeSpot) PlaceBuyMarketQuote(_ context.Context, symbol string, quoteQuantity decimal.Decimal) (*core.Order, error) {
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, spotOrderCall{symbol: symbol, amount: quoteQuantity})
	return &core.Order{Symbol: symbol, OrderID: int64(len(f.buys)), Side: core.SideBuy, Type: "MARKET", Status: "FILLED", CumQuote: quoteQuantity}, nil
}

func (f *fakeSpot) PlaceSellMarketBase(_ context.Context, symbol string, baseQuantity decimal.Decimal) (*core.Order, error) {
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, spotOrderCall{symbol: symbol, amount: baseQuantity})
	return &core.Order{Symbol: symbol, OrderID: int64(len(f.sells)), Side: core.SideSell, Type: "MARKET", Status: "FILLED", ExecutedQty: baseQuantity}, nil
}

func (f *fakeSpot) GetOrder(context.Context, string, int64) (*core.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeSpot) CancelOrder(context.Context, string, int64) (*core.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

// fakePerp serves core.IPerpVenue the same way. The zero value confirms
// leverage changes; set refuseLeverage to simulate a venue mismatch.
type fakePerp struct {
	mu sync.Mutex

	symbols    []string
	infos      map[string]core.SymbolInfo
	tickers    map[string]core.BookTicker
	account    *core.PerpAccount
	accountErr error
	leverage   int
	rates      map[string][]core.FundingRateRecord
	trades     []core.UserTrade
	tradesErr  error
	income     []core.IncomeRecord

	refuseLeverage bool
	leverageErr    error
	marketErr      error
	closeErr       error
	transferErr    error
	transferResult *core.TransferResult

	leverageSets []leverageCall
	markets      []perpOrderCall
	closes       []perpOrderCall
	transfers    []transferCall
	incomeQuery  *core.IncomeQuery
}

type leverageCall struct {
	symbol   string
	leverage int
}

type perpOrderCall struct {
	symbol string
	qty    decimal.Decimal
	side   string
}

type transferCall struct {
	asset     string
	amount    decimal.Decimal
	direction core.TransferDirection
}

func (f *fakePerp) GetBookTicker(_ context.Context, symbol string) (*core.BookTicker, error) {
	if t, ok := f.tickers[symbol]; ok {
		return &t, nil
	}
	return nil, fmt.Errorf("no perp ticker for %s", symbol)
}

func (f *fakePerp) GetAvailableSymbols(context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakePerp) GetSymbolInfo(_ context.Context, symbol string, _ bool) (*core.SymbolInfo, error) {
	if info, ok := f.infos[symbol]; ok {
		return &info, nil
	}
	return nil, apperrors.UnknownSymbolError{Symbol: symbol, Market: string(core.MarketPerp)}
}

func (f *fakePerp) GetSymbolInfos(context.Context) (map[string]core.SymbolInfo, error) {
	return f.infos, nil
}

func (f *fakePerp) GetFundingRateHistory(_ context.Context, symbol string, limit int) ([]core.FundingRateRecord, error) {
	records := f.rates[symbol]
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (f *fakePerp) GetAccountInfo(context.Context) (*core.PerpAccount, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.account, nil
}

func (f *fakePerp) GetLeverage(_ context.Context, _ string) (int, error) {
	return f.leverage, nil
}

func (f *fakePerp) SetLeverage(_ context.Context, symbol string, leverage int) (bool, error) {
	f.mu.Lock()
	f.leverageSets = append(f.leverageSets, leverageCall{symbol: symbol, leverage: leverage})
	f.mu.Unlock()
	if f.leverageErr != nil {
		return false, f.leverageErr
	}
	return !f.refuseLeverage, nil
}

func (f *fakePerp) GetIncomeHistory(_ context.Context, query core.IncomeQuery) ([]core.IncomeRecord, error) {
	f.incomeQuery = &query
	var out []core.IncomeRecord
	for _, rec := range f.income {
		if rec.Time.Before(query.StartTime) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakePerp) GetUserTrades(_ context.Context, _ string, _ int) ([]core.UserTrade, error) {
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.trades, nil
}

func (f *fakePerp) Transfer(_ context.Context, asset string, amount decimal.Decimal, direction core.TransferDirection) (*core.TransferResult, error) {
	f.mu.Lock()
	f.transfers = append(f.transfers, transferCall{asset: asset, amount: amount, direction: direction})
	f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	if f.transferResult != nil {
		return f.transferResult, nil
	}
	return &core.TransferResult{TranID: "1", Status: "SUCCESS", Asset: asset, Amount: amount, Direction: direction}, nil
}

func (f *fakePerp) PlaceLimit(context.Context, string, decimal.Decimal, decimal.Decimal, string, bool) (*core.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakePerp) PlaceMarket(_ context.Context, symbol string, quantity decimal.Decimal, side string) (*core.Order, error) {
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = append(f.markets, perpOrderCall{symbol: symbol, qty: quantity, side: side})
	return &core.Order{Symbol: symbol, OrderID: int64(len(f.markets)), Side: side, Type: "MARKET", Status: "FILLED", OrigQty: quantity}, nil
}

func (f *fakePerp) ClosePosition(_ context.Context, symbol string, quantity decimal.Decimal, sideToClose string) (*core.Order, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, perpOrderCall{symbol: symbol, qty: quantity, side: sideToClose})
	return &core.Order{Symbol: symbol, OrderID: int64(len(f.closes)), Side: sideToClose, Type: "MARKET", Status: "FILLED", OrigQty: quantity, ReduceOnly: true}, nil
}

func (f *fakePerp) GetOrder(context.Context, string, int64) (*core.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakePerp) CancelOrder(context.Context, string, int64) (*core.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func newTestOrchestrator(spot core.ISpotVenue, perp core.IPerpVenue) *Orchestrator {
	return NewOrchestrator(spot, perp, nil, strategy.DefaultScreen, logging.NewNopLogger())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ticker(symbol, bid, ask string) core.BookTicker {
	return core.BookTicker{Symbol: symbol, BidPrice: d(bid), AskPrice: d(ask), BidQty: d("100"), AskQty: d("100")}
}

// pairFixture assembles a healthy BTCUSDT delta-neutral book: 0.5 spot BTC
// hedged by a 0.5 short, plus 1000 USDT on each wallet.
func pairFixture() (*fakeSpot, *fakePerp) {
	spot := &fakeSpot{
		symbols: []string{"BTCUSDT", "ETHUSDT"},
		infos: map[string]core.SymbolInfo{
			"BTCUSDT": {Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", StepSize: "0.000001"},
			"ETHUSDT": {Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT", StepSize: "0.0001"},
		},
		tickers: map[string]core.BookTicker{
			"BTCUSDT": ticker("BTCUSDT", "19998", "20002"),
		},
		balances: []core.SpotBalance{
			{Asset: "BTC", Free: d("0.5")},
			{Asset: "USDT", Free: d("1000")},
		},
	}
	perp := &fakePerp{
		symbols: []string{"BTCUSDT", "ETHUSDT"},
		infos: map[string]core.SymbolInfo{
			"BTCUSDT": {Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT", StepSize: "0.001"},
			"ETHUSDT": {Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT", StepSize: "0.01"},
		},
		tickers: map[string]core.BookTicker{
			"BTCUSDT": ticker("BTCUSDT", "19999", "20001"),
		},
		account: &core.PerpAccount{
			Assets: []core.PerpAsset{
				{Asset: "USDT", WalletBalance: d("1000"), AvailableBalance: d("1000")},
			},
			Positions: []core.PerpPosition{
				{
					Symbol:           "BTCUSDT",
					PositionAmt:      d("-0.5"),
					EntryPrice:       d("19500"),
					MarkPrice:        d("19990"),
					UnrealizedProfit: d("-250"),
					LiquidationPrice: d("39000"),
					Leverage:         d("1"),
				},
			},
		},
		leverage: 1,
		rates: map[string][]core.FundingRateRecord{
			"BTCUSDT": {{Symbol: "BTCUSDT", FundingRate: d("0.0001"), FundingTime: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}},
		},
	}
	return spot, perp
}
