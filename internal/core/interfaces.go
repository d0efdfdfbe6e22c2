// Package core defines the shared domain types and interfaces for the
// funding harvester.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ISpotVenue is the spot market surface consumed by the orchestrator.
type ISpotVenue interface {
	// Market data
	GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error)
	// ProbeBookTicker behaves like GetBookTicker but marks the request as a
	// probe, so an expected "symbol missing" 4xx is not reported as an
	// error. Used for asset-to-stablecoin price discovery.
	ProbeBookTicker(ctx context.Context, symbol string) (*BookTicker, error)
	GetAvailableSymbols(ctx context.Context) ([]string, error)
	GetSymbolInfo(ctx context.Context, symbol string, forceRefresh bool) (*SymbolInfo, error)
	GetSymbolInfos(ctx context.Context) (map[string]SymbolInfo, error)

	// Account
	GetAccountBalances(ctx context.Context) ([]SpotBalance, error)

	// Execution
	PlaceBuyMarketQuote(ctx context.Context, symbol string, quoteQuantity decimal.Decimal) (*Order, error)
	PlaceSellMarketBase(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (*Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
}

// IPerpVenue is the perpetual market surface consumed by the orchestrator.
type IPerpVenue interface {
	// Market data
	GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error)
	GetAvailableSymbols(ctx context.Context) ([]string, error)
	GetSymbolInfo(ctx context.Context, symbol string, forceRefresh bool) (*SymbolInfo, error)
	GetSymbolInfos(ctx context.Context) (map[string]SymbolInfo, error)
	GetFundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRateRecord, error)

	// Account
	GetAccountInfo(ctx context.Context) (*PerpAccount, error)
	GetLeverage(ctx context.Context, symbol string) (int, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error)
	GetIncomeHistory(ctx context.Context, query IncomeQuery) ([]IncomeRecord, error)
	GetUserTrades(ctx context.Context, symbol string, limit int) ([]UserTrade, error)
	Transfer(ctx context.Context, asset string, amount decimal.Decimal, direction TransferDirection) (*TransferResult, error)

	// Execution
	PlaceLimit(ctx context.Context, symbol string, price, quantity decimal.Decimal, side string, reduceOnly bool) (*Order, error)
	PlaceMarket(ctx context.Context, symbol string, quantity decimal.Decimal, side string) (*Order, error)
	// ClosePosition submits a reduce-only MARKET order, so the fill can
	// never flip the position sign.
	ClosePosition(ctx context.Context, symbol string, quantity decimal.Decimal, sideToClose string) (*Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
