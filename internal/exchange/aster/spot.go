package aster

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"funding_harvester/internal/core"
	apperrors "funding_harvester/pkg/errors"
	httpx "funding_harvester/pkg/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SpotExchange implements core.ISpotVenue against the venue's spot REST API.
// All private calls are HMAC-signed.
type SpotExchange struct {
	rest    *restClient
	signer  *HMACSigner
	filters *filterCache
	log     core.ILogger
}

// NewSpotExchange wires a spot surface over the given pooled client.
func NewSpotExchange(client *httpx.Client, creds Credentials, logger core.ILogger) *SpotExchange {
	log := logger.WithField("market", string(core.MarketSpot))
	return &SpotExchange{
		rest:    &restClient{http: client, log: log},
		signer:  NewHMACSigner(creds.APIKey, creds.APISecret),
		filters: newFilterCache(core.MarketSpot),
		log:     log,
	}
}

// GetBookTicker returns the best bid/ask for the symbol.
func (s *SpotExchange) GetBookTicker(ctx context.Context, symbol string) (*core.BookTicker, error) {
	return s.bookTicker(ctx, symbol)
}

// ProbeBookTicker fetches the book ticker without counting an expected
// "unknown symbol" rejection as an error. Price discovery walks candidate
// quote assets and misses are routine.
func (s *SpotExchange) ProbeBookTicker(ctx context.Context, symbol string) (*core.BookTicker, error) {
	return s.bookTicker(ctx, symbol, httpx.SuppressErrors())
}

func (s *SpotExchange) bookTicker(ctx context.Context, symbol string, opts ...httpx.Option) (*core.BookTicker, error) {
	var wire struct {
		Symbol   string          `json:"symbol"`
		BidPrice decimal.Decimal `json:"bidPrice"`
		BidQty   decimal.Decimal `json:"bidQty"`
		AskPrice decimal.Decimal `json:"askPrice"`
		AskQty   decimal.Decimal `json:"askQty"`
	}
	params := map[string]string{"symbol": symbol}
	if err := s.rest.get(ctx, "/api/v1/ticker/bookTicker", params, &wire, opts...); err != nil {
		return nil, err
	}
	return &core.BookTicker{
		Symbol:   wire.Symbol,
		BidPrice: wire.BidPrice,
		BidQty:   wire.BidQty,
		AskPrice: wire.AskPrice,
		AskQty:   wire.AskQty,
	}, nil
}

// GetAvailableSymbols returns the sorted symbols currently open for spot
// trading. The filter cache is refreshed so newly listed pairs appear.
func (s *SpotExchange) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	if err := s.refreshFilters(ctx); err != nil {
		return nil, err
	}
	return s.filters.tradingSymbols(), nil
}

// GetSymbolInfo returns the cached trading rules for a symbol, loading the
// cache on first use. A miss triggers one refresh before giving up, so a
// symbol listed since the last load still resolves.
func (s *SpotExchange) GetSymbolInfo(ctx context.Context, symbol string, forceRefresh bool) (*core.SymbolInfo, error) {
	refreshed := false
	if forceRefresh || !s.filters.isLoaded() {
		if err := s.refreshFilters(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}
	info, ok := s.filters.get(symbol)
	if !ok && !refreshed {
		if err := s.refreshFilters(ctx); err != nil {
			return nil, err
		}
		info, ok = s.filters.get(symbol)
	}
	if !ok {
		return nil, apperrors.UnknownSymbolError{Symbol: symbol, Market: string(core.MarketSpot)}
	}
	return &info, nil
}

// GetSymbolInfos returns the cached rules for every spot symbol, loading
// the cache on first use.
func (s *SpotExchange) GetSymbolInfos(ctx context.Context) (map[string]core.SymbolInfo, error) {
	if !s.filters.isLoaded() {
		if err := s.refreshFilters(ctx); err != nil {
			return nil, err
		}
	}
	return s.filters.snapshot(), nil
}

func (s *SpotExchange) refreshFilters(ctx context.Context) error {
	var info wireExchangeInfo
	if err := s.rest.get(ctx, "/api/v1/exchangeInfo", nil, &info); err != nil {
		return fmt.Errorf("failed to fetch spot exchange info: %w", err)
	}
	s.filters.replace(symbolsFromWire(info))
	return nil
}

// GetAccountBalances returns the non-zero balance rows of the spot account.
func (s *SpotExchange) GetAccountBalances(ctx context.Context) ([]core.SpotBalance, error) {
	var wire struct {
		Balances []struct {
			Asset  string          `json:"asset"`
			Free   decimal.Decimal `json:"free"`
			Locked decimal.Decimal `json:"locked"`
		} `json:"balances"`
	}
	if err := s.rest.get(ctx, "/api/v1/account", nil, &wire, httpx.WithSigner(s.signer)); err != nil {
		return nil, fmt.Errorf("failed to fetch spot account: %w", err)
	}
	balances := make([]core.SpotBalance, 0, len(wire.Balances))
	for _, b := range wire.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		balances = append(balances, core.SpotBalance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return balances, nil
}

// PlaceBuyMarketQuote submits a MARKET buy sized in quote currency, letting
// the venue compute the base fill. The quote amount is truncated to the
// symbol's quote precision.
func (s *SpotExchange) PlaceBuyMarketQuote(ctx context.Context, symbol string, quoteQuantity decimal.Decimal) (*core.Order, error) {
	if !quoteQuantity.IsPositive() {
		return nil, apperrors.ValidationError{Field: "quoteQuantity", Value: quoteQuantity.String(), Message: "must be positive"}
	}
	info, err := s.GetSymbolInfo(ctx, symbol, false)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"symbol":           symbol,
		"side":             core.SideBuy,
		"type":             core.OrderTypeMarket,
		"quoteOrderQty":    quoteQuantity.Truncate(int32(info.QuoteAssetPrecision)).String(),
		"newClientOrderId": uuid.NewString(),
	}
	s.log.Info("placing spot market buy", "symbol", symbol, "quoteOrderQty", params["quoteOrderQty"])
	var wire wireSpotOrder
	if err := s.rest.post(ctx, "/api/v1/order", params, &wire, httpx.WithSigner(s.signer)); err != nil {
		return nil, fmt.Errorf("failed to place spot buy for %s: %w", symbol, err)
	}
	return wire.toOrder(), nil
}

// PlaceSellMarketBase submits a MARKET sell sized in base currency,
// truncated to the symbol's lot step.
func (s *SpotExchange) PlaceSellMarketBase(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (*core.Order, error) {
	if !baseQuantity.IsPositive() {
		return nil, apperrors.ValidationError{Field: "baseQuantity", Value: baseQuantity.String(), Message: "must be positive"}
	}
	if _, err := s.GetSymbolInfo(ctx, symbol, false); err != nil {
		return nil, err
	}
	qty, err := s.filters.formatQty(symbol, baseQuantity)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"symbol":           symbol,
		"side":             core.SideSell,
		"type":             core.OrderTypeMarket,
		"quantity":         qty,
		"newClientOrderId": uuid.NewString(),
	}
	s.log.Info("placing spot market sell", "symbol", symbol, "quantity", qty)
	var wire wireSpotOrder
	if err := s.rest.post(ctx, "/api/v1/order", params, &wire, httpx.WithSigner(s.signer)); err != nil {
		return nil, fmt.Errorf("failed to place spot sell for %s: %w", symbol, err)
	}
	return wire.toOrder(), nil
}

// GetOrder fetches the current state of one spot order.
func (s *SpotExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	params := map[string]string{"symbol": symbol, "orderId": strconv.FormatInt(orderID, 10)}
	var wire wireSpotOrder
	if err := s.rest.get(ctx, "/api/v1/order", params, &wire, httpx.WithSigner(s.signer)); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

// CancelOrder cancels one spot order and returns its final state.
func (s *SpotExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	params := map[string]string{"symbol": symbol, "orderId": strconv.FormatInt(orderID, 10)}
	var wire wireSpotOrder
	if err := s.rest.del(ctx, "/api/v1/order", params, &wire, httpx.WithSigner(s.signer)); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

// wireSpotOrder mirrors the spot order payload. The venue reports the
// cumulative quote volume under its historical double-m spelling.
type wireSpotOrder struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	CumQuoteQty   decimal.Decimal `json:"cummulativeQuoteQty"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	TransactTime  int64           `json:"transactTime"`
	UpdateTime    int64           `json:"updateTime"`
}

func (w wireSpotOrder) toOrder() *core.Order {
	ts := w.UpdateTime
	if ts == 0 {
		ts = w.TransactTime
	}
	// Spot omits avgPrice, so derive it from the fill totals.
	avg := decimal.Zero
	if w.ExecutedQty.IsPositive() {
		avg = w.CumQuoteQty.Div(w.ExecutedQty)
	}
	return &core.Order{
		Symbol:        w.Symbol,
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Side:          w.Side,
		Type:          w.Type,
		Status:        w.Status,
		Price:         w.Price,
		AvgPrice:      avg,
		OrigQty:       w.OrigQty,
		ExecutedQty:   w.ExecutedQty,
		CumQuote:      w.CumQuoteQty,
		UpdateTime:    time.UnixMilli(ts),
	}
}
