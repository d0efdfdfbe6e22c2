package aster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"funding_harvester/internal/core"
	apperrors "funding_harvester/pkg/errors"
	httpx "funding_harvester/pkg/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// transferKinds maps the internal direction onto the venue's kindType values.
var transferKinds = map[core.TransferDirection]string{
	core.TransferSpotToPerp: "SPOT_FUTURE",
	core.TransferPerpToSpot: "FUTURE_SPOT",
}

// PerpExchange implements core.IPerpVenue. Market data is unsigned, v1
// account endpoints are HMAC-signed, and v3 trading endpoints carry the
// typed Ethereum signature.
type PerpExchange struct {
	rest    *restClient
	hmac    *HMACSigner
	typed   *TypedSigner
	filters *filterCache
	log     core.ILogger
}

// NewPerpExchange wires a perp surface over the given pooled client. It
// fails when the Ethereum credential triple is unusable.
func NewPerpExchange(client *httpx.Client, creds Credentials, logger core.ILogger) (*PerpExchange, error) {
	typed, err := NewTypedSigner(creds.User, creds.Signer, creds.PrivateKey)
	if err != nil {
		return nil, err
	}
	log := logger.WithField("market", string(core.MarketPerp))
	return &PerpExchange{
		rest:    &restClient{http: client, log: log},
		hmac:    NewHMACSigner(creds.APIKey, creds.APISecret),
		typed:   typed,
		filters: newFilterCache(core.MarketPerp),
		log:     log,
	}, nil
}

// GetBookTicker returns the best bid/ask for the symbol.
func (p *PerpExchange) GetBookTicker(ctx context.Context, symbol string) (*core.BookTicker, error) {
	var wire struct {
		Symbol   string          `json:"symbol"`
		BidPrice decimal.Decimal `json:"bidPrice"`
		BidQty   decimal.Decimal `json:"bidQty"`
		AskPrice decimal.Decimal `json:"askPrice"`
		AskQty   decimal.Decimal `json:"askQty"`
	}
	params := map[string]string{"symbol": symbol}
	if err := p.rest.get(ctx, "/fapi/v1/ticker/bookTicker", params, &wire); err != nil {
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

// GetAvailableSymbols returns the sorted symbols currently open for
// perpetual trading.
func (p *PerpExchange) GetAvailableSymbols(ctx context.Context) ([]string, error) {
	if err := p.refreshFilters(ctx); err != nil {
		return nil, err
	}
	return p.filters.tradingSymbols(), nil
}

// GetSymbolInfo mirrors the spot read-through lookup.
func (p *PerpExchange) GetSymbolInfo(ctx context.Context, symbol string, forceRefresh bool) (*core.SymbolInfo, error) {
	refreshed := false
	if forceRefresh || !p.filters.isLoaded() {
		if err := p.refreshFilters(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}
	info, ok := p.filters.get(symbol)
	if !ok && !refreshed {
		if err := p.refreshFilters(ctx); err != nil {
			return nil, err
		}
		info, ok = p.filters.get(symbol)
	}
	if !ok {
		return nil, apperrors.UnknownSymbolError{Symbol: symbol, Market: string(core.MarketPerp)}
	}
	return &info, nil
}

// GetSymbolInfos returns the cached rules for every perp symbol, loading
// the cache on first use.
func (p *PerpExchange) GetSymbolInfos(ctx context.Context) (map[string]core.SymbolInfo, error) {
	if !p.filters.isLoaded() {
		if err := p.refreshFilters(ctx); err != nil {
			return nil, err
		}
	}
	return p.filters.snapshot(), nil
}

func (p *PerpExchange) refreshFilters(ctx context.Context) error {
	var info wireExchangeInfo
	if err := p.rest.get(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return fmt.Errorf("failed to fetch perp exchange info: %w", err)
	}
	p.filters.replace(symbolsFromWire(info))
	return nil
}

// GetFundingRateHistory returns up to limit funding settlements for the
// symbol, oldest first as the venue delivers them.
func (p *PerpExchange) GetFundingRateHistory(ctx context.Context, symbol string, limit int) ([]core.FundingRateRecord, error) {
	params := map[string]string{"symbol": symbol}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var wire []struct {
		Symbol      string          `json:"symbol"`
		FundingRate decimal.Decimal `json:"fundingRate"`
		FundingTime int64           `json:"fundingTime"`
	}
	if err := p.rest.get(ctx, "/fapi/v1/fundingRate", params, &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch funding history for %s: %w", symbol, err)
	}
	records := make([]core.FundingRateRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, core.FundingRateRecord{
			Symbol:      w.Symbol,
			FundingRate: w.FundingRate,
			FundingTime: time.UnixMilli(w.FundingTime),
		})
	}
	return records, nil
}

// GetAccountInfo returns the full perpetual account snapshot.
func (p *PerpExchange) GetAccountInfo(ctx context.Context) (*core.PerpAccount, error) {
	var wire struct {
		TotalWalletBalance    decimal.Decimal `json:"totalWalletBalance"`
		TotalMarginBalance    decimal.Decimal `json:"totalMarginBalance"`
		TotalUnrealizedProfit decimal.Decimal `json:"totalUnrealizedProfit"`
		AvailableBalance      decimal.Decimal `json:"availableBalance"`
		Assets                []struct {
			Asset            string          `json:"asset"`
			WalletBalance    decimal.Decimal `json:"walletBalance"`
			MarginBalance    decimal.Decimal `json:"marginBalance"`
			AvailableBalance decimal.Decimal `json:"availableBalance"`
			UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
		} `json:"assets"`
		Positions []struct {
			Symbol           string          `json:"symbol"`
			PositionAmt      decimal.Decimal `json:"positionAmt"`
			EntryPrice       decimal.Decimal `json:"entryPrice"`
			MarkPrice        decimal.Decimal `json:"markPrice"`
			UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
			LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
			Leverage         decimal.Decimal `json:"leverage"`
		} `json:"positions"`
	}
	if err := p.rest.get(ctx, "/fapi/v3/account", nil, &wire, httpx.WithSigner(p.typed)); err != nil {
		return nil, fmt.Errorf("failed to fetch perp account: %w", err)
	}
	account := &core.PerpAccount{
		TotalWalletBalance:    wire.TotalWalletBalance,
		TotalMarginBalance:    wire.TotalMarginBalance,
		TotalUnrealizedProfit: wire.TotalUnrealizedProfit,
		AvailableBalance:      wire.AvailableBalance,
	}
	for _, a := range wire.Assets {
		account.Assets = append(account.Assets, core.PerpAsset{
			Asset:            a.Asset,
			WalletBalance:    a.WalletBalance,
			MarginBalance:    a.MarginBalance,
			AvailableBalance: a.AvailableBalance,
			UnrealizedProfit: a.UnrealizedProfit,
		})
	}
	for _, pos := range wire.Positions {
		account.Positions = append(account.Positions, core.PerpPosition{
			Symbol:           pos.Symbol,
			PositionAmt:      pos.PositionAmt,
			EntryPrice:       pos.EntryPrice,
			MarkPrice:        pos.MarkPrice,
			UnrealizedProfit: pos.UnrealizedProfit,
			LiquidationPrice: pos.LiquidationPrice,
			Leverage:         pos.Leverage,
		})
	}
	return account, nil
}

// GetLeverage reads the configured leverage for a symbol from the account
// snapshot. Symbols without a position row default to 1.
func (p *PerpExchange) GetLeverage(ctx context.Context, symbol string) (int, error) {
	account, err := p.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	for _, pos := range account.Positions {
		if pos.Symbol == symbol && !pos.Leverage.IsZero() {
			return int(pos.Leverage.IntPart()), nil
		}
	}
	return 1, nil
}

// SetLeverage sets the symbol's leverage. The endpoint accepts the HMAC
// scheme even though it lives on the perp surface. Returns true only when
// the venue echoes back the requested leverage.
func (p *PerpExchange) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	var wire struct {
		Symbol   string `json:"symbol"`
		Leverage int    `json:"leverage"`
	}
	if err := p.rest.post(ctx, "/fapi/v1/leverage", params, &wire, httpx.WithSigner(p.hmac)); err != nil {
		return false, fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	p.log.Info("leverage updated", "symbol", symbol, "leverage", wire.Leverage)
	return wire.Leverage == leverage, nil
}

// GetIncomeHistory returns income rows matching the query. Zero query
// fields are omitted from the request.
func (p *PerpExchange) GetIncomeHistory(ctx context.Context, query core.IncomeQuery) ([]core.IncomeRecord, error) {
	params := map[string]string{}
	if query.Symbol != "" {
		params["symbol"] = query.Symbol
	}
	if query.IncomeType != "" {
		params["incomeType"] = query.IncomeType
	}
	if !query.StartTime.IsZero() {
		params["startTime"] = strconv.FormatInt(query.StartTime.UnixMilli(), 10)
	}
	if !query.EndTime.IsZero() {
		params["endTime"] = strconv.FormatInt(query.EndTime.UnixMilli(), 10)
	}
	if query.Limit > 0 {
		params["limit"] = strconv.Itoa(query.Limit)
	}
	var wire []struct {
		Symbol     string          `json:"symbol"`
		IncomeType string          `json:"incomeType"`
		Income     decimal.Decimal `json:"income"`
		Asset      string          `json:"asset"`
		Time       int64           `json:"time"`
	}
	if err := p.rest.get(ctx, "/fapi/v1/income", params, &wire, httpx.WithSigner(p.hmac)); err != nil {
		return nil, fmt.Errorf("failed to fetch income history: %w", err)
	}
	records := make([]core.IncomeRecord, 0, len(wire))
	for _, w := range wire {
		records = append(records, core.IncomeRecord{
			Symbol:     w.Symbol,
			IncomeType: w.IncomeType,
			Income:     w.Income,
			Asset:      w.Asset,
			Time:       time.UnixMilli(w.Time),
		})
	}
	return records, nil
}

// GetUserTrades returns up to limit fills for the symbol, oldest first.
func (p *PerpExchange) GetUserTrades(ctx context.Context, symbol string, limit int) ([]core.UserTrade, error) {
	params := map[string]string{"symbol": symbol}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var wire []struct {
		Symbol      string          `json:"symbol"`
		ID          int64           `json:"id"`
		OrderID     int64           `json:"orderId"`
		Side        string          `json:"side"`
		Price       decimal.Decimal `json:"price"`
		Qty         decimal.Decimal `json:"qty"`
		QuoteQty    decimal.Decimal `json:"quoteQty"`
		Commission  decimal.Decimal `json:"commission"`
		RealizedPnl decimal.Decimal `json:"realizedPnl"`
		Time        int64           `json:"time"`
	}
	if err := p.rest.get(ctx, "/fapi/v1/userTrades", params, &wire, httpx.WithSigner(p.hmac)); err != nil {
		return nil, fmt.Errorf("failed to fetch trades for %s: %w", symbol, err)
	}
	trades := make([]core.UserTrade, 0, len(wire))
	for _, w := range wire {
		trades = append(trades, core.UserTrade{
			Symbol:      w.Symbol,
			ID:          w.ID,
			OrderID:     w.OrderID,
			Side:        w.Side,
			Price:       w.Price,
			Qty:         w.Qty,
			QuoteQty:    w.QuoteQty,
			Commission:  w.Commission,
			RealizedPnl: w.RealizedPnl,
			Time:        time.UnixMilli(w.Time),
		})
	}
	return trades, nil
}

// Transfer moves an asset between the spot and perp wallets.
func (p *PerpExchange) Transfer(ctx context.Context, asset string, amount decimal.Decimal, direction core.TransferDirection) (*core.TransferResult, error) {
	kind, ok := transferKinds[direction]
	if !ok {
		return nil, apperrors.ValidationError{Field: "direction", Value: string(direction), Message: "unknown transfer direction"}
	}
	if asset == "" {
		return nil, apperrors.ValidationError{Field: "asset", Message: "must not be empty"}
	}
	if !amount.IsPositive() {
		return nil, apperrors.ValidationError{Field: "amount", Value: amount.String(), Message: "must be positive"}
	}
	params := map[string]string{
		"asset":        asset,
		"amount":       amount.String(),
		"kindType":     kind,
		"clientTranId": fmt.Sprintf("transfer_%d", time.Now().UnixMicro()),
	}
	p.log.Info("transferring between wallets", "asset", asset, "amount", amount.String(), "direction", string(direction))
	var wire struct {
		TranID json.RawMessage `json:"tranId"`
		Status string          `json:"status"`
	}
	if err := p.rest.post(ctx, "/fapi/v3/asset/wallet/transfer", params, &wire, httpx.WithSigner(p.typed)); err != nil {
		return nil, fmt.Errorf("failed to transfer %s %s: %w", amount.String(), asset, err)
	}
	return &core.TransferResult{
		TranID:       strings.Trim(string(wire.TranID), `"`),
		ClientTranID: params["clientTranId"],
		Status:       wire.Status,
		Asset:        asset,
		Amount:       amount,
		Direction:    direction,
	}, nil
}

// PlaceLimit submits a GTC limit order.
func (p *PerpExchange) PlaceLimit(ctx context.Context, symbol string, price, quantity decimal.Decimal, side string, reduceOnly bool) (*core.Order, error) {
	return p.placeOrder(ctx, perpOrderRequest{
		symbol:     symbol,
		side:       side,
		orderType:  core.OrderTypeLimit,
		price:      price,
		quantity:   quantity,
		reduceOnly: reduceOnly,
	})
}

// PlaceMarket submits a market order.
func (p *PerpExchange) PlaceMarket(ctx context.Context, symbol string, quantity decimal.Decimal, side string) (*core.Order, error) {
	return p.placeOrder(ctx, perpOrderRequest{
		symbol:    symbol,
		side:      side,
		orderType: core.OrderTypeMarket,
		quantity:  quantity,
	})
}

// ClosePosition submits a reduce-only market order, so a stale quantity can
// shrink the position but never flip its sign.
func (p *PerpExchange) ClosePosition(ctx context.Context, symbol string, quantity decimal.Decimal, sideToClose string) (*core.Order, error) {
	return p.placeOrder(ctx, perpOrderRequest{
		symbol:       symbol,
		side:         sideToClose,
		orderType:    core.OrderTypeMarket,
		quantity:     quantity,
		reduceOnly:   true,
		positionSide: "BOTH",
	})
}

type perpOrderRequest struct {
	symbol       string
	side         string
	orderType    string
	quantity     decimal.Decimal
	price        decimal.Decimal
	reduceOnly   bool
	positionSide string
}

func (p *PerpExchange) placeOrder(ctx context.Context, req perpOrderRequest) (*core.Order, error) {
	if !req.quantity.IsPositive() {
		return nil, apperrors.ValidationError{Field: "quantity", Value: req.quantity.String(), Message: "must be positive"}
	}
	if _, err := p.GetSymbolInfo(ctx, req.symbol, false); err != nil {
		return nil, err
	}
	qty, err := p.filters.formatQty(req.symbol, req.quantity)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"symbol":           req.symbol,
		"side":             req.side,
		"type":             req.orderType,
		"quantity":         qty,
		"newClientOrderId": uuid.NewString(),
	}
	if req.orderType == core.OrderTypeLimit {
		price, err := p.filters.formatPrice(req.symbol, req.price)
		if err != nil {
			return nil, err
		}
		params["price"] = price
		params["timeInForce"] = "GTC"
	}
	if req.reduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.positionSide != "" {
		params["positionSide"] = req.positionSide
	}
	p.log.Info("placing perp order",
		"symbol", req.symbol, "side", req.side, "type", req.orderType,
		"quantity", qty, "reduceOnly", req.reduceOnly)
	var wire wirePerpOrder
	if err := p.rest.post(ctx, "/fapi/v3/order", params, &wire, httpx.WithSigner(p.typed)); err != nil {
		return nil, fmt.Errorf("failed to place perp %s %s for %s: %w", req.side, req.orderType, req.symbol, err)
	}
	return wire.toOrder(), nil
}

// GetOrder fetches the current state of one perp order.
func (p *PerpExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	params := map[string]string{"symbol": symbol, "orderId": strconv.FormatInt(orderID, 10)}
	var wire wirePerpOrder
	if err := p.rest.get(ctx, "/fapi/v1/order", params, &wire, httpx.WithSigner(p.hmac)); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

// CancelOrder cancels one perp order and returns its final state.
func (p *PerpExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	params := map[string]string{"symbol": symbol, "orderId": strconv.FormatInt(orderID, 10)}
	var wire wirePerpOrder
	if err := p.rest.del(ctx, "/fapi/v1/order", params, &wire, httpx.WithSigner(p.hmac)); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

type wirePerpOrder struct {
	Symbol        string          `json:"symbol"`
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	CumQuote      decimal.Decimal `json:"cumQuote"`
	Status        string          `json:"status"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	ReduceOnly    bool            `json:"reduceOnly"`
	UpdateTime    int64           `json:"updateTime"`
}

func (w wirePerpOrder) toOrder() *core.Order {
	return &core.Order{
		Symbol:        w.Symbol,
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Side:          w.Side,
		Type:          w.Type,
		Status:        w.Status,
		Price:         w.Price,
		AvgPrice:      w.AvgPrice,
		OrigQty:       w.OrigQty,
		ExecutedQty:   w.ExecutedQty,
		CumQuote:      w.CumQuote,
		ReduceOnly:    w.ReduceOnly,
		UpdateTime:    time.UnixMilli(w.UpdateTime),
	}
}
