package aster

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"funding_harvester/internal/core"
	apperrors "funding_harvester/pkg/errors"
	httpx "funding_harvester/pkg/http"
	"funding_harvester/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perpExchangeInfoBody = `{"symbols":[
	{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","quotePrecision":8,
	 "filters":[{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
	            {"filterType":"PRICE_FILTER","tickSize":"0.10"},
	            {"filterType":"MIN_NOTIONAL","notional":"5"}]},
	{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT","quotePrecision":8,
	 "filters":[{"filterType":"LOT_SIZE","stepSize":"0.01","minQty":"0.01"},
	            {"filterType":"PRICE_FILTER","tickSize":"0.01"}]}
]}`

const perpAccountBody = `{
	"totalWalletBalance":"2500.00000000","totalMarginBalance":"2510.00000000",
	"totalUnrealizedProfit":"10.00000000","availableBalance":"1200.00000000",
	"assets":[{"asset":"USDT","walletBalance":"2500.00000000","marginBalance":"2510.00000000",
	           "availableBalance":"1200.00000000","unrealizedProfit":"10.00000000"}],
	"positions":[
	  {"symbol":"BTCUSDT","positionAmt":"-0.500","entryPrice":"40000.0","markPrice":"40100.0",
	   "unrealizedProfit":"-50.0","liquidationPrice":"81000.0","leverage":"1"},
	  {"symbol":"ETHUSDT","positionAmt":"0.000","entryPrice":"0.0","markPrice":"0.0",
	   "unrealizedProfit":"0.0","liquidationPrice":"0","leverage":"5"}]}`

const perpOrderBody = `{"symbol":"BTCUSDT","orderId":777,"clientOrderId":"x-1","price":"0",
	"avgPrice":"40100.0","origQty":"0.500","executedQty":"0.500","cumQuote":"20050.0",
	"status":"FILLED","type":"MARKET","side":"SELL","reduceOnly":false,"updateTime":1700000000456}`

type fakePerpVenue struct {
	lastOrderQuery    url.Values
	lastLeverageReq   *http.Request
	lastTransferQuery url.Values
	lastIncomeQuery   url.Values
	lastAccountQuery  url.Values
}

func (f *fakePerpVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, perpExchangeInfoBody)
	})
	mux.HandleFunc("/fapi/v1/ticker/bookTicker", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"symbol":"BTCUSDT","bidPrice":"40099.9","bidQty":"10","askPrice":"40100.1","askQty":"8"}`)
	})
	mux.HandleFunc("/fapi/v1/fundingRate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") == "1" {
			io.WriteString(w, `[{"symbol":"BTCUSDT","fundingRate":"0.00031000","fundingTime":1700000000000}]`)
			return
		}
		io.WriteString(w, `[
			{"symbol":"BTCUSDT","fundingRate":"0.00010000","fundingTime":1699971200000},
			{"symbol":"BTCUSDT","fundingRate":"0.00031000","fundingTime":1700000000000}]`)
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		f.lastLeverageReq = r.Clone(r.Context())
		io.WriteString(w, `{"symbol":"BTCUSDT","leverage":1,"maxNotionalValue":"1000000"}`)
	})
	mux.HandleFunc("/fapi/v1/income", func(w http.ResponseWriter, r *http.Request) {
		f.lastIncomeQuery = r.URL.Query()
		io.WriteString(w, `[
			{"symbol":"BTCUSDT","incomeType":"FUNDING_FEE","income":"1.25000000","asset":"USDT","time":1699980000000},
			{"symbol":"BTCUSDT","incomeType":"FUNDING_FEE","income":"0.75000000","asset":"USDT","time":1700008800000}]`)
	})
	mux.HandleFunc("/fapi/v1/userTrades", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[
			{"symbol":"BTCUSDT","id":1,"orderId":10,"side":"SELL","price":"40000.0","qty":"0.300",
			 "quoteQty":"12000.0","commission":"4.8","realizedPnl":"0","time":1699970000000},
			{"symbol":"BTCUSDT","id":2,"orderId":11,"side":"SELL","price":"40050.0","qty":"0.200",
			 "quoteQty":"8010.0","commission":"3.2","realizedPnl":"0","time":1699975000000}]`)
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		f.lastOrderQuery = r.URL.Query()
		io.WriteString(w, perpOrderBody)
	})
	mux.HandleFunc("/fapi/v3/account", func(w http.ResponseWriter, r *http.Request) {
		f.lastAccountQuery = r.URL.Query()
		io.WriteString(w, perpAccountBody)
	})
	mux.HandleFunc("/fapi/v3/order", func(w http.ResponseWriter, r *http.Request) {
		f.lastOrderQuery = r.URL.Query()
		io.WriteString(w, perpOrderBody)
	})
	mux.HandleFunc("/fapi/v3/asset/wallet/transfer", func(w http.ResponseWriter, r *http.Request) {
		f.lastTransferQuery = r.URL.Query()
		io.WriteString(w, `{"tranId":1234567890123,"status":"SUCCESS"}`)
	})
	return mux
}

func newTestPerp(t *testing.T) (*PerpExchange, *fakePerpVenue) {
	t.Helper()
	fake := &fakePerpVenue{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client := httpx.NewClient(srv.URL, 5*time.Second, 0)
	creds := Credentials{
		APIKey:     testAPIKey,
		APISecret:  testSecret,
		User:       testAddress,
		Signer:     testAddress,
		PrivateKey: testPrivateKey,
	}
	perp, err := NewPerpExchange(client, creds, logging.NewNopLogger())
	require.NoError(t, err)
	return perp, fake
}

func TestPerpExchange_GetFundingRateHistory(t *testing.T) {
	perp, _ := newTestPerp(t)

	records, err := perp.GetFundingRateHistory(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[1].FundingRate.Equal(decimal.RequireFromString("0.00031")))
	assert.Equal(t, time.UnixMilli(1700000000000), records[1].FundingTime)
}

func TestPerpExchange_GetAccountInfoTypedSigned(t *testing.T) {
	perp, fake := newTestPerp(t)

	account, err := perp.GetAccountInfo(context.Background())
	require.NoError(t, err)

	assert.True(t, account.TotalWalletBalance.Equal(decimal.NewFromInt(2500)))
	require.Len(t, account.Positions, 2)
	active := account.ActivePositions()
	require.Len(t, active, 1)
	assert.Equal(t, "BTCUSDT", active[0].Symbol)
	assert.True(t, active[0].IsShort())

	q := fake.lastAccountQuery
	assert.Equal(t, testAddress, q.Get("user"))
	assert.Equal(t, testAddress, q.Get("signer"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.True(t, strings.HasPrefix(q.Get("signature"), "0x"))
}

func TestPerpExchange_GetLeverage(t *testing.T) {
	perp, _ := newTestPerp(t)
	ctx := context.Background()

	lev, err := perp.GetLeverage(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 5, lev)

	// No position row defaults to 1x.
	lev, err = perp.GetLeverage(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, lev)
}

func TestPerpExchange_SetLeverageUsesHMAC(t *testing.T) {
	perp, fake := newTestPerp(t)

	ok, err := perp.SetLeverage(context.Background(), "BTCUSDT", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// The fake echoes 1x regardless, so asking for 3x must not report success.
	ok, err = perp.SetLeverage(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NotNil(t, fake.lastLeverageReq)
	q := fake.lastLeverageReq.URL.Query()
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	assert.Equal(t, "1", q.Get("leverage"))
	assert.NotEmpty(t, q.Get("signature"))
	assert.Empty(t, q.Get("user"), "leverage endpoint signs with the key pair, not the wallet")
	assert.Equal(t, testAPIKey, fake.lastLeverageReq.Header.Get("X-MBX-APIKEY"))
}

func TestPerpExchange_GetIncomeHistoryQuery(t *testing.T) {
	perp, fake := newTestPerp(t)

	start := time.UnixMilli(1699970000000)
	records, err := perp.GetIncomeHistory(context.Background(), core.IncomeQuery{
		Symbol:     "BTCUSDT",
		IncomeType: core.IncomeTypeFundingFee,
		StartTime:  start,
		Limit:      1000,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Income.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, "USDT", records[0].Asset)

	q := fake.lastIncomeQuery
	assert.Equal(t, "FUNDING_FEE", q.Get("incomeType"))
	assert.Equal(t, "1699970000000", q.Get("startTime"))
	assert.Equal(t, "1000", q.Get("limit"))
	assert.Empty(t, q.Get("endTime"), "zero query fields must be omitted")
}

func TestPerpExchange_GetUserTrades(t *testing.T) {
	perp, _ := newTestPerp(t)

	trades, err := perp.GetUserTrades(context.Background(), "BTCUSDT", 1000)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	running := decimal.Zero
	for _, tr := range trades {
		running = running.Add(tr.SignedQty())
	}
	assert.True(t, running.Equal(decimal.RequireFromString("-0.5")))
}

func TestPerpExchange_Transfer(t *testing.T) {
	perp, fake := newTestPerp(t)

	result, err := perp.Transfer(context.Background(), "USDT", decimal.RequireFromString("250.5"), core.TransferSpotToPerp)
	require.NoError(t, err)

	assert.Equal(t, "1234567890123", result.TranID)
	assert.True(t, result.Succeeded())
	assert.Equal(t, core.TransferSpotToPerp, result.Direction)

	q := fake.lastTransferQuery
	assert.Equal(t, "SPOT_FUTURE", q.Get("kindType"))
	assert.Equal(t, "USDT", q.Get("asset"))
	assert.Equal(t, "250.5", q.Get("amount"))
	assert.True(t, strings.HasPrefix(q.Get("clientTranId"), "transfer_"))
	assert.Equal(t, testAddress, q.Get("user"))
}

func TestPerpExchange_TransferValidation(t *testing.T) {
	perp, fake := newTestPerp(t)
	ctx := context.Background()

	var ve apperrors.ValidationError
	_, err := perp.Transfer(ctx, "USDT", decimal.NewFromInt(10), core.TransferDirection("SIDEWAYS"))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "direction", ve.Field)

	_, err = perp.Transfer(ctx, "USDT", decimal.Zero, core.TransferPerpToSpot)
	require.ErrorAs(t, err, &ve)

	assert.Nil(t, fake.lastTransferQuery, "validation failures must not reach the venue")
}

func TestPerpExchange_PlaceMarketFormatsQuantity(t *testing.T) {
	perp, fake := newTestPerp(t)

	order, err := perp.PlaceMarket(context.Background(), "BTCUSDT", decimal.RequireFromString("0.5009"), core.SideSell)
	require.NoError(t, err)

	q := fake.lastOrderQuery
	assert.Equal(t, "SELL", q.Get("side"))
	assert.Equal(t, "MARKET", q.Get("type"))
	assert.Equal(t, "0.5", q.Get("quantity"))
	assert.Empty(t, q.Get("reduceOnly"))
	assert.Empty(t, q.Get("timeInForce"))
	assert.Equal(t, int64(777), order.OrderID)
}

func TestPerpExchange_PlaceLimitFormatsPrice(t *testing.T) {
	perp, fake := newTestPerp(t)

	_, err := perp.PlaceLimit(context.Background(), "BTCUSDT",
		decimal.RequireFromString("40100.156"), decimal.RequireFromString("0.25"), core.SideBuy, false)
	require.NoError(t, err)

	q := fake.lastOrderQuery
	assert.Equal(t, "LIMIT", q.Get("type"))
	assert.Equal(t, "40100.1", q.Get("price"))
	assert.Equal(t, "GTC", q.Get("timeInForce"))
}

func TestPerpExchange_ClosePositionIsReduceOnly(t *testing.T) {
	perp, fake := newTestPerp(t)

	_, err := perp.ClosePosition(context.Background(), "BTCUSDT", decimal.RequireFromString("0.5"), core.SideBuy)
	require.NoError(t, err)

	q := fake.lastOrderQuery
	assert.Equal(t, "BUY", q.Get("side"))
	assert.Equal(t, "MARKET", q.Get("type"))
	assert.Equal(t, "true", q.Get("reduceOnly"))
	assert.Equal(t, "BOTH", q.Get("positionSide"))
}

func TestPerpExchange_OrderLookupAndCancelUseV1(t *testing.T) {
	perp, fake := newTestPerp(t)
	ctx := context.Background()

	order, err := perp.GetOrder(ctx, "BTCUSDT", 777)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", order.Status)
	assert.NotEmpty(t, fake.lastOrderQuery.Get("signature"))
	assert.Empty(t, fake.lastOrderQuery.Get("user"))

	_, err = perp.CancelOrder(ctx, "BTCUSDT", 777)
	require.NoError(t, err)
	assert.Equal(t, "777", fake.lastOrderQuery.Get("orderId"))
}
