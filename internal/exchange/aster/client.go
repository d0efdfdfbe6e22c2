// Package aster adapts the venue's two REST market surfaces to the core
// venue interfaces. The spot surface signs private calls with HMAC-SHA256;
// the perp surface mixes unsigned market data, HMAC-signed v1 account
// endpoints, and typed-signature v3 trading endpoints.
package aster

import (
	"context"
	"encoding/json"
	"fmt"

	"funding_harvester/internal/core"
	httpx "funding_harvester/pkg/http"
)

// Credentials is the venue credential set. The API key pair signs spot and
// perp v1 private calls; the Ethereum triple signs perp v3 calls.
type Credentials struct {
	APIKey     string
	APISecret  string
	User       string
	Signer     string
	PrivateKey string
}

// restClient wraps the pooled HTTP client with venue error refinement and
// response decoding shared by both surfaces.
type restClient struct {
	http *httpx.Client
	log  core.ILogger
}

func (c *restClient) get(ctx context.Context, path string, params map[string]string, out interface{}, opts ...httpx.Option) error {
	body, err := c.http.Get(ctx, path, params, opts...)
	if err != nil {
		return refineError(err)
	}
	return decodeResponse(body, out)
}

func (c *restClient) post(ctx context.Context, path string, params map[string]string, out interface{}, opts ...httpx.Option) error {
	body, err := c.http.Post(ctx, path, params, opts...)
	if err != nil {
		return refineError(err)
	}
	return decodeResponse(body, out)
}

func (c *restClient) del(ctx context.Context, path string, params map[string]string, out interface{}, opts ...httpx.Option) error {
	body, err := c.http.Delete(ctx, path, params, opts...)
	if err != nil {
		return refineError(err)
	}
	return decodeResponse(body, out)
}

// decodeResponse guards against 2xx bodies that carry the venue's error
// envelope before unmarshalling into out.
func decodeResponse(body []byte, out interface{}) error {
	if ve := parseVenueBody(body); ve != nil {
		return ve
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode venue response: %w", err)
	}
	return nil
}

// Both surfaces publish exchange info in the same shape; only the filter
// spelling differs slightly between them.
type wireExchangeInfo struct {
	Symbols []wireSymbol `json:"symbols"`
}

type wireSymbol struct {
	Symbol              string       `json:"symbol"`
	Status              string       `json:"status"`
	BaseAsset           string       `json:"baseAsset"`
	QuoteAsset          string       `json:"quoteAsset"`
	QuoteAssetPrecision int          `json:"quoteAssetPrecision"`
	QuotePrecision      int          `json:"quotePrecision"`
	Filters             []wireFilter `json:"filters"`
}

type wireFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
	Notional    string `json:"notional"`
}

// symbolsFromWire flattens exchange info into the filter cache shape.
// Filter strings are kept verbatim: formatting precision is derived from
// the printed form.
func symbolsFromWire(info wireExchangeInfo) map[string]core.SymbolInfo {
	symbols := make(map[string]core.SymbolInfo, len(info.Symbols))
	for _, w := range info.Symbols {
		s := core.SymbolInfo{
			Symbol:              w.Symbol,
			Status:              w.Status,
			BaseAsset:           w.BaseAsset,
			QuoteAsset:          w.QuoteAsset,
			QuoteAssetPrecision: w.QuoteAssetPrecision,
		}
		if s.QuoteAssetPrecision == 0 {
			s.QuoteAssetPrecision = w.QuotePrecision
		}
		for _, f := range w.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				s.StepSize = f.StepSize
				s.MinQty = f.MinQty
			case "PRICE_FILTER":
				s.TickSize = f.TickSize
			case "MIN_NOTIONAL", "NOTIONAL":
				if f.MinNotional != "" {
					s.MinNotional = f.MinNotional
				} else {
					s.MinNotional = f.Notional
				}
			}
		}
		symbols[w.Symbol] = s
	}
	return symbols
}
