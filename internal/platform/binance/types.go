package binance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// SymbolFilter is one entry of a symbol's "filters" array in exchangeInfo.
// Only the fields used for quantity normalisation are decoded.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	Notional    string `json:"notional,omitempty"`
}

// SymbolInfo is one symbol of the exchangeInfo response.
type SymbolInfo struct {
	Symbol             string         `json:"symbol"`
	Status             string         `json:"status"`
	BaseAsset          string         `json:"baseAsset"`
	BaseAssetPrecision int            `json:"baseAssetPrecision"`
	QuoteAsset         string         `json:"quoteAsset"`
	QuotePrecision     int            `json:"quotePrecision"`
	Filters            []SymbolFilter `json:"filters"`
}

// ExchangeInfo is the /api/v3/exchangeInfo response.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// TickerPrice is the /api/v3/ticker/price response.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Balance is one asset entry of /api/v3/account.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo is the /api/v3/account response.
type AccountInfo struct {
	Balances []Balance `json:"balances"`
}

// APIFill is one fill of a FULL order response.
type APIFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

// APIOrderResponse is the /api/v3/order response with newOrderRespType=FULL.
type APIOrderResponse struct {
	Symbol              string    `json:"symbol"`
	OrderID             int64     `json:"orderId"`
	ClientOrderID       string    `json:"clientOrderId"`
	TransactTime        int64     `json:"transactTime"`
	OrigQty             string    `json:"origQty"`
	ExecutedQty         string    `json:"executedQty"`
	CummulativeQuoteQty string    `json:"cummulativeQuoteQty"`
	Status              string    `json:"status"`
	Type                string    `json:"type"`
	Side                string    `json:"side"`
	Fills               []APIFill `json:"fills"`
}

// APIError is the error body Binance returns with non-2xx responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ToDomain converts the wire response into a domain.OrderResult.
func (r APIOrderResponse) ToDomain() (domain.OrderResult, error) {
	out := domain.OrderResult{
		ExchangeOrderID: fmt.Sprintf("%d", r.OrderID),
		Symbol:          r.Symbol,
		Side:            domain.OrderSide(r.Side),
		Status:          r.Status,
		TransactTime:    time.UnixMilli(r.TransactTime).UTC(),
	}
	var err error
	if out.RequestedQty, err = parseDecimal(r.OrigQty); err != nil {
		return domain.OrderResult{}, fmt.Errorf("origQty: %w", err)
	}
	if out.ExecutedQty, err = parseDecimal(r.ExecutedQty); err != nil {
		return domain.OrderResult{}, fmt.Errorf("executedQty: %w", err)
	}
	if out.CummulativeQuoteQty, err = parseDecimal(r.CummulativeQuoteQty); err != nil {
		return domain.OrderResult{}, fmt.Errorf("cummulativeQuoteQty: %w", err)
	}
	for _, f := range r.Fills {
		fill := domain.Fill{CommissionAsset: f.CommissionAsset, TradeID: f.TradeID}
		if fill.Price, err = parseDecimal(f.Price); err != nil {
			return domain.OrderResult{}, fmt.Errorf("fill price: %w", err)
		}
		if fill.Qty, err = parseDecimal(f.Qty); err != nil {
			return domain.OrderResult{}, fmt.Errorf("fill qty: %w", err)
		}
		if fill.Commission, err = parseDecimal(f.Commission); err != nil {
			return domain.OrderResult{}, fmt.Errorf("fill commission: %w", err)
		}
		out.Fills = append(out.Fills, fill)
	}
	return out, nil
}

// BookTicker is the payload of a <symbol>@bookTicker stream event.
type BookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// combinedEvent wraps every message on a /stream?streams= connection.
type combinedEvent struct {
	Stream string     `json:"stream"`
	Data   BookTicker `json:"data"`
}

// parseDecimal treats an empty string as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
