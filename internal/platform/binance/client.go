// Package binance is the REST and websocket client for the Binance spot API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/crypto"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// ErrorSink receives one record per failed exchange call.
type ErrorSink interface {
	Create(ctx context.Context, entry domain.ErrorLog) error
}

// ClientConfig holds the REST client settings.
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	RecvWindow      int64
	HTTPTimeout     time.Duration
	WeightPerMinute int
}

// Client is the REST client for the Binance spot API. Order calls are signed
// with HMAC-SHA256; symbol filters are cached for the life of the client.
type Client struct {
	baseURL         string
	auth            *crypto.HMACAuth
	recvWindow      int64
	httpClient      *http.Client
	limiter         domain.RateLimiter
	weightPerMinute int
	errLog          ErrorSink
	logger          *slog.Logger

	filtersMu sync.RWMutex
	filters   map[string]SymbolFilters
}

// NewClient creates a Binance client. limiter and errLog may be nil.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter, errLog ErrorSink, logger *slog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		auth:            &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		recvWindow:      cfg.RecvWindow,
		httpClient:      &http.Client{Timeout: timeout},
		limiter:         limiter,
		weightPerMinute: cfg.WeightPerMinute,
		errLog:          errLog,
		logger:          logger.With(slog.String("component", "binance")),
		filters:         make(map[string]SymbolFilters),
	}
}

// ExchangeInfo returns the trading rules for the given symbols, or for every
// symbol when none are passed.
func (c *Client) ExchangeInfo(ctx context.Context, symbols ...string) (ExchangeInfo, error) {
	params := url.Values{}
	switch len(symbols) {
	case 0:
	case 1:
		params.Set("symbol", symbols[0])
	default:
		raw, _ := json.Marshal(symbols)
		params.Set("symbols", string(raw))
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return ExchangeInfo{}, fmt.Errorf("binance: exchange info: %w", err)
	}
	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return ExchangeInfo{}, fmt.Errorf("binance: decode exchange info: %w", err)
	}
	return info, nil
}

// Filters returns the cached filters for symbol, fetching them on first use.
func (c *Client) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	c.filtersMu.RLock()
	f, ok := c.filters[symbol]
	c.filtersMu.RUnlock()
	if ok {
		return f, nil
	}

	info, err := c.ExchangeInfo(ctx, symbol)
	if err != nil {
		return SymbolFilters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f, err := filtersFromInfo(s)
		if err != nil {
			return SymbolFilters{}, err
		}
		c.filtersMu.Lock()
		c.filters[symbol] = f
		c.filtersMu.Unlock()
		return f, nil
	}
	return SymbolFilters{}, fmt.Errorf("binance: symbol %s: %w", symbol, domain.ErrNotFound)
}

// TickerPrice returns the last traded price of symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: ticker price %s: %w", symbol, err)
	}
	var tp TickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Zero, fmt.Errorf("binance: decode ticker price: %w", err)
	}
	return parseDecimal(tp.Price)
}

// Account returns the spot account balances.
func (c *Client) Account(ctx context.Context) (AccountInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("binance: account: %w", err)
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return AccountInfo{}, fmt.Errorf("binance: decode account: %w", err)
	}
	return info, nil
}

// PlaceMarketBuy buys qty of the symbol's base asset at market.
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error) {
	return c.placeMarket(ctx, symbol, domain.OrderSideBuy, qty)
}

// PlaceMarketSell sells qty of the symbol's base asset at market.
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (domain.OrderResult, error) {
	return c.placeMarket(ctx, symbol, domain.OrderSideSell, qty)
}

// placeMarket returns the parsed order even when it fails, so an order that
// expired after filling part of its quantity still reports what executed.
func (c *Client) placeMarket(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal) (domain.OrderResult, error) {
	result, err := c.submitMarket(ctx, symbol, side, qty)
	if err != nil {
		c.recordFailure(ctx, symbol, side, qty, err)
		return result, err
	}
	return result, nil
}

func (c *Client) submitMarket(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal) (domain.OrderResult, error) {
	filters, err := c.Filters(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	price, err := c.TickerPrice(ctx, symbol)
	if err != nil {
		return domain.OrderResult{}, err
	}
	adjusted, err := NormalizeQuantity(qty, price, filters)
	if err != nil {
		return domain.OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", adjusted.String())
	params.Set("newOrderRespType", "FULL")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: market %s %s: %w", strings.ToLower(string(side)), symbol, err)
	}

	var resp APIOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order: %w", err)
	}
	result, err := resp.ToDomain()
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: order %d: %w", resp.OrderID, err)
	}
	result.RequestedQty = adjusted
	if result.Status == "EXPIRED" || result.Status == "REJECTED" || result.ExecutedQty.IsZero() {
		return result, fmt.Errorf("binance: order %s status %s: %w", result.ExchangeOrderID, result.Status, domain.ErrExchangeRejected)
	}

	c.logger.InfoContext(ctx, "market order filled",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("executed_qty", result.ExecutedQty.String()),
		slog.Int("fills", len(result.Fills)),
	)
	return result, nil
}

// recordFailure writes the failed request to the error sink. It uses a
// detached context because ctx is often the one that timed out.
func (c *Client) recordFailure(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, cause error) {
	c.logger.ErrorContext(ctx, "market order failed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("quantity", qty.String()),
		slog.String("error", cause.Error()),
	)
	if c.errLog == nil {
		return
	}

	request, _ := json.Marshal(map[string]string{"symbol": symbol, "side": string(side), "quantity": qty.String()})
	details, _ := json.Marshal(map[string]string{"request": string(request), "error": cause.Error()})

	logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.errLog.Create(logCtx, domain.ErrorLog{
		Message: fmt.Sprintf("Error placing market %s order", strings.ToLower(string(side))),
		Details: string(details),
		Context: "binance.Client.PlaceMarket" + titleSide(side),
	})
	if err != nil {
		c.logger.WarnContext(ctx, "error log write failed", slog.String("error", err.Error()))
	}
}

func titleSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends one request. Signed requests carry timestamp, recvWindow and the
// HMAC signature in the query string and the API key in X-MBX-APIKEY.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if c.limiter != nil && c.weightPerMinute > 0 {
		if err := c.limiter.Wait(ctx, "binance:weight", c.weightPerMinute, time.Minute); err != nil {
			return nil, classify(err)
		}
	}

	var query string
	if signed {
		query = c.auth.SignedQuery(params, c.recvWindow)
	} else {
		query = params.Encode()
	}
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// classify maps transport failures onto the domain taxonomy.
func classify(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrExchangeTimeout, err)
	}
	return fmt.Errorf("http request: %w", err)
}

// checkStatus maps non-2xx responses to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("HTTP %d: %s (code %d)", statusCode, apiErr.Msg, apiErr.Code)

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%s: %w: %w", detail, domain.ErrRateLimited, domain.ErrExchangeRejected)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || apiErr.Code == -2015:
		return fmt.Errorf("%s: %w: %w", detail, domain.ErrUnauthorized, domain.ErrExchangeRejected)
	case statusCode >= 500:
		// Binance documents 5xx as "execution status unknown".
		return fmt.Errorf("%s: %w", detail, domain.ErrExchangeTimeout)
	default:
		return fmt.Errorf("%s: %w", detail, domain.ErrExchangeRejected)
	}
}
