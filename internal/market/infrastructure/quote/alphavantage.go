// Package quote Alpha Vantage 报价源实现
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
)

// AlphaVantageSource Alpha Vantage GLOBAL_QUOTE 客户端
type AlphaVantageSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaVantageSource 创建报价源客户端
// timeout 限定单次请求耗时，外层还会叠加每符号的 ctx 超时
func NewAlphaVantageSource(baseURL, apiKey string, timeout time.Duration) *AlphaVantageSource {
	return &AlphaVantageSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchPrice 获取指定符号的最新报价
// 任何失败（网络、限流、缺字段）都归一为 ErrQuoteUnavailable
func (s *AlphaVantageSource) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		s.baseURL, url.QueryEscape(symbol), url.QueryEscape(s.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: http %d", domain.ErrQuoteUnavailable, resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	// 限流或 key 失效时接口返回 Note/Information 而非报价
	if _, ok := raw["Note"]; ok {
		logger.Warn(ctx, "Alpha Vantage rate limit note", "symbol", symbol)
		return decimal.Zero, fmt.Errorf("%w: rate limited", domain.ErrQuoteUnavailable)
	}
	if _, ok := raw["Information"]; ok {
		return decimal.Zero, fmt.Errorf("%w: api information response", domain.ErrQuoteUnavailable)
	}
	if msg, ok := raw["Error Message"]; ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrQuoteUnavailable, string(msg))
	}

	var globalQuote map[string]string
	if err := json.Unmarshal(raw["Global Quote"], &globalQuote); err != nil {
		return decimal.Zero, fmt.Errorf("%w: missing global quote", domain.ErrQuoteUnavailable)
	}

	priceStr, ok := globalQuote["05. price"]
	if !ok || priceStr == "" {
		return decimal.Zero, fmt.Errorf("%w: missing price field", domain.ErrQuoteUnavailable)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil || price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", domain.ErrQuoteUnavailable, priceStr)
	}

	return price, nil
}
