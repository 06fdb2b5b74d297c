// Package pricing 交易侧的行情适配
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
	marketapp "github.com/stocksim/stocktrading/internal/market/application"
	tradedomain "github.com/stocksim/stocktrading/internal/trade/domain"
)

// StockPriceReader 从行情上下文读取当前价
type StockPriceReader struct {
	stocks *marketapp.StockService
}

// NewStockPriceReader 创建行情适配器
func NewStockPriceReader(stocks *marketapp.StockService) tradedomain.PriceReader {
	return &StockPriceReader{stocks: stocks}
}

// CurrentPrice 返回目录中记录的当前价
// 符号不存在时透传行情上下文的 ErrStockNotFound
func (r *StockPriceReader) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	stock, err := r.stocks.GetStock(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return stock.CurrentPrice, nil
}
