package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockRepository 股票仓储接口
type StockRepository interface {
	// Save 保存股票目录条目
	Save(ctx context.Context, stock *Stock) error
	// GetBySymbol 根据代码获取股票
	GetBySymbol(ctx context.Context, symbol string) (*Stock, error)
	// List 获取全部股票
	List(ctx context.Context) ([]*Stock, error)
	// UpdatePrice 原子更新价格与更新时间
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, updatedAt time.Time) error
}

// QuoteSource 外部报价源接口
// 网络调用，不可靠；实现需要在 ctx 超时内返回
type QuoteSource interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PricePublisher 价格变动广播接口
// 发布失败不影响价格真值，调用方只记录不回滚
type PricePublisher interface {
	PublishPriceChange(ctx context.Context, event *PriceChangedEvent) error
}
