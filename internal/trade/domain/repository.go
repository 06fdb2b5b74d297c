package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PortfolioRepository 组合仓储接口
// 组合、持仓、流水在 WithTx 打开的同一事务内变更
type PortfolioRepository interface {
	// WithTx 在事务中执行 fn，事务句柄通过 ctx 传递，出错自动回滚
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreatePortfolio(ctx context.Context, portfolio *Portfolio) error
	// GetByUserID 不存在时返回 (nil, nil)
	GetByUserID(ctx context.Context, userID string) (*Portfolio, error)
	// SavePortfolio 带版本校验写回，版本不匹配返回 ErrConflict
	SavePortfolio(ctx context.Context, portfolio *Portfolio) error

	// GetHolding 不存在时返回 (nil, nil)
	GetHolding(ctx context.Context, portfolioID uint, symbol string) (*Holding, error)
	ListHoldings(ctx context.Context, portfolioID uint) ([]*Holding, error)
	SaveHolding(ctx context.Context, holding *Holding) error
	DeleteHolding(ctx context.Context, holding *Holding) error

	AppendTransaction(ctx context.Context, tx *Transaction) error
	// ListTransactions 按执行时间倒序返回流水
	ListTransactions(ctx context.Context, portfolioID uint) ([]*Transaction, error)
}

// PriceReader 交易侧获取当前价的端口，由行情上下文实现
type PriceReader interface {
	// CurrentPrice 符号不存在时返回 market 上下文的 ErrStockNotFound
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
