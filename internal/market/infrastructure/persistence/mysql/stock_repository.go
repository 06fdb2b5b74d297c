// Package mysql 行情服务的 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/market/domain"
	"gorm.io/gorm"
)

// stockRepository 股票仓储实现
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建并返回股票仓储实例
func NewStockRepository(db *gorm.DB) domain.StockRepository {
	return &stockRepository{db: db}
}

// Save 保存股票目录条目
func (r *stockRepository) Save(ctx context.Context, stock *domain.Stock) error {
	return r.db.WithContext(ctx).Create(stock).Error
}

// GetBySymbol 根据代码获取股票，不存在时返回 (nil, nil)
func (r *stockRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Stock, error) {
	var stock domain.Stock
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stock, nil
}

// List 获取全部股票
func (r *stockRepository) List(ctx context.Context) ([]*domain.Stock, error) {
	var stocks []*domain.Stock
	if err := r.db.WithContext(ctx).Order("symbol").Find(&stocks).Error; err != nil {
		return nil, err
	}
	return stocks, nil
}

// UpdatePrice 单语句更新价格与更新时间，读方不会看到撕裂的中间态
func (r *stockRepository) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, updatedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Stock{}).
		Where("symbol = ?", symbol).
		Updates(map[string]any{
			"current_price": price,
			"last_updated":  updatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStockNotFound
	}
	return nil
}
