// Package mysql 交易服务的 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"

	"github.com/stocksim/stocktrading/internal/trade/domain"
	"github.com/stocksim/stocktrading/pkg/db"
	"gorm.io/gorm"
)

// portfolioRepository 组合仓储实现
// ctx 中携带事务句柄时所有操作走同一事务
type portfolioRepository struct {
	db *db.DB
}

// NewPortfolioRepository 创建组合仓储实例
func NewPortfolioRepository(database *db.DB) domain.PortfolioRepository {
	return &portfolioRepository{db: database}
}

// conn 优先使用 ctx 中的事务句柄
func (r *portfolioRepository) conn(ctx context.Context) *gorm.DB {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db.DB.WithContext(ctx)
}

// WithTx 在事务中执行 fn
func (r *portfolioRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithTx(ctx, fn)
}

// CreatePortfolio 创建组合记录
func (r *portfolioRepository) CreatePortfolio(ctx context.Context, portfolio *domain.Portfolio) error {
	return r.conn(ctx).Create(portfolio).Error
}

// GetByUserID 按用户获取组合，不存在时返回 (nil, nil)
func (r *portfolioRepository) GetByUserID(ctx context.Context, userID string) (*domain.Portfolio, error) {
	var portfolio domain.Portfolio
	if err := r.conn(ctx).Where("user_id = ?", userID).First(&portfolio).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &portfolio, nil
}

// SavePortfolio 带版本校验写回余额
// WHERE 版本号与读到的一致才更新，否则视为并发冲突
func (r *portfolioRepository) SavePortfolio(ctx context.Context, portfolio *domain.Portfolio) error {
	currentVersion := portfolio.Version
	result := r.conn(ctx).Model(&domain.Portfolio{}).
		Where("id = ? AND version = ?", portfolio.ID, currentVersion).
		Updates(map[string]any{
			"cash_balance": portfolio.CashBalance,
			"version":      currentVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	portfolio.Version = currentVersion + 1
	return nil
}

// GetHolding 获取指定符号的持仓，不存在时返回 (nil, nil)
func (r *portfolioRepository) GetHolding(ctx context.Context, portfolioID uint, symbol string) (*domain.Holding, error) {
	var holding domain.Holding
	err := r.conn(ctx).
		Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).
		First(&holding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &holding, nil
}

// ListHoldings 获取组合全部持仓
func (r *portfolioRepository) ListHoldings(ctx context.Context, portfolioID uint) ([]*domain.Holding, error) {
	var holdings []*domain.Holding
	err := r.conn(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("symbol").
		Find(&holdings).Error
	if err != nil {
		return nil, err
	}
	return holdings, nil
}

// SaveHolding 新增或写回持仓
func (r *portfolioRepository) SaveHolding(ctx context.Context, holding *domain.Holding) error {
	return r.conn(ctx).Save(holding).Error
}

// DeleteHolding 删除数量归零的持仓
func (r *portfolioRepository) DeleteHolding(ctx context.Context, holding *domain.Holding) error {
	return r.conn(ctx).Delete(holding).Error
}

// AppendTransaction 追加成交流水
func (r *portfolioRepository) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	return r.conn(ctx).Create(tx).Error
}

// ListTransactions 按执行时间倒序返回流水
func (r *portfolioRepository) ListTransactions(ctx context.Context, portfolioID uint) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := r.conn(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("executed_at DESC, id DESC").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}
