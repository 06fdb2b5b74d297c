// Package application 行情服务的用例逻辑
package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
)

// StockService 股票目录应用服务
type StockService struct {
	repo domain.StockRepository
}

// NewStockService 创建股票目录应用服务
func NewStockService(repo domain.StockRepository) *StockService {
	return &StockService{repo: repo}
}

// CreateStock 创建目录条目
// 目录初始化由外围系统触发，重复代码返回 ErrStockExists
func (s *StockService) CreateStock(ctx context.Context, symbol, displayName string, initialPrice decimal.Decimal) (*domain.Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol
	}
	if initialPrice.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}

	existing, err := s.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing stock: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrStockExists
	}

	stock := domain.NewStock(symbol, displayName, initialPrice)
	if err := s.repo.Save(ctx, stock); err != nil {
		logger.Error(ctx, "Failed to save stock", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to save stock: %w", err)
	}

	logger.Info(ctx, "Stock created", "symbol", symbol, "price", initialPrice.String())
	return stock, nil
}

// GetStock 按代码获取股票
func (s *StockService) GetStock(ctx context.Context, symbol string) (*domain.Stock, error) {
	stock, err := s.repo.GetBySymbol(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	if stock == nil {
		return nil, domain.ErrStockNotFound
	}
	return stock, nil
}

// ListStocks 获取全部股票
func (s *StockService) ListStocks(ctx context.Context) ([]*domain.Stock, error) {
	stocks, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	return stocks, nil
}
