// Package application 交易服务的用例逻辑
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/trade/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
	"github.com/stocksim/stocktrading/pkg/metrics"
	"github.com/stocksim/stocktrading/pkg/utils"
)

// TradeConfig 交易服务参数
type TradeConfig struct {
	// 新开组合的初始资金
	StartingCash decimal.Decimal
	// 乐观锁冲突最大重试次数
	MaxRetries int
	// 雪花 ID 节点号
	NodeID int64
}

// TradeService 交易应用服务
// 买卖在单个数据库事务内落账，乐观锁冲突时整体重试
type TradeService struct {
	repo       domain.PortfolioRepository
	prices     domain.PriceReader
	publisher  domain.TradePublisher
	metrics    *metrics.Metrics
	idGen      *utils.SnowflakeID
	startCash  decimal.Decimal
	maxRetries int
}

// NewTradeService 创建交易应用服务
func NewTradeService(
	repo domain.PortfolioRepository,
	prices domain.PriceReader,
	publisher domain.TradePublisher,
	m *metrics.Metrics,
	cfg TradeConfig,
) *TradeService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &TradeService{
		repo:       repo,
		prices:     prices,
		publisher:  publisher,
		metrics:    m,
		idGen:      utils.NewSnowflakeID(cfg.NodeID),
		startCash:  cfg.StartingCash,
		maxRetries: cfg.MaxRetries,
	}
}

// HoldingView 持仓视图
type HoldingView struct {
	Symbol          string `json:"symbol"`
	Quantity        int64  `json:"quantity"`
	AverageBuyPrice string `json:"average_buy_price"`
	// 当前价与市值在行情可用时填充
	CurrentPrice string `json:"current_price,omitempty"`
	MarketValue  string `json:"market_value,omitempty"`
}

// PortfolioView 组合视图
type PortfolioView struct {
	UserID      string        `json:"user_id"`
	CashBalance string        `json:"cash_balance"`
	Holdings    []HoldingView `json:"holdings"`
}

// TradeResult 成交回执
type TradeResult struct {
	TransactionID string `json:"transaction_id"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Quantity      int64  `json:"quantity"`
	PricePerShare string `json:"price_per_share"`
	TotalAmount   string `json:"total_amount"`
	CashBalance   string `json:"cash_balance"`
}

// CreatePortfolio 为用户开设组合，初始现金由配置决定
func (s *TradeService) CreatePortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing portfolio: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrPortfolioExists
	}

	portfolio := domain.NewPortfolio(userID, s.startCash)
	if err := s.repo.CreatePortfolio(ctx, portfolio); err != nil {
		logger.Error(ctx, "Failed to create portfolio", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	logger.Info(ctx, "Portfolio created", "user_id", userID, "starting_cash", s.startCash.String())
	return portfolio, nil
}

// GetPortfolio 返回组合视图，含持仓的当前价与市值
// 现金与持仓在同一事务内读取，避免看到跨笔交易的撕裂视图；
// 行情查不到时对应字段留空，不影响账面数据
func (s *TradeService) GetPortfolio(ctx context.Context, userID string) (*PortfolioView, error) {
	var (
		portfolio *domain.Portfolio
		holdings  []*domain.Holding
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		var err error
		portfolio, err = s.repo.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get portfolio: %w", err)
		}
		if portfolio == nil {
			return domain.ErrPortfolioNotFound
		}
		holdings, err = s.repo.ListHoldings(ctx, portfolio.ID)
		if err != nil {
			return fmt.Errorf("failed to list holdings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view := &PortfolioView{
		UserID:      portfolio.UserID,
		CashBalance: portfolio.CashBalance.String(),
		Holdings:    make([]HoldingView, 0, len(holdings)),
	}
	for _, h := range holdings {
		hv := HoldingView{
			Symbol:          h.Symbol,
			Quantity:        h.Quantity,
			AverageBuyPrice: h.AverageBuyPrice.String(),
		}
		if price, err := s.prices.CurrentPrice(ctx, h.Symbol); err == nil {
			hv.CurrentPrice = price.String()
			hv.MarketValue = domain.TradeCost(price, h.Quantity).String()
		}
		view.Holdings = append(view.Holdings, hv)
	}
	return view, nil
}

// GetTransactions 返回用户的成交流水，按时间倒序
// 与 GetPortfolio 一样在单个事务内读取
func (s *TradeService) GetTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		portfolio, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get portfolio: %w", err)
		}
		if portfolio == nil {
			return domain.ErrPortfolioNotFound
		}
		txs, err = s.repo.ListTransactions(ctx, portfolio.ID)
		if err != nil {
			return fmt.Errorf("failed to list transactions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// Buy 按当前市价买入
func (s *TradeService) Buy(ctx context.Context, userID, symbol string, quantity int64) (*TradeResult, error) {
	return s.execute(ctx, userID, symbol, quantity, domain.TradeTypeBuy)
}

// Sell 按当前市价卖出
func (s *TradeService) Sell(ctx context.Context, userID, symbol string, quantity int64) (*TradeResult, error) {
	return s.execute(ctx, userID, symbol, quantity, domain.TradeTypeSell)
}

// execute 定价后在事务内落账，版本冲突时重试，超限返回 ErrUnavailable
func (s *TradeService) execute(ctx context.Context, userID, symbol string, quantity int64, tradeType string) (*TradeResult, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	price, err := s.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var result *TradeResult
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result, err = s.executeOnce(ctx, userID, symbol, quantity, tradeType, price)
		if err == nil {
			s.metrics.TradesTotal.WithLabelValues(tradeType).Inc()
			return result, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		s.metrics.TradeConflictsTotal.Inc()
		logger.Warn(ctx, "Trade conflict, retrying",
			"user_id", userID,
			"symbol", symbol,
			"attempt", attempt,
		)
	}

	logger.Error(ctx, "Trade failed after retries", "user_id", userID, "symbol", symbol)
	return nil, domain.ErrUnavailable
}

func (s *TradeService) executeOnce(ctx context.Context, userID, symbol string, quantity int64, tradeType string, price decimal.Decimal) (*TradeResult, error) {
	var (
		result   *TradeResult
		executed *domain.Transaction
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		portfolio, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get portfolio: %w", err)
		}
		if portfolio == nil {
			return domain.ErrPortfolioNotFound
		}

		holding, err := s.repo.GetHolding(ctx, portfolio.ID, symbol)
		if err != nil {
			return fmt.Errorf("failed to get holding: %w", err)
		}

		var tx *domain.Transaction
		executedAt := time.Now()
		switch tradeType {
		case domain.TradeTypeBuy:
			holding, tx, err = portfolio.ApplyBuy(holding, symbol, quantity, price, executedAt)
		case domain.TradeTypeSell:
			holding, tx, err = portfolio.ApplySell(holding, symbol, quantity, price, executedAt)
		default:
			return fmt.Errorf("unknown trade type: %s", tradeType)
		}
		if err != nil {
			return err
		}

		// 先写组合做版本校验，冲突时尽早失败
		if err := s.repo.SavePortfolio(ctx, portfolio); err != nil {
			return err
		}

		if holding.Quantity == 0 {
			if err := s.repo.DeleteHolding(ctx, holding); err != nil {
				return fmt.Errorf("failed to delete holding: %w", err)
			}
		} else {
			if err := s.repo.SaveHolding(ctx, holding); err != nil {
				return fmt.Errorf("failed to save holding: %w", err)
			}
		}

		tx.TransactionID = fmt.Sprintf("T%d", s.idGen.Generate())
		if err := s.repo.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		result = &TradeResult{
			TransactionID: tx.TransactionID,
			Symbol:        symbol,
			Type:          tradeType,
			Quantity:      quantity,
			PricePerShare: price.String(),
			TotalAmount:   tx.TotalAmount.String(),
			CashBalance:   portfolio.CashBalance.String(),
		}

		executed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishExecuted(userID, executed)
	return result, nil
}

// publishExecuted 提交成功后异步发布成交事件
// 发布失败只记录，账面数据不回滚
func (s *TradeService) publishExecuted(userID string, tx *domain.Transaction) {
	if s.publisher == nil {
		return
	}
	event := domain.NewTradeExecutedEvent(userID, tx)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishTradeExecuted(ctx, event); err != nil {
			s.metrics.BroadcastFailuresTotal.Inc()
			logger.Error(ctx, "Failed to publish trade event",
				"transaction_id", event.TransactionID,
				"error", err,
			)
		}
	}()
}
