// Package domain 交易服务的领域模型与仓储接口
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 交易类型
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// 金额统一保留 4 位小数，四舍五入
const moneyScale = 4

// Portfolio 投资组合聚合根
// 每个用户一条记录，现金余额与持仓在同一事务内变更
type Portfolio struct {
	gorm.Model
	// 外部用户标识，全局唯一
	UserID string `gorm:"column:user_id;type:varchar(64);uniqueIndex;not null" json:"user_id"`
	// 现金余额
	CashBalance decimal.Decimal `gorm:"column:cash_balance;type:decimal(20,4);not null" json:"cash_balance"`
	// 乐观锁版本号
	Version int64 `gorm:"column:version;not null;default:0" json:"-"`
}

func (Portfolio) TableName() string { return "portfolios" }

// Holding 持仓条目
// 同一组合内每个符号至多一条，数量归零即删除
type Holding struct {
	gorm.Model
	PortfolioID uint   `gorm:"column:portfolio_id;uniqueIndex:idx_portfolio_symbol;not null" json:"-"`
	Symbol      string `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_portfolio_symbol;not null" json:"symbol"`
	// 持有股数
	Quantity int64 `gorm:"column:quantity;not null" json:"quantity"`
	// 加权平均买入价
	AverageBuyPrice decimal.Decimal `gorm:"column:average_buy_price;type:decimal(20,4);not null" json:"average_buy_price"`
}

func (Holding) TableName() string { return "holdings" }

// Transaction 成交流水，只增不改
type Transaction struct {
	gorm.Model
	// 业务流水号
	TransactionID string `gorm:"column:transaction_id;type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	PortfolioID   uint   `gorm:"column:portfolio_id;index;not null" json:"-"`
	Symbol        string `gorm:"column:symbol;type:varchar(20);not null" json:"symbol"`
	// BUY 或 SELL
	Type     string `gorm:"column:type;type:varchar(8);not null" json:"type"`
	Quantity int64  `gorm:"column:quantity;not null" json:"quantity"`
	// 成交单价
	PricePerShare decimal.Decimal `gorm:"column:price_per_share;type:decimal(20,4);not null" json:"price_per_share"`
	// 成交总额（单价 × 数量，保留 4 位）
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(20,4);not null" json:"total_amount"`
	ExecutedAt  time.Time       `gorm:"column:executed_at;not null" json:"executed_at"`
}

func (Transaction) TableName() string { return "transactions" }

// 错误定义
var (
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrPortfolioExists    = errors.New("portfolio already exists")
	ErrHoldingNotFound    = errors.New("holding not found")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	// 乐观锁冲突，由应用层重试吸收
	ErrConflict    = errors.New("portfolio version conflict")
	ErrUnavailable = errors.New("trade temporarily unavailable")
)

// NewPortfolio 创建投资组合
func NewPortfolio(userID string, startingCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		UserID:      userID,
		CashBalance: startingCash,
	}
}

// TradeCost 计算成交总额：单价 × 数量，保留 4 位小数
func TradeCost(price decimal.Decimal, quantity int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Round(moneyScale)
}

// ApplyBuy 在组合上执行买入
// 校验通过后扣减现金并返回变更后的持仓；holding 为 nil 表示此前无持仓
// 平均成本按入账总额（已保留 4 位）重新加权
func (p *Portfolio) ApplyBuy(holding *Holding, symbol string, quantity int64, price decimal.Decimal, executedAt time.Time) (*Holding, *Transaction, error) {
	if quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}

	totalCost := TradeCost(price, quantity)
	if p.CashBalance.LessThan(totalCost) {
		return nil, nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, totalCost.String(), p.CashBalance.String())
	}

	p.CashBalance = p.CashBalance.Sub(totalCost)

	if holding == nil {
		// 首笔买入的成本价就是成交价本身
		holding = &Holding{
			PortfolioID:     p.ID,
			Symbol:          symbol,
			Quantity:        quantity,
			AverageBuyPrice: price,
		}
	} else {
		oldValue := holding.AverageBuyPrice.Mul(decimal.NewFromInt(holding.Quantity))
		newQuantity := holding.Quantity + quantity
		holding.AverageBuyPrice = oldValue.Add(totalCost).Div(decimal.NewFromInt(newQuantity)).Round(moneyScale)
		holding.Quantity = newQuantity
	}

	tx := &Transaction{
		PortfolioID:   p.ID,
		Symbol:        symbol,
		Type:          TradeTypeBuy,
		Quantity:      quantity,
		PricePerShare: price,
		TotalAmount:   totalCost,
		ExecutedAt:    executedAt,
	}
	return holding, tx, nil
}

// ApplySell 在组合上执行卖出
// 返回变更后的持仓；Quantity 归零表示该持仓应被删除
// 卖出不改变剩余持仓的平均成本
func (p *Portfolio) ApplySell(holding *Holding, symbol string, quantity int64, price decimal.Decimal, executedAt time.Time) (*Holding, *Transaction, error) {
	if quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	if holding == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrHoldingNotFound, symbol)
	}
	if holding.Quantity < quantity {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrInsufficientShares, holding.Quantity, quantity)
	}

	proceeds := TradeCost(price, quantity)
	p.CashBalance = p.CashBalance.Add(proceeds)
	holding.Quantity -= quantity

	tx := &Transaction{
		PortfolioID:   p.ID,
		Symbol:        symbol,
		Type:          TradeTypeSell,
		Quantity:      quantity,
		PricePerShare: price,
		TotalAmount:   proceeds,
		ExecutedAt:    executedAt,
	}
	return holding, tx, nil
}
