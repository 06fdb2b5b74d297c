// Package domain 行情服务的领域模型与仓储接口
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock 股票实体
// 每个符号一条记录，当前价仅由价格刷新器写入
type Stock struct {
	gorm.Model
	// 股票代码（如 AAPL），全局唯一
	Symbol string `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null" json:"symbol"`
	// 展示名称
	DisplayName string `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	// 当前价格
	CurrentPrice decimal.Decimal `gorm:"column:current_price;type:decimal(20,4);not null" json:"current_price"`
	// 最近一次价格更新时间
	LastUpdated time.Time `gorm:"column:last_updated;not null" json:"last_updated"`
}

func (Stock) TableName() string { return "stocks" }

// NewStock 创建股票目录条目
func NewStock(symbol, displayName string, initialPrice decimal.Decimal) *Stock {
	return &Stock{
		Symbol:       symbol,
		DisplayName:  displayName,
		CurrentPrice: initialPrice,
		LastUpdated:  time.Now(),
	}
}

// 错误定义
var (
	ErrStockNotFound    = errors.New("stock not found")
	ErrStockExists      = errors.New("stock already exists")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrQuoteUnavailable = errors.New("quote unavailable")
)
