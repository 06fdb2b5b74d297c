package domain

import (
	"context"
	"time"
)

// TradeExecutedEventType 成交事件类型
const TradeExecutedEventType = "trade.executed"

// TradeExecutedEvent 成交事件，供下游结算或审计消费
type TradeExecutedEvent struct {
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Type          string    `json:"type"`
	Quantity      int64     `json:"quantity"`
	PricePerShare string    `json:"price_per_share"`
	TotalAmount   string    `json:"total_amount"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// NewTradeExecutedEvent 从流水构造成交事件
func NewTradeExecutedEvent(userID string, tx *Transaction) *TradeExecutedEvent {
	return &TradeExecutedEvent{
		EventType:     TradeExecutedEventType,
		TransactionID: tx.TransactionID,
		UserID:        userID,
		Symbol:        tx.Symbol,
		Type:          tx.Type,
		Quantity:      tx.Quantity,
		PricePerShare: tx.PricePerShare.String(),
		TotalAmount:   tx.TotalAmount.String(),
		ExecutedAt:    tx.ExecutedAt,
	}
}

// TradePublisher 成交事件发布端口
type TradePublisher interface {
	PublishTradeExecuted(ctx context.Context, event *TradeExecutedEvent) error
}
