package domain

import "time"

// PriceChangedEventType 价格变动事件类型
const PriceChangedEventType = "market.price.changed"

// PriceChangedEvent 价格变动事件
// 仅在价格实际变动时发布，携带变动后的完整快照
type PriceChangedEvent struct {
	EventType   string    `json:"event_type"`
	Symbol      string    `json:"symbol"`
	DisplayName string    `json:"display_name"`
	Price       string    `json:"price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPriceChangedEvent 从股票快照构造价格变动事件
func NewPriceChangedEvent(stock *Stock) *PriceChangedEvent {
	return &PriceChangedEvent{
		EventType:   PriceChangedEventType,
		Symbol:      stock.Symbol,
		DisplayName: stock.DisplayName,
		Price:       stock.CurrentPrice.String(),
		UpdatedAt:   stock.LastUpdated,
	}
}
