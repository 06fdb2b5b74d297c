// Package publisher 成交事件的 Kafka 发布实现
package publisher

import (
	"context"

	"github.com/stocksim/stocktrading/internal/trade/domain"
	"github.com/stocksim/stocktrading/pkg/mq"
)

// KafkaTradePublisher 将成交事件发布到 Kafka 主题
type KafkaTradePublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaTradePublisher 创建 Kafka 成交发布器
func NewKafkaTradePublisher(producer *mq.KafkaProducer, topic string) domain.TradePublisher {
	return &KafkaTradePublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishTradeExecuted 按用户分区发布成交事件
func (p *KafkaTradePublisher) PublishTradeExecuted(ctx context.Context, event *domain.TradeExecutedEvent) error {
	return p.producer.SendMessage(ctx, p.topic, event.UserID, event)
}
