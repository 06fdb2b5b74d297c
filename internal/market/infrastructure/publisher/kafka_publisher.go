// Package publisher 价格变动事件的 Kafka 发布实现
package publisher

import (
	"context"

	"github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/pkg/mq"
)

// KafkaPricePublisher 将价格变动事件发布到 Kafka 主题
type KafkaPricePublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaPricePublisher 创建 Kafka 价格发布器
func NewKafkaPricePublisher(producer *mq.KafkaProducer, topic string) domain.PricePublisher {
	return &KafkaPricePublisher{
		producer: producer,
		topic:    topic,
	}
}

// PublishPriceChange 按符号分区发布价格变动事件
func (p *KafkaPricePublisher) PublishPriceChange(ctx context.Context, event *domain.PriceChangedEvent) error {
	return p.producer.SendMessage(ctx, p.topic, event.Symbol, event)
}
