package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic
// по типу агрегата: продажи и склад уходят в разные потоки.
type OutboxTopicPublisher struct {
	producer   *Producer
	saleTopic  string
	stockTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{
		producer:   producer,
		saleTopic:  TopicSaleEvents,
		stockTopic: TopicStockEvents,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	topic := p.saleTopic
	if strings.HasPrefix(event.EventType, "stock.") {
		topic = p.stockTopic
	}

	envelope := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(topic, key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// dlqPublisher отправляет события, не ушедшие из outbox после всех
// попыток, в Dead Letter Queue.
type dlqPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер для DLQ-топика.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &dlqPublisher{producer: producer}
}

func (p *dlqPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return p.producer.PublishEvent(TopicDeadLetterQueue, key, json.RawMessage(event.Payload))
}

var _ domain.OutboxPublisher = (*dlqPublisher)(nil)
