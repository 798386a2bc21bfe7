package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает команды терминалов из consumer group с редоставкой
// и уводом безнадёжных сообщений в DLQ. Команды ключуются по
// terminal_id, поэтому внутри партиции команды одного терминала
// обрабатываются последовательно.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
}

// dlqRecord — формат записи consumer-DLQ. Его же разбирает dlq-reprocess,
// поля менять согласованно с ним.
type dlqRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// NewConsumer создаёт consumer без DLQ: безнадёжное сообщение остаётся
// непомеченным и вернётся при следующем чтении партиции.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil, 3)
}

// NewConsumerWithDLQ создаёт consumer, который после maxRetries неудач
// отправляет сообщение в Dead Letter Queue.
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int) (*Consumer, error) {
	consumer, err := sarama.NewConsumerGroup(brokers, groupID, consumerGroupConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:    consumer,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
	}, nil
}

// consumerGroupConfig настраивает группу под поток команд терминалов.
func consumerGroupConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = producerClientID
	// Range-стратегия держит все партиции топика команд на одном
	// инстансе, пока consumer в группе один.
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRange()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

// Start запускает чтение в фоне и возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при rebalance, поэтому крутится в цикле.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim читает партицию до закрытия канала или отмены сессии.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			c.consumeMessage(session, message)
		case <-session.Context().Done():
			return nil
		}
	}
}

// consumeMessage прогоняет сообщение через обработчик. Offset помечается
// только после успеха или ухода в DLQ: непомеченное сообщение вернётся
// с инкрементом retry-счётчика.
func (c *Consumer) consumeMessage(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
	c.logger.WithFields(fields).Debug("received message")

	if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
		c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
		return
	}

	session.MarkMessage(message, "")
}

// handleMessageWithRetry возвращает nil, когда сообщение обработано или
// сдано в DLQ, и ошибку, когда его нужно доставить повторно.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	err := c.handler(ctx, message)
	if err == nil {
		return nil
	}

	retryCount := c.getRetryCount(message)
	if retryCount < c.maxRetries {
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")
		return err
	}

	if c.dlqProducer == nil {
		return err
	}

	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount читает счётчик редоставок из заголовков сообщения.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ заворачивает безнадёжное сообщение в dlqRecord и публикует
// его в DLQ-топик под исходным ключом.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	record := dlqRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        c.getRetryCount(message),
	}

	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, record.OriginalKey, record)
}
