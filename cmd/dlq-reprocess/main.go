// Команда dlq-reprocess разбирает pos.dlq и возвращает записи в их
// исходные топики. Запись DLQ — это либо команда терминала, не пережившая
// редоставку, либо событие outbox, которое не удалось опубликовать.
// Перед повторной публикацией запись декодируется: битые команды и
// события чужого формата не реплеятся, а по валидным строится сводка
// (суммы продаж, сальдо складских изменений) для оператора.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	dlqTopic    string
	filter      string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// recordKind — источник записи DLQ.
type recordKind string

const (
	kindCommand recordKind = "terminal_command"
	kindSale    recordKind = "sale_event"
	kindStock   recordKind = "stock_event"
)

// replayMessage — расшифрованная запись DLQ, готовая к публикации.
type replayMessage struct {
	kind      recordKind
	typeLabel string
	topic     string
	key       string
	value     []byte

	saleTotal   float64
	stockChange float64
}

// consumerDLQPayload пишет kafka.Consumer при исчерпании редоставок.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxEnvelope — конверт, в котором outbox worker публикует события;
// в DLQ он приходит с вложенным outboxDLQPayload.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// replayReport накапливает итоги прохода по DLQ.
type replayReport struct {
	processed int
	replayed  int
	skipped   int

	byType      map[string]int
	salesTotal  float64
	stockDelta  float64
	salesCount  int
	stockEvents int
}

func newReplayReport() *replayReport {
	return &replayReport{byType: make(map[string]int)}
}

func (r *replayReport) record(msg replayMessage) {
	r.replayed++
	r.byType[msg.typeLabel]++
	switch msg.kind {
	case kindSale:
		r.salesCount++
		r.salesTotal += msg.saleTotal
	case kindStock:
		r.stockEvents++
		r.stockDelta += msg.stockChange
	}
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.filter, "filter", "", "replay only records whose type matches the prefix (e.g. stock., sale.finalized, checkout)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.dlqTopic) == "" {
		return config{}, fmt.Errorf("dlq-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"dlq_topic":   cfg.dlqTopic,
		"filter":      cfg.filter,
		"limit":       cfg.limit,
		"execute":     cfg.execute,
		"from_newest": cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.dlqTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.dlqTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.dlqTopic).Warn("dlq topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	report := newReplayReport()

	for _, partition := range partitions {
		if report.processed >= cfg.limit {
			break
		}
		if err := processPartition(ctx, consumer, client, producer, cfg, partition, report); err != nil {
			return err
		}
	}

	printReport(cfg, report)
	return nil
}

// printReport пишет сводку прохода: сколько записей каждого типа вернулось
// в работу и какой объём продаж и складских движений они несут.
func printReport(cfg config, report *replayReport) {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	fields := log.Fields{
		"mode":      mode,
		"processed": report.processed,
		"replayed":  report.replayed,
		"skipped":   report.skipped,
	}
	if report.salesCount > 0 {
		fields["sales"] = report.salesCount
		fields["sales_total"] = fmt.Sprintf("%.2f", report.salesTotal)
	}
	if report.stockEvents > 0 {
		fields["stock_events"] = report.stockEvents
		fields["stock_delta"] = fmt.Sprintf("%+.2f", report.stockDelta)
	}
	log.WithFields(fields).Info("dlq replay finished")

	types := make([]string, 0, len(report.byType))
	for typeLabel := range report.byType {
		types = append(types, typeLabel)
	}
	sort.Strings(types)
	for _, typeLabel := range types {
		log.WithFields(log.Fields{
			"type":  typeLabel,
			"count": report.byType[typeLabel],
		}).Info("dlq replay breakdown")
	}
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	report *replayReport,
) error {
	limit := cfg.limit - report.processed
	if limit <= 0 {
		return nil
	}

	oldest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.dlqTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = newest - int64(limit)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	partitionConsumer, err := consumer.ConsumePartition(cfg.dlqTopic, partition, startOffset)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = partitionConsumer.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	taken := 0
	for taken < limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-partitionConsumer.Errors():
			if err != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-partitionConsumer.Messages():
			if !ok || msg == nil {
				return nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return nil
			}

			taken++
			report.processed++
			if err := handleRecord(msg, cfg, producer, report); err != nil {
				return err
			}

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idleTimer.C:
			return nil
		}
	}

	return nil
}

// handleRecord декодирует одну запись DLQ и, в execute-режиме, публикует
// её в исходный топик. Нерасшифрованные и отфильтрованные записи
// пропускаются с предупреждением, проход не прерывают.
func handleRecord(msg *sarama.ConsumerMessage, cfg config, producer replayProducer, report *replayReport) error {
	replayMsg, ok, err := classifyRecord(msg)
	if err != nil {
		report.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip undecodable dlq record")
		return nil
	}
	if !ok || !matchesFilter(replayMsg, cfg.filter) {
		report.skipped++
		return nil
	}

	if cfg.execute {
		if err := publishReplay(producer, replayMsg); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
	} else {
		log.WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"type":      replayMsg.typeLabel,
			"topic":     replayMsg.topic,
			"key":       replayMsg.key,
		}).Info("dlq replay candidate")
	}

	report.record(replayMsg)
	return nil
}

// matchesFilter сверяет тип записи с префиксом из -filter.
// Пустой фильтр пропускает всё.
func matchesFilter(msg replayMessage, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.HasPrefix(msg.typeLabel, filter)
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}

	_, _, err := producer.SendMessage(producerMessage)
	return err
}

// classifyRecord распознаёт запись DLQ. Возвращает ok=false для записей
// чужого формата и ошибку для записей своего формата с битым содержимым.
func classifyRecord(msg *sarama.ConsumerMessage) (replayMessage, bool, error) {
	var consumerPayload consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		return classifyCommand(consumerPayload)
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return replayMessage{}, false, nil
	}
	if len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}
	return classifyOutboxEvent(envelope)
}

// classifyCommand восстанавливает команду терминала из consumer-DLQ.
// Команда валидируется: запись, которую обработчик не смог бы принять,
// реплеить бессмысленно.
func classifyCommand(payload consumerDLQPayload) (replayMessage, bool, error) {
	cmd, err := kafka.DecodeTerminalCommand([]byte(payload.OriginalValue))
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("decode terminal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return replayMessage{}, false, fmt.Errorf("invalid terminal command %s: %w", cmd.Type, err)
	}

	topic := strings.TrimSpace(payload.OriginalTopic)
	if topic == "" {
		topic = kafka.TopicTerminalCommands
	}
	key := payload.OriginalKey
	if key == "" {
		key = cmd.TerminalID
	}

	return replayMessage{
		kind:      kindCommand,
		typeLabel: string(cmd.Type),
		topic:     topic,
		key:       key,
		value:     []byte(payload.OriginalValue),
	}, true, nil
}

// classifyOutboxEvent восстанавливает событие outbox и направляет его в
// топик по типу: stock.* в pos.stock.events, sale.* в pos.sale.events.
// Тело события декодируется для сводки отчёта.
func classifyOutboxEvent(envelope outboxEnvelope) (replayMessage, bool, error) {
	var dlqPayload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlqPayload); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlqPayload.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	eventType := firstNonEmpty(dlqPayload.EventType, envelope.EventType)

	msg := replayMessage{typeLabel: eventType}
	switch {
	case strings.HasPrefix(eventType, "stock."):
		var event kafka.StockEvent
		if err := json.Unmarshal(dlqPayload.Payload, &event); err != nil {
			return replayMessage{}, false, fmt.Errorf("decode stock event %s: %w", eventType, err)
		}
		msg.kind = kindStock
		msg.topic = kafka.TopicStockEvents
		msg.stockChange = event.Change
	case strings.HasPrefix(eventType, "sale."):
		var event kafka.SaleEvent
		if err := json.Unmarshal(dlqPayload.Payload, &event); err != nil {
			return replayMessage{}, false, fmt.Errorf("decode sale event %s: %w", eventType, err)
		}
		msg.kind = kindSale
		msg.topic = kafka.TopicSaleEvents
		msg.saleTotal = event.Total
	default:
		return replayMessage{}, false, fmt.Errorf("unknown outbox event type %q", eventType)
	}

	replay := replayEnvelope{
		ID:            firstNonEmpty(dlqPayload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlqPayload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlqPayload.AggregateID, envelope.AggregateID),
		EventType:     eventType,
		Payload:       dlqPayload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	msg.key = firstNonEmpty(replay.AggregateID, replay.ID)
	msg.value = encoded
	return msg, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
