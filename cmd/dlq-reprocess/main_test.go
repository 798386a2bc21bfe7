package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

const checkoutCommandJSON = `{"type":"checkout","terminal_id":"term-1","operator_id":"emp-1","payment_method":"cash"}`

func commandDLQValue(t *testing.T, originalTopic, originalKey, originalValue string) []byte {
	t.Helper()

	raw, err := json.Marshal(consumerDLQPayload{
		OriginalTopic: originalTopic,
		OriginalKey:   originalKey,
		OriginalValue: originalValue,
	})
	if err != nil {
		t.Fatalf("marshal consumer dlq payload failed: %v", err)
	}
	return raw
}

func outboxDLQValue(t *testing.T, eventType string, inner any) []byte {
	t.Helper()

	innerRaw, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner event failed: %v", err)
	}
	dlqRaw, err := json.Marshal(outboxDLQPayload{
		OutboxID:      "outbox-1",
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     eventType,
		Payload:       innerRaw,
	})
	if err != nil {
		t.Fatalf("marshal outbox dlq payload failed: %v", err)
	}
	raw, err := json.Marshal(outboxEnvelope{
		ID:            "outbox-1",
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     eventType,
		Payload:       dlqRaw,
	})
	if err != nil {
		t.Fatalf("marshal outbox envelope failed: %v", err)
	}
	return raw
}

func TestClassifyRecord_TerminalCommand(t *testing.T) {
	value := commandDLQValue(t, "pos.terminal.commands", "", checkoutCommandJSON)

	got, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("classifyRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.kind != kindCommand {
		t.Fatalf("unexpected kind: %s", got.kind)
	}
	if got.typeLabel != "checkout" {
		t.Fatalf("unexpected type label: %s", got.typeLabel)
	}
	if got.topic != "pos.terminal.commands" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	// Ключ не сохранился в DLQ — берётся терминал из самой команды.
	if got.key != "term-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != checkoutCommandJSON {
		t.Fatalf("replay value must be the original command: %s", string(got.value))
	}
}

func TestClassifyRecord_TerminalCommandTopicFallback(t *testing.T) {
	value := commandDLQValue(t, "", "term-9", checkoutCommandJSON)

	got, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value})
	if err != nil || !ok {
		t.Fatalf("classifyRecord failed: ok=%v err=%v", ok, err)
	}
	if got.topic != kafka.TopicTerminalCommands {
		t.Fatalf("unexpected fallback topic: %s", got.topic)
	}
	if got.key != "term-9" {
		t.Fatalf("unexpected key: %s", got.key)
	}
}

func TestClassifyRecord_TerminalCommandInvalid(t *testing.T) {
	// Команда без operator_id не пройдёт валидацию обработчика,
	// реплеить её бессмысленно.
	value := commandDLQValue(t, "pos.terminal.commands", "term-1",
		`{"type":"checkout","terminal_id":"term-1"}`)

	if _, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value}); err == nil || ok {
		t.Fatalf("expected invalid command error, got ok=%v err=%v", ok, err)
	}

	value = commandDLQValue(t, "pos.terminal.commands", "term-1", "not-json")
	if _, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value}); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestClassifyRecord_SaleEvent(t *testing.T) {
	value := outboxDLQValue(t, "sale.finalized", kafka.SaleEvent{
		EventType: "sale.finalized",
		SaleID:    "sale-1",
		Total:     236,
		ItemCount: 2,
	})

	got, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("classifyRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.kind != kindSale {
		t.Fatalf("unexpected kind: %s", got.kind)
	}
	if got.topic != kafka.TopicSaleEvents {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "sale-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.saleTotal != 236 {
		t.Fatalf("unexpected sale total: %v", got.saleTotal)
	}

	var replay replayEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("replay value must be an envelope: %v", err)
	}
	if replay.EventType != "sale.finalized" || replay.AggregateID != "sale-1" {
		t.Fatalf("unexpected replay envelope: %+v", replay)
	}
	if replay.PublishedAt.IsZero() {
		t.Fatal("expected published_at to be set")
	}
}

func TestClassifyRecord_StockEvent(t *testing.T) {
	value := outboxDLQValue(t, "stock.decremented", kafka.StockEvent{
		EventType: "stock.decremented",
		ProductID: "prod-1",
		Change:    -2,
	})

	got, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value})
	if err != nil || !ok {
		t.Fatalf("classifyRecord failed: ok=%v err=%v", ok, err)
	}
	if got.kind != kindStock {
		t.Fatalf("unexpected kind: %s", got.kind)
	}
	if got.topic != kafka.TopicStockEvents {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.stockChange != -2 {
		t.Fatalf("unexpected stock change: %v", got.stockChange)
	}
}

func TestClassifyRecord_UnknownEventType(t *testing.T) {
	value := outboxDLQValue(t, "wallet.credited", map[string]any{"amount": 6})

	_, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: value})
	if err == nil || !strings.Contains(err.Error(), "unknown outbox event type") {
		t.Fatalf("expected unknown event type error, got: %v", err)
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestClassifyRecord_EmptyNestedPayload(t *testing.T) {
	dlqRaw, err := json.Marshal(outboxDLQPayload{
		OutboxID:    "outbox-1",
		EventType:   "sale.finalized",
		AggregateID: "sale-1",
		// вложенного события нет — реплеить нечего
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	raw, err := json.Marshal(outboxEnvelope{ID: "outbox-1", EventType: "sale.finalized", Payload: dlqRaw})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	_, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: raw})
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestClassifyRecord_ForeignPayload(t *testing.T) {
	_, ok, err := classifyRecord(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected foreign payload to be skipped")
	}
}

func TestMatchesFilter(t *testing.T) {
	cases := []struct {
		typeLabel string
		filter    string
		want      bool
	}{
		{typeLabel: "sale.finalized", filter: "", want: true},
		{typeLabel: "sale.finalized", filter: "sale.", want: true},
		{typeLabel: "sale.finalized", filter: "stock.", want: false},
		{typeLabel: "checkout", filter: "check", want: true},
		{typeLabel: "stock.decremented", filter: "  stock.  ", want: false},
	}

	for _, tc := range cases {
		got := matchesFilter(replayMessage{typeLabel: tc.typeLabel}, tc.filter)
		if got != tc.want {
			t.Fatalf("matchesFilter(%q, %q)=%v want=%v", tc.typeLabel, tc.filter, got, tc.want)
		}
	}
}

func TestReplayReportRecord(t *testing.T) {
	report := newReplayReport()
	report.record(replayMessage{kind: kindSale, typeLabel: "sale.finalized", saleTotal: 236})
	report.record(replayMessage{kind: kindSale, typeLabel: "sale.finalized", saleTotal: 100})
	report.record(replayMessage{kind: kindStock, typeLabel: "stock.decremented", stockChange: -2})
	report.record(replayMessage{kind: kindCommand, typeLabel: "checkout"})

	if report.replayed != 4 {
		t.Fatalf("unexpected replayed: %d", report.replayed)
	}
	if report.salesCount != 2 || report.salesTotal != 336 {
		t.Fatalf("unexpected sales summary: count=%d total=%v", report.salesCount, report.salesTotal)
	}
	if report.stockEvents != 1 || report.stockDelta != -2 {
		t.Fatalf("unexpected stock summary: events=%d delta=%v", report.stockEvents, report.stockDelta)
	}
	if report.byType["sale.finalized"] != 2 || report.byType["checkout"] != 1 {
		t.Fatalf("unexpected type breakdown: %+v", report.byType)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-dlq-topic=pos.dlq",
		"-filter=stock.",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.dlqTopic != "pos.dlq" {
			t.Fatalf("unexpected dlq topic: %s", cfg.dlqTopic)
		}
		if cfg.filter != "stock." {
			t.Fatalf("unexpected filter: %s", cfg.filter)
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute {
			t.Fatal("expected execute=true")
		}
		if !cfg.fromNewest {
			t.Fatal("expected fromNewest=true")
		}
		if cfg.idleTimeout.Seconds() != 3 {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadConfig_Defaults(t *testing.T) {
	withFlagArgs(t, []string{"-brokers=broker:9092"}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if cfg.dlqTopic != kafka.TopicDeadLetterQueue {
			t.Fatalf("unexpected default dlq topic: %s", cfg.dlqTopic)
		}
		if cfg.filter != "" {
			t.Fatalf("expected empty default filter, got %q", cfg.filter)
		}
		if cfg.limit != defaultReplayLimit {
			t.Fatalf("unexpected default limit: %d", cfg.limit)
		}
		if cfg.execute {
			t.Fatal("expected dry-run by default")
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	withFlagArgs(t, []string{"-brokers="}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "kafka brokers are required") {
			t.Fatalf("expected brokers validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-dlq-topic="}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "dlq-topic is required") {
			t.Fatalf("expected dlq-topic validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-limit=0"}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "limit must be > 0") {
			t.Fatalf("expected limit validation error, got: %v", err)
		}
	})

	withFlagArgs(t, []string{"-brokers=broker:9092", "-idle-timeout=0s"}, func() {
		_, err := readConfig()
		if err == nil || !strings.Contains(err.Error(), "idle-timeout must be > 0") {
			t.Fatalf("expected idle-timeout validation error, got: %v", err)
		}
	})
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	err := publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}

	producer.sendErr = errors.New("send failed")
	err = publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{"x":1}`)})
	if err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
			}}),
		},
	}

	cfg := config{dlqTopic: "pos.dlq", limit: 10, idleTimeout: 20 * time.Millisecond}

	report := newReplayReport()
	if err := processPartition(context.Background(), consumer, client, nil, cfg, 0, report); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if report.processed != 1 || report.replayed != 1 || report.skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.byType["checkout"] != 1 {
		t.Fatalf("unexpected type breakdown: %+v", report.byType)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value: outboxDLQValue(t, "sale.finalized", kafka.SaleEvent{
					EventType: "sale.finalized",
					SaleID:    "sale-1",
					Total:     236,
				}),
			}}),
		},
	}
	producer := &stubReplayProducer{}

	cfg := config{dlqTopic: "pos.dlq", limit: 10, execute: true, idleTimeout: 20 * time.Millisecond}

	report := newReplayReport()
	if err := processPartition(context.Background(), consumer, client, producer, cfg, 0, report); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if report.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", report)
	}
	if report.salesCount != 1 || report.salesTotal != 236 {
		t.Fatalf("unexpected sales summary: %+v", report)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one producer call, got %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != kafka.TopicSaleEvents {
		t.Fatalf("unexpected replay topic: %+v", producer.lastMsg)
	}
}

func TestProcessPartition_FilterSkips(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
			}}),
		},
	}

	cfg := config{dlqTopic: "pos.dlq", filter: "stock.", limit: 10, idleTimeout: 20 * time.Millisecond}

	report := newReplayReport()
	if err := processPartition(context.Background(), consumer, client, nil, cfg, 0, report); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if report.processed != 1 || report.replayed != 0 || report.skipped != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{dlqTopic: "pos.dlq", limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, newReplayReport()); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, newReplayReport()); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, newReplayReport()); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	// Битая запись пропускается с предупреждением, проход продолжается.
	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", "not-json"),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	report := newReplayReport()
	if err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, report); err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if report.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", report)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if err := processPartition(context.Background(), consumer, client, producer, cfg, 0, newReplayReport()); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := config{dlqTopic: "pos.dlq", limit: 1, idleTimeout: 10 * time.Millisecond}

	report := newReplayReport()
	if err := processPartition(context.Background(), consumer, client, nil, cfg, 0, report); err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if report.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", report)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, newReplayReport()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := config{dlqTopic: "pos.dlq", limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
			}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 2,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-2", checkoutCommandJSON),
			}}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{dlqTopic: "pos.dlq", limit: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
			}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     commandDLQValue(t, "pos.terminal.commands", "term-1", checkoutCommandJSON),
			}}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-dlq-topic=pos.dlq", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
