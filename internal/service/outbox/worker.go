package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Worker перекладывает события чекаута из transactional outbox в Kafka.
// Партия публикуется в кассовом порядке: событие продажи уходит раньше
// складских списаний, которые она породила, чтобы подписчик не увидел
// движение склада без самой продажи.

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// Потолок экспоненциального backoff между попытками публикации.
	maxRetryDelay = 5 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result (sent, retry_error, failed, dlq_failed, held).",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_outbox_pending_records",
		Help: "Pending records waiting in the transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record in seconds.",
	})
)

// Worker публикует pending-события чеков и склада из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker при создании.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт паблишер Dead Letter Queue для событий,
// не ушедших после всех попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт размер партии за один опрос.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) { w.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации до ухода в DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) { w.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку backoff между попытками.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// NewWorker создаёт воркер публикации outbox.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBaseDelay < 0 {
		w.retryBaseDelay = 0
	}

	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce забирает одну партию pending-событий и публикует её.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(events) == 0 {
		return
	}

	w.publishBatch(ctx, orderBatch(events))
	w.observeBacklog()
}

// publishBatch публикует партию, придерживая хвост агрегата после сбоя:
// если событие продукта или продажи не ушло, его последующие события в
// этой партии остаются pending и целиком уезжают в следующий цикл.
// Так движения одного агрегата не перемешиваются вокруг дыры.
func (w *Worker) publishBatch(ctx context.Context, events []domain.OutboxMessage) {
	held := make(map[string]bool)

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}

		key := event.AggregateType + "/" + event.AggregateID
		if held[key] {
			outboxPublishAttempts.WithLabelValues("held").Inc()
			continue
		}

		if err := w.publishEvent(ctx, event); err != nil {
			held[key] = true
			outboxPublishAttempts.WithLabelValues("failed").Inc()
			w.logger.WithError(err).WithFields(log.Fields{
				"outbox_id":  event.ID,
				"event_type": event.EventType,
				"aggregate":  key,
			}).Error("outbox publish failed after retries")

			if dlqErr := w.forwardToDLQ(event, err); dlqErr != nil {
				outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
				w.logger.WithError(dlqErr).WithField("outbox_id", event.ID).Warn("failed to publish to DLQ")
			}
			if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("failed to mark outbox as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(event.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
		}
	}
}

// orderBatch переставляет партию в кассовый порядок: сначала события
// продаж, затем складские движения, прочее в конце. Внутри класса
// порядок выборки из outbox сохраняется.
func orderBatch(events []domain.OutboxMessage) []domain.OutboxMessage {
	ordered := append([]domain.OutboxMessage(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return eventRank(ordered[i].EventType) < eventRank(ordered[j].EventType)
	})
	return ordered
}

func eventRank(eventType string) int {
	switch {
	case strings.HasPrefix(eventType, "sale."):
		return 0
	case strings.HasPrefix(eventType, "stock."):
		return 1
	default:
		return 2
	}
}

// publishEvent пытается опубликовать событие, выдерживая backoff между
// попытками. Возвращает последнюю ошибку после исчерпания попыток.
func (w *Worker) publishEvent(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := w.publisher.Publish(event); err == nil {
			outboxPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		} else {
			lastErr = err
			outboxPublishAttempts.WithLabelValues("retry_error").Inc()
		}

		if attempt == w.maxAttempts {
			break
		}
		delay := retryDelay(w.retryBaseDelay, attempt)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// retryDelay считает экспоненциальный backoff с потолком maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// observeBacklog обновляет метрики очереди outbox.
func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}

// forwardToDLQ заворачивает неопубликованное событие в DLQ-конверт.
// Формат конверта разбирает dlq-reprocess, поля менять согласованно с ним.
func (w *Worker) forwardToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        event.ID,
		"aggregate_type":   event.AggregateType,
		"aggregate_id":     event.AggregateID,
		"event_type":       event.EventType,
		"payload":          json.RawMessage(event.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	if err := w.dlqPublisher.Publish(domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
