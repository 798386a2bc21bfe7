package domain

import (
	"context"
	"time"
)

// Suggester — внешний advisory-сервис подсказок (допродажи, рыночные цены).
// Вызовы best-effort и ограничены по времени; результат никогда не
// влияет на расчёт чека.
type Suggester interface {
	// SuggestUpsell возвращает рекомендации к текущему черновику чека.
	SuggestUpsell(ctx context.Context, bill BillDraft) ([]Suggestion, error)
}

// Suggestion — одна рекомендация советчика.
type Suggestion struct {
	ProductID string
	Name      string
	Reason    string
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
