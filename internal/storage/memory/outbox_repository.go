package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord — событие outbox со служебными полями.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepositoryInMemory хранит outbox в памяти. Порядок постановки
// сохраняется: PullPending отдаёт события чекаута так, как их записала
// финализация, как и PostgreSQL-реализация.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие в хвост очереди со статусом pending.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	r.order = append(r.order, msg.ID)
	return msg, nil
}

// PullPending возвращает до limit pending-событий в порядке постановки.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	batch := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.order {
		rec, ok := r.records[id]
		if !ok || rec.status != outboxStatusPending {
			continue
		}
		batch = append(batch, rec.msg)
		if len(batch) >= limit {
			break
		}
	}

	return batch, nil
}

// Stats возвращает размер backlog и возраст самой старой pending-записи.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}

	return stats, nil
}

// MarkSent помечает событие опубликованным.
func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.setStatus(id, outboxStatusSent)
}

// MarkFailed помечает событие безнадёжным.
func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.setStatus(id, outboxStatusFailed)
}

func (r *outboxRepositoryInMemory) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию pending-событий в порядке постановки;
// используется в тестах.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]domain.OutboxMessage, 0, len(r.order))
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok && rec.status == outboxStatusPending {
			pending = append(pending, rec.msg)
		}
	}
	return pending
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
