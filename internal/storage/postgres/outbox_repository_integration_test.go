package postgres

import (
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestOutboxRepository_PostgresEnqueuePullAndMark(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     "sale.finalized",
		Payload:       []byte(`{"sale_id":"sale-1","total":118}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated outbox id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(msg.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	pending, err = repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending after send: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %+v", pending)
	}

	stats, err = repo.Stats()
	if err != nil {
		t.Fatalf("stats after send: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected zero pending, got %+v", stats)
	}
}

func TestOutboxRepository_PostgresMarkFailed(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   "prod-sugar",
		EventType:     "stock.decremented",
		Payload:       []byte(`{"product_id":"prod-sugar","change":-2}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := repo.MarkFailed(msg.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed message must leave the backlog, got %+v", pending)
	}

	if err := repo.MarkSent("missing-id"); err == nil {
		t.Fatal("expected error for unknown outbox id")
	}
}
