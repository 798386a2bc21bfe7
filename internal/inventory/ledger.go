// Package inventory реализует складской ledger: счётчик остатка товара
// плюс append-only журнал изменений. Остаток меняется только через
// списание продажей или ручную корректировку, и каждый переход оставляет
// ровно одну запись аудита.
package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

// Ledger соединяет хранилище товаров и журнал остатков.
type Ledger struct {
	products domain.ProductRepository
	logs     domain.StockLogRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
}

// NewLedger создаёт складской ledger.
func NewLedger(products domain.ProductRepository, logs domain.StockLogRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	return &Ledger{products: products, logs: logs, logger: logger}
}

// NewLedgerWithOutbox создаёт ledger, публикующий события ручных
// корректировок через transactional outbox.
func NewLedgerWithOutbox(products domain.ProductRepository, logs domain.StockLogRepository, outbox domain.OutboxRepository, logger *log.Entry) *Ledger {
	l := NewLedger(products, logs, logger)
	l.outbox = outbox
	return l
}

// RegisterProduct сохраняет новый товар и первую запись журнала
// с причиной "Initial Stock" от имени создавшего оператора.
func (l *Ledger) RegisterProduct(product domain.Product, operator domain.Operator) error {
	if operator.ID == "" {
		return domain.ErrOperatorRequired
	}
	if errs := product.ValidateInvariants(); len(errs) != 0 {
		return fmt.Errorf("product invariants: %v", errs)
	}

	if err := l.products.Create(product); err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	entry := newEntry(0, product.Stock, domain.StockReasonInitial, operator.ID)
	if err := l.logs.Append(product.ID, entry); err != nil {
		return fmt.Errorf("append initial stock log: %w", err)
	}

	l.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"stock":      product.Stock,
	}).Info("product registered")
	return nil
}

// SetStock — ручная корректировка: администратор задаёт новое абсолютное
// значение остатка, дельта вычисляется как new - old. Пустая причина
// заменяется на "Manual Adjustment". Нулевая дельта записи не оставляет.
func (l *Ledger) SetStock(productID string, newStock float64, reason string, operator domain.Operator) (domain.StockLogEntry, error) {
	if operator.ID == "" {
		return domain.StockLogEntry{}, domain.ErrOperatorRequired
	}

	product, err := l.products.Get(productID)
	if err != nil {
		return domain.StockLogEntry{}, err
	}

	change := newStock - product.Stock
	if change == 0 {
		return domain.StockLogEntry{}, nil
	}

	if reason == "" {
		reason = domain.StockReasonManual
	}
	entry := newEntry(product.Stock, newStock, reason, operator.ID)

	product.Stock = newStock
	product.UpdatedAt = entry.Date
	if err := l.products.Save(product); err != nil {
		return domain.StockLogEntry{}, fmt.Errorf("save product: %w", err)
	}
	if err := l.logs.Append(productID, entry); err != nil {
		return domain.StockLogEntry{}, fmt.Errorf("append stock log: %w", err)
	}

	l.enqueueAdjusted(productID, entry)

	l.logger.WithFields(log.Fields{
		"product_id": productID,
		"change":     change,
		"new_stock":  newStock,
		"reason":     reason,
	}).Info("stock adjusted")
	return entry, nil
}

// enqueueAdjusted кладёт событие stock.adjusted в outbox. Корректировка
// к этому моменту уже записана, поэтому ошибка постановки не отменяет её.
func (l *Ledger) enqueueAdjusted(productID string, entry domain.StockLogEntry) {
	if l.outbox == nil {
		return
	}

	event := kafka.StockEvent{
		EventType:     kafka.EventTypeStockAdjusted,
		ProductID:     productID,
		Change:        entry.Change,
		PreviousStock: entry.PreviousStock,
		NewStock:      entry.NewStock,
		Reason:        entry.Reason,
		UserID:        entry.UserID,
		Timestamp:     entry.Date,
	}
	body, err := json.Marshal(event)
	if err != nil {
		l.logger.WithError(err).Warn("marshal stock adjusted event")
		return
	}
	if _, err := l.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   productID,
		EventType:     string(kafka.EventTypeStockAdjusted),
		Payload:       body,
	}); err != nil {
		l.logger.WithError(err).Warn("enqueue stock adjusted event")
	}
}

// DecrementForSale списывает qty со склада при финализации продажи и
// оставляет запись с причиной "Sale". ErrProductNotFound отдаётся как
// есть: финализатор пропускает такую строку, а не прерывает checkout.
func (l *Ledger) DecrementForSale(productID string, qty float64, operator domain.Operator) (domain.StockLogEntry, error) {
	product, err := l.products.Get(productID)
	if err != nil {
		return domain.StockLogEntry{}, err
	}

	entry := newEntry(product.Stock, product.Stock-qty, domain.StockReasonSale, operator.ID)

	product.Stock = entry.NewStock
	product.UpdatedAt = entry.Date
	if err := l.products.Save(product); err != nil {
		return domain.StockLogEntry{}, fmt.Errorf("save product: %w", err)
	}
	if err := l.logs.Append(productID, entry); err != nil {
		return domain.StockLogEntry{}, fmt.Errorf("append stock log: %w", err)
	}

	return entry, nil
}

// History возвращает журнал товара, новые записи первыми.
func (l *Ledger) History(productID string) ([]domain.StockLogEntry, error) {
	return l.logs.History(productID)
}

// VerifyReplay сверяет текущий остаток товара с воспроизведением всех
// записей журнала от нуля. Возвращает true при совпадении.
func (l *Ledger) VerifyReplay(productID string) (bool, error) {
	product, err := l.products.Get(productID)
	if err != nil {
		return false, err
	}
	history, err := l.logs.History(productID)
	if err != nil {
		return false, err
	}

	// История отдаётся новыми вперёд; replay идёт от старых к новым.
	ordered := make([]domain.StockLogEntry, len(history))
	for i, e := range history {
		ordered[len(history)-1-i] = e
	}

	replayed := domain.ReplayStock(0, ordered)
	return replayed == product.Stock, nil
}

func newEntry(previous, next float64, reason, userID string) domain.StockLogEntry {
	return domain.StockLogEntry{
		ID:            uuid.NewString(),
		Date:          time.Now().UTC(),
		Change:        next - previous,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        reason,
		UserID:        userID,
	}
}
