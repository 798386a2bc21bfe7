// Package checkout финализирует черновик чека в неизменяемую продажу.
// Финализация затрагивает несколько сущностей (Sale, кошелёк покупателя,
// N товаров) без кросс-сущностной транзакции, поэтому она журналируется
// по Sale ID: повтор для уже завершённой продажи возвращает сохранённый
// снимок и не списывает склад и кошелёк второй раз.
package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/inventory"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/wallet"
)

// Step задаёт константы шагов для метрик/логов.
type Step string

const (
	StepCustomerLookup Step = "customer_lookup"
	StepPersistSale    Step = "persist_sale"
	StepWallet         Step = "wallet"
	StepStock          Step = "stock"
	StepOutbox         Step = "outbox"
)

// finalizeTTL ограничивает срок жизни записи журнала финализации.
const finalizeTTL = 24 * time.Hour

// Закрытие записи журнала повторяется при сбое хранилища: без done-отметки
// продажа уже проведена, но повторный checkout не получит replay.
const (
	markDoneAttempts   = 3
	markDoneRetryDelay = 50 * time.Millisecond
)

// Finalizer — интерфейс финализации черновика.
type Finalizer interface {
	Finalize(bill domain.BillDraft, paymentMethod domain.PaymentMethod, operator domain.Operator) (domain.Sale, error)
}

// finalizer реализует последовательность шагов checkout:
// журнал -> покупатель -> Sale -> кошелёк -> склад -> outbox.
type finalizer struct {
	sales     domain.SaleRepository
	customers domain.CustomerRepository
	ledger    *inventory.Ledger
	finlog    domain.FinalizeLogRepository
	outbox    domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
}

// NewFinalizer создаёт рабочий экземпляр финализатора.
func NewFinalizer(
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	ledger *inventory.Ledger,
	finlog domain.FinalizeLogRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) Finalizer {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &finalizer{
		sales:     sales,
		customers: customers,
		ledger:    ledger,
		finlog:    finlog,
		outbox:    outbox,
		logger:    logger,
		metrics:   metrics.NewCheckoutMetrics(),
	}
}

// NewFinalizerWithoutMetrics создаёт финализатор без метрик (для тестов).
func NewFinalizerWithoutMetrics(
	sales domain.SaleRepository,
	customers domain.CustomerRepository,
	ledger *inventory.Ledger,
	finlog domain.FinalizeLogRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) Finalizer {
	f := NewFinalizer(sales, customers, ledger, finlog, outbox, logger).(*finalizer)
	f.metrics = nil
	return f
}

// Finalize превращает снимок черновика в продажу. Bill должен прийти с
// назначенным PendingSaleID (см. billing.Session.BeginCheckout) — по нему
// операция идемпотентна. При ошибке любого шага запись журнала помечается
// failed и ошибка отдаётся вызывающему; черновик остаётся у сессии.
func (f *finalizer) Finalize(bill domain.BillDraft, paymentMethod domain.PaymentMethod, operator domain.Operator) (domain.Sale, error) {
	start := time.Now()
	if f.metrics != nil {
		f.metrics.RecordCheckoutStarted()
	}
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordCheckoutDuration(time.Since(start))
			f.metrics.RecordCheckoutFinished()
		}
	}()

	sale, err := f.finalize(bill, paymentMethod, operator)
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordCheckoutFailed()
		}
		return domain.Sale{}, err
	}
	if f.metrics != nil {
		f.metrics.RecordCheckoutCompleted()
	}
	return sale, nil
}

func (f *finalizer) finalize(bill domain.BillDraft, paymentMethod domain.PaymentMethod, operator domain.Operator) (domain.Sale, error) {
	if bill.IsEmpty() {
		return domain.Sale{}, domain.ErrBillEmpty
	}
	if !paymentMethod.Valid() {
		return domain.Sale{}, domain.ErrPaymentMethodUnknown
	}
	if operator.ID == "" {
		return domain.Sale{}, domain.ErrOperatorRequired
	}
	saleID := bill.PendingSaleID
	if saleID == "" {
		return domain.Sale{}, domain.ErrSaleIDRequired
	}

	logger := f.logger.WithField("sale_id", saleID)

	// Регистрация в журнале финализации. Повтор для done-записи —
	// идемпотентный no-op с сохранённым снимком продажи.
	record, err := f.finlog.CreateProcessing(saleID, time.Now().UTC().Add(finalizeTTL))
	if err != nil {
		if !errors.Is(err, domain.ErrFinalizeRecordExists) {
			return domain.Sale{}, fmt.Errorf("register finalize: %w", err)
		}
		switch record.Status {
		case domain.FinalizeStatusDone:
			var done domain.Sale
			if uerr := json.Unmarshal(record.SaleSnapshot, &done); uerr != nil {
				return domain.Sale{}, fmt.Errorf("decode finalized sale snapshot: %w", uerr)
			}
			logger.Info("checkout replayed from finalize log")
			if f.metrics != nil {
				f.metrics.RecordCheckoutReplayed()
			}
			return done, nil
		case domain.FinalizeStatusProcessing:
			return domain.Sale{}, domain.ErrFinalizeInProgress
		case domain.FinalizeStatusFailed:
			// Предыдущая попытка сорвалась; продолжаем под тем же ID.
		}
	}

	sale, err := f.run(bill, paymentMethod, operator, logger)
	if err != nil {
		if markErr := f.finlog.MarkFailed(saleID, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark finalize record failed")
		}
		return domain.Sale{}, err
	}

	snapshot, err := json.Marshal(sale)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("encode sale snapshot: %w", err)
	}
	if err := f.markDone(saleID, snapshot, logger); err != nil {
		// Запись остаётся processing: понижение до failed заставило бы
		// повтор заново списать склад и кошелёк. Вызывающий видит ошибку,
		// продажа разблокируется TTL-очисткой журнала.
		return domain.Sale{}, fmt.Errorf("mark finalize record done: %w", err)
	}

	logger.WithFields(log.Fields{
		"total":       sale.Total,
		"items":       len(sale.Items),
		"wallet_used": sale.WalletUsed,
	}).Info("sale finalized")
	return sale, nil
}

// markDone закрывает запись журнала, повторяя попытку при сбое хранилища.
func (f *finalizer) markDone(saleID string, snapshot []byte, logger *log.Entry) error {
	var err error
	for attempt := 1; attempt <= markDoneAttempts; attempt++ {
		if err = f.finlog.MarkDone(saleID, snapshot); err == nil {
			return nil
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("failed to mark finalize record done")
		if attempt < markDoneAttempts {
			time.Sleep(markDoneRetryDelay * time.Duration(attempt))
		}
	}
	return err
}

// run выполняет шаги финализации по порядку. Откатов нет: журнал
// финализации делает повтор безопасным вместо компенсаций.
func (f *finalizer) run(bill domain.BillDraft, paymentMethod domain.PaymentMethod, operator domain.Operator, logger *log.Entry) (domain.Sale, error) {
	// Поиск покупателя по номеру. Отсутствие записи — не сбой:
	// продажа проходит без шага кошелька.
	var customer *domain.Customer
	if bill.Customer != nil && bill.Customer.Mobile != "" {
		var found domain.Customer
		err := f.step(StepCustomerLookup, func() error {
			var lookupErr error
			found, lookupErr = f.customers.GetByMobile(bill.Customer.Mobile)
			return lookupErr
		})
		switch {
		case err == nil:
			customer = &found
		case domain.IsNotFound(err):
			logger.WithField("mobile", bill.Customer.Mobile).Debug("customer not registered, skipping wallet")
		default:
			return domain.Sale{}, fmt.Errorf("lookup customer: %w", err)
		}
	}

	walletUsed := bill.WalletRedeemed
	var walletCredited float64
	if customer != nil {
		walletCredited = wallet.PremiumCredit(bill.Total, customer.IsPremium)
	}

	sale := domain.Sale{
		ID:             bill.PendingSaleID,
		Date:           time.Now().UTC(),
		Items:          bill.CloneItems(),
		Subtotal:       bill.Subtotal,
		TaxAmount:      bill.TaxAmount,
		Total:          bill.Total,
		EmployeeID:     operator.ID,
		PaymentMethod:  paymentMethod,
		WalletUsed:     walletUsed,
		WalletCredited: walletCredited,
	}
	if bill.Customer != nil {
		sale.CustomerName = bill.Customer.Name
		sale.CustomerMobile = bill.Customer.Mobile
	}
	if errs := sale.ValidateInvariants(); len(errs) != 0 {
		return domain.Sale{}, fmt.Errorf("sale invariants: %v", errs)
	}

	if err := f.step(StepPersistSale, func() error {
		return f.sales.Create(sale)
	}); err != nil {
		// Повтор после частичного сбоя: продажа уже записана под этим ID,
		// продолжаем оставшиеся шаги вместо отказа.
		if !errors.Is(err, domain.ErrSaleAlreadyExists) {
			return domain.Sale{}, fmt.Errorf("persist sale: %w", err)
		}
		logger.Info("sale already persisted, resuming finalize")
	}

	if customer != nil {
		if err := f.step(StepWallet, func() error {
			customer.WalletBalance = wallet.NewBalance(customer.WalletBalance, walletUsed, walletCredited)
			customer.UpdatedAt = sale.Date
			return f.customers.Save(*customer)
		}); err != nil {
			return domain.Sale{}, fmt.Errorf("adjust wallet: %w", err)
		}
		if walletCredited > 0 && f.metrics != nil {
			f.metrics.RecordWalletCredit()
		}
	}

	stockEntries, err := f.applyStock(sale, operator, logger)
	if err != nil {
		return domain.Sale{}, err
	}

	if err := f.enqueueEvents(sale, stockEntries); err != nil {
		return domain.Sale{}, err
	}

	return sale, nil
}

// stockChange связывает запись журнала со строкой чека, которая её породила.
type stockChange struct {
	ProductID string
	Entry     domain.StockLogEntry
}

// applyStock списывает остатки по каждой строке чека. Товар, которого нет
// в хранилище, пропускается с предупреждением, а не прерывает checkout.
func (f *finalizer) applyStock(sale domain.Sale, operator domain.Operator, logger *log.Entry) ([]stockChange, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordStepDuration(string(StepStock), time.Since(start))
		}
	}()

	changes := make([]stockChange, 0, len(sale.Items))
	for _, item := range sale.Items {
		entry, err := f.ledger.DecrementForSale(item.ProductID, item.Quantity, operator)
		switch {
		case err == nil:
			changes = append(changes, stockChange{ProductID: item.ProductID, Entry: entry})
		case domain.IsNotFound(err):
			logger.WithField("product_id", item.ProductID).Warn("product missing, stock not decremented")
			if f.metrics != nil {
				f.metrics.RecordStockLineSkipped()
			}
		default:
			return nil, fmt.Errorf("decrement stock for %s: %w", item.ProductID, err)
		}
	}
	return changes, nil
}

// enqueueEvents складывает события продажи и склада в transactional outbox;
// публикацию в Kafka выполняет outbox worker с retry и DLQ.
func (f *finalizer) enqueueEvents(sale domain.Sale, stockChanges []stockChange) error {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordStepDuration(string(StepOutbox), time.Since(start))
		}
	}()

	saleEvent := kafka.SaleEvent{
		EventType:      kafka.EventTypeSaleFinalized,
		SaleID:         sale.ID,
		EmployeeID:     sale.EmployeeID,
		CustomerMobile: sale.CustomerMobile,
		Subtotal:       sale.Subtotal,
		TaxAmount:      sale.TaxAmount,
		Total:          sale.Total,
		WalletUsed:     sale.WalletUsed,
		WalletCredited: sale.WalletCredited,
		ItemCount:      len(sale.Items),
		Timestamp:      sale.Date,
	}
	if err := f.enqueue("sale", sale.ID, string(kafka.EventTypeSaleFinalized), saleEvent); err != nil {
		return err
	}

	for _, change := range stockChanges {
		stockEvent := kafka.StockEvent{
			EventType:     kafka.EventTypeStockDecremented,
			ProductID:     change.ProductID,
			Change:        change.Entry.Change,
			PreviousStock: change.Entry.PreviousStock,
			NewStock:      change.Entry.NewStock,
			Reason:        change.Entry.Reason,
			UserID:        change.Entry.UserID,
			SaleID:        sale.ID,
			Timestamp:     change.Entry.Date,
		}
		if err := f.enqueue("product", change.ProductID, string(kafka.EventTypeStockDecremented), stockEvent); err != nil {
			return err
		}
	}

	return nil
}

func (f *finalizer) enqueue(aggregateType, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if _, err := f.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	if f.metrics != nil {
		f.metrics.RecordOutboxEvent()
	}
	return nil
}

// step оборачивает шаг финализации измерением длительности.
func (f *finalizer) step(step Step, fn func() error) error {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordStepDuration(string(step), time.Since(start))
		}
	}()
	return fn()
}
