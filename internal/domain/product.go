package domain

import "time"

// Причины изменения остатка, которые сервис проставляет сам.
const (
	// StockReasonSale — списание при финализации продажи.
	StockReasonSale = "Sale"
	// StockReasonInitial — первая запись при создании товара.
	StockReasonInitial = "Initial Stock"
	// StockReasonManual — ручная корректировка без указанной причины.
	StockReasonManual = "Manual Adjustment"
)

// StockLogEntry — неизменяемая запись аудита изменения остатка.
// Записи только добавляются, никогда не редактируются и не удаляются.
type StockLogEntry struct {
	ID   string
	Date time.Time
	// Change — знаковая дельта: отрицательная при продаже.
	Change        float64
	PreviousStock float64
	NewStock      float64
	Reason        string
	UserID        string
}

// Consistent проверяет арифметику записи: new = previous + change.
func (e StockLogEntry) Consistent() bool {
	return floatEquals(e.NewStock, e.PreviousStock+e.Change)
}

// Product описывает товар на складе.
// Stock концептуально неотрицателен, но жёстко не ограничен:
// продажа сверх остатка фиксируется в ledger как есть.
type Product struct {
	ID         string
	Name       string
	Brand      string
	Price      float64
	ExpireDate time.Time
	Stock      float64
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateInvariants проверяет базовые инварианты товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price < 0 {
		errs = append(errs, ErrProductPriceNegative)
	}

	return errs
}

// ReplayStock восстанавливает остаток из initial и цепочки записей,
// упорядоченной от старых к новым. Используется для сверки ledger.
func ReplayStock(initial float64, entries []StockLogEntry) float64 {
	stock := initial
	for _, e := range entries {
		stock += e.Change
	}
	return stock
}

// floatEquals сравнивает рублёвые/штучные значения с допуском на
// погрешность двоичного представления.
func floatEquals(a, b float64) bool {
	const eps = 1e-9
	diff := a - b
	return diff < eps && diff > -eps
}
