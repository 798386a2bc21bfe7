package domain

import "errors"

var (
	// Ошибки валидации скидок.
	ErrDiscountPercentOutOfRange = errors.New("percentage discount must be within 0..100")
	ErrDiscountValueNegative     = errors.New("fixed discount must be non-negative")
	ErrDiscountKindUnknown       = errors.New("unknown discount kind")

	// Ошибки мутаций черновика чека.
	ErrQuantityInvalid      = errors.New("quantity must be a finite number")
	ErrUnitPriceNegative    = errors.New("unit price must be non-negative")
	ErrWalletAmountNegative = errors.New("wallet amount must be non-negative")
	ErrBillEmpty            = errors.New("bill must contain at least one item")
	ErrBillItemNotFound     = errors.New("bill item not found")
	ErrCustomerNotAttached  = errors.New("bill has no customer attached")
	ErrOperatorRequired     = errors.New("operator is required")

	// Ошибки инвариантов товара.
	ErrProductIDRequired    = errors.New("product id is required")
	ErrProductNameRequired  = errors.New("product name is required")
	ErrProductPriceNegative = errors.New("product price must be non-negative")
	// ErrProductNotFound возвращается, если товара нет в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrProductVersionConflict = errors.New("product version conflict")

	// Ошибки инвариантов покупателя.
	ErrCustomerIDRequired     = errors.New("customer id is required")
	ErrCustomerMobileRequired = errors.New("customer mobile is required")
	// ErrCustomerNotFound возвращается, если покупатель не найден по номеру.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrCustomerVersionConflict = errors.New("customer version conflict")

	// Ошибки инвариантов продажи.
	ErrSaleIDRequired       = errors.New("sale id is required")
	ErrSaleItemsRequired    = errors.New("sale must contain at least one item")
	ErrSaleTotalNegative    = errors.New("sale total must be non-negative")
	ErrSaleEmployeeRequired = errors.New("sale employee id is required")
	ErrSaleWalletNegative   = errors.New("sale wallet amounts must be non-negative")
	ErrPaymentMethodUnknown = errors.New("unknown payment method")
	// ErrSaleNotFound возвращается, если продажи нет в хранилище.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyExists возвращается при попытке повторной записи продажи.
	ErrSaleAlreadyExists = errors.New("sale already exists")

	// Ошибки журнала финализации. ErrFinalizeRecordExists отдают
	// хранилища при повторной регистрации Sale ID независимо от статуса
	// записи; ErrFinalizeInProgress финализатор возвращает вызывающему,
	// только когда параллельная попытка ещё не завершилась.
	ErrFinalizeSaleIDRequired = errors.New("finalize sale_id is required")
	ErrFinalizeRecordExists   = errors.New("finalize record already exists")
	ErrFinalizeInProgress     = errors.New("finalize already in progress")
	ErrFinalizeRecordNotFound = errors.New("finalize record not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrSuggestionUnavailable — советчик недоступен; на биллинг не влияет.
	ErrSuggestionUnavailable = errors.New("suggestion service unavailable")
)

// IsNotFound проверяет, является ли ошибка отсутствием записи.
// Финализатор трактует такие ошибки как "пропустить шаг", а не как сбой.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrSaleNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrProductVersionConflict) ||
		errors.Is(err, ErrCustomerVersionConflict)
}
