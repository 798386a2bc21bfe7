package domain

import "time"

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	// Create сохраняет новый товар. Возвращает ошибку, если ID уже занят.
	Create(product Product) error
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(id string) (Product, error)
	// List возвращает все товары, отсортированные по имени.
	List() ([]Product, error)
	// Save применяет обновления к товару с учётом optimistic locking.
	Save(product Product) error
}

// CustomerRepository описывает требования к хранилищу покупателей.
type CustomerRepository interface {
	// Create сохраняет нового покупателя.
	Create(customer Customer) error
	// GetByMobile возвращает покупателя по номеру или ErrCustomerNotFound.
	GetByMobile(mobile string) (Customer, error)
	// Save применяет обновления к покупателю с учётом optimistic locking.
	Save(customer Customer) error
}

// SaleRepository описывает требования к хранилищу продаж.
// Продажи неизменяемы: интерфейс не даёт способа их обновить или удалить.
type SaleRepository interface {
	// Create сохраняет снимок продажи. ErrSaleAlreadyExists при повторе ID.
	Create(sale Sale) error
	// Get возвращает продажу по идентификатору или ErrSaleNotFound.
	Get(id string) (Sale, error)
	// List возвращает продажи, новые первыми.
	List() ([]Sale, error)
}

// StockLogRepository хранит append-only журнал изменений остатков.
type StockLogRepository interface {
	// Append добавляет запись аудита; записи никогда не изменяются.
	Append(productID string, entry StockLogEntry) error
	// History возвращает записи по товару, новые первыми.
	History(productID string) ([]StockLogEntry, error)
}

// FinalizeLogRepository хранит состояние финализации по Sale ID.
type FinalizeLogRepository interface {
	// CreateProcessing регистрирует начатую финализацию.
	// Если запись уже есть, возвращает её вместе с ErrFinalizeRecordExists.
	CreateProcessing(saleID string, ttlAt time.Time) (FinalizeRecord, error)
	// Get возвращает запись или ErrFinalizeRecordNotFound.
	Get(saleID string) (FinalizeRecord, error)
	// MarkDone сохраняет снимок продажи и закрывает запись.
	MarkDone(saleID string, saleSnapshot []byte) error
	// MarkFailed фиксирует причину сбоя; повторная финализация разрешена.
	MarkFailed(saleID string, reason string) error
	// DeleteExpired удаляет записи с истёкшим TTL, не более limit за вызов.
	DeleteExpired(before time.Time, limit int) (int, error)
}
