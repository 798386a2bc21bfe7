package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События продаж
	EventTypeSaleFinalized EventType = "sale.finalized"

	// События склада
	EventTypeStockDecremented EventType = "stock.decremented"
	EventTypeStockAdjusted    EventType = "stock.adjusted"
)

// Topics для Kafka
const (
	// TopicTerminalCommands — входящие команды кассовых терминалов
	// (адаптеры ввода: сканер, голос, камера — все сводятся к командам).
	TopicTerminalCommands = "pos.terminal.commands"
	TopicSaleEvents       = "pos.sale.events"
	TopicStockEvents      = "pos.stock.events"
	TopicDeadLetterQueue  = "pos.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SaleEvent представляет событие завершённой продажи
type SaleEvent struct {
	EventType      EventType `json:"event_type"`
	SaleID         string    `json:"sale_id"`
	EmployeeID     string    `json:"employee_id"`
	CustomerMobile string    `json:"customer_mobile,omitempty"`
	Subtotal       float64   `json:"subtotal"`
	TaxAmount      float64   `json:"tax_amount"`
	Total          float64   `json:"total"`
	WalletUsed     float64   `json:"wallet_used"`
	WalletCredited float64   `json:"wallet_credited"`
	ItemCount      int       `json:"item_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// StockEvent представляет событие изменения остатка
type StockEvent struct {
	EventType     EventType `json:"event_type"`
	ProductID     string    `json:"product_id"`
	Change        float64   `json:"change"`
	PreviousStock float64   `json:"previous_stock"`
	NewStock      float64   `json:"new_stock"`
	Reason        string    `json:"reason"`
	UserID        string    `json:"user_id"`
	SaleID        string    `json:"sale_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewSaleEvent создает событие продажи с текущим временем
func NewSaleEvent(eventType EventType, saleID, employeeID string) *SaleEvent {
	return &SaleEvent{
		EventType:  eventType,
		SaleID:     saleID,
		EmployeeID: employeeID,
		Timestamp:  time.Now(),
	}
}

// NewStockEvent создает событие изменения остатка с текущим временем
func NewStockEvent(eventType EventType, productID string) *StockEvent {
	return &StockEvent{
		EventType: eventType,
		ProductID: productID,
		Timestamp: time.Now(),
	}
}
