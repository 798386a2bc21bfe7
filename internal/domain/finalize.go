package domain

import "time"

// FinalizeStatus описывает жизненный цикл записи журнала финализации.
type FinalizeStatus string

const (
	// FinalizeStatusProcessing — checkout принят и ещё выполняется.
	FinalizeStatusProcessing FinalizeStatus = "processing"
	// FinalizeStatusDone — продажа записана, snapshot сохранён в записи.
	FinalizeStatusDone FinalizeStatus = "done"
	// FinalizeStatusFailed — финализация прервалась; повтор разрешён.
	FinalizeStatusFailed FinalizeStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s FinalizeStatus) Valid() bool {
	switch s {
	case FinalizeStatusProcessing, FinalizeStatusDone, FinalizeStatusFailed:
		return true
	default:
		return false
	}
}

// FinalizeRecord — журнал финализации, ключуемый по Sale ID.
// Делает checkout идемпотентным: повтор для записи в статусе done
// возвращает сохранённый снимок продажи и не трогает склад и кошелёк.
type FinalizeRecord struct {
	SaleID string
	Status FinalizeStatus
	// SaleSnapshot — сериализованный Sale для ответа на повторный checkout.
	SaleSnapshot []byte
	FailReason   string
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
