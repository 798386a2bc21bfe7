package domain

import "time"

// PaymentMethod задаёт способ оплаты продажи.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "CASH"
	PaymentUPI        PaymentMethod = "UPI"
	PaymentNetBanking PaymentMethod = "NET_BANKING"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentNetBanking:
		return true
	default:
		return false
	}
}

// Operator — уже аутентифицированный сотрудник, выполняющий операцию.
type Operator struct {
	ID       string
	FullName string
}

// Sale — неизменяемый снимок завершённой продажи.
// Создаётся ровно один раз финализатором и дальше никогда не мутирует.
type Sale struct {
	ID             string
	Date           time.Time
	Items          []LineItem
	Subtotal       float64
	TaxAmount      float64
	Total          float64
	EmployeeID     string
	CustomerName   string
	CustomerMobile string
	PaymentMethod  PaymentMethod
	// WalletUsed — сколько списано с кошелька покупателя в этой продаже.
	WalletUsed float64
	// WalletCredited — возвращённая в кошелёк премиальная надбавка.
	WalletCredited float64
}

// ValidateInvariants проверяет базовые инварианты снимка продажи.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if s.ID == "" {
		errs = append(errs, ErrSaleIDRequired)
	}
	if len(s.Items) == 0 {
		errs = append(errs, ErrSaleItemsRequired)
	}
	if s.Total < 0 {
		errs = append(errs, ErrSaleTotalNegative)
	}
	if s.EmployeeID == "" {
		errs = append(errs, ErrSaleEmployeeRequired)
	}
	if !s.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodUnknown)
	}
	if s.WalletUsed < 0 || s.WalletCredited < 0 {
		errs = append(errs, ErrSaleWalletNegative)
	}

	return errs
}
