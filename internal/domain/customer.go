package domain

import "time"

// Customer — покупатель с балансом магазинного кошелька.
// Mobile — уникальный ключ поиска при финализации продажи.
type Customer struct {
	ID     string
	Name   string
	Mobile string
	// WalletBalance изменяется только финализатором продажи:
	// минус списание, плюс премиальный кешбэк.
	WalletBalance float64
	// IsPremium включает возврат встроенной 5% надбавки в кошелёк.
	IsPremium bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты покупателя.
func (c *Customer) ValidateInvariants() []error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, ErrCustomerIDRequired)
	}
	if c.Mobile == "" {
		errs = append(errs, ErrCustomerMobileRequired)
	}

	return errs
}
