// Package wallet содержит расчёты магазинного кошелька покупателя.
package wallet

import (
	"math"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// premiumSurchargePercent — встроенная надбавка для премиальных
// покупателей, уже заложенная в итог чека.
const premiumSurchargePercent = 5

// PremiumCredit возвращает сумму, зачисляемую в кошелёк премиального
// покупателя: надбавка извлекается из итога как total * 5/105, потому что
// итог уже содержит её (база с налогом), и усекается вниз до целой рупии.
// Для обычного покупателя кешбэка нет.
func PremiumCredit(total float64, isPremium bool) float64 {
	if !isPremium || total <= 0 {
		return 0
	}
	return math.Floor(total * premiumSurchargePercent / (100 + premiumSurchargePercent))
}

// RedeemLimit возвращает максимально допустимое списание кошелька:
// не больше subtotal чека и не больше доступного баланса.
func RedeemLimit(bill domain.BillDraft, customer domain.Customer) float64 {
	limit := math.Min(bill.Subtotal, customer.WalletBalance)
	if limit < 0 {
		return 0
	}
	return limit
}

// NewBalance возвращает баланс кошелька после финализации продажи.
func NewBalance(old, used, credited float64) float64 {
	return old - used + credited
}
