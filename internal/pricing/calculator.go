// Package pricing содержит чистый калькулятор сумм чека.
// Recompute не имеет побочных эффектов и вызывается после каждой
// структурной мутации черновика, чтобы производные поля всегда
// соответствовали позициям и модификаторам.
package pricing

import (
	"math"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// LineNet возвращает нетто строки: брутто минус скидка строки.
// Fixed-скидка больше брутто даёт отрицательное нетто — это намеренно
// не прижимается к нулю (к нулю прижимается только итог чека).
func LineNet(item domain.LineItem) float64 {
	gross := item.Gross()
	if item.Discount == nil {
		return gross
	}
	return gross - item.Discount.Amount(gross)
}

// Recompute пересчитывает производные суммы черновика и возвращает
// копию с обновлёнными Subtotal/TaxAmount/Total. Позиции не изменяются.
// Порядок: нетто строк -> скидка на чек от subtotal -> списание кошелька ->
// налог от базы после скидок и кошелька -> итог, прижатый к нулю снизу.
func Recompute(bill domain.BillDraft, gstRatePercent float64) domain.BillDraft {
	var subtotal float64
	for _, item := range bill.Items {
		subtotal += LineNet(item)
	}

	afterDiscount := subtotal
	if bill.BillDiscount != nil {
		afterDiscount -= bill.BillDiscount.Amount(subtotal)
	}

	afterWallet := afterDiscount - bill.WalletRedeemed

	// Налог считается от базы после списания кошелька: списание уменьшает
	// налогооблагаемую сумму, а не оплачивает чек после налога.
	var tax float64
	if gstRatePercent > 0 {
		tax = afterWallet * gstRatePercent / 100
	}

	bill.Subtotal = subtotal
	bill.TaxAmount = tax
	bill.Total = math.Max(0, afterWallet+tax)
	return bill
}
