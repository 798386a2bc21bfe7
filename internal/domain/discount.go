package domain

// DiscountKind задаёт способ расчёта скидки.
type DiscountKind string

const (
	// DiscountPercentage — скидка в процентах от базовой суммы (0..100).
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed — фиксированная скидка в рупиях.
	DiscountFixed DiscountKind = "fixed"
)

// Discount описывает скидку на позицию или на весь чек.
// Удаление скидки выражается явным вариантом DiscountUpdate.Remove,
// а не магическим значением в числовом поле.
type Discount struct {
	Kind  DiscountKind
	Value float64
}

// Validate проверяет корректность скидки до применения к черновику чека.
func (d Discount) Validate() error {
	switch d.Kind {
	case DiscountPercentage:
		if d.Value < 0 || d.Value > 100 {
			return ErrDiscountPercentOutOfRange
		}
	case DiscountFixed:
		if d.Value < 0 {
			return ErrDiscountValueNegative
		}
	default:
		return ErrDiscountKindUnknown
	}
	return nil
}

// Amount возвращает сумму скидки для базовой суммы base.
// Для fixed возвращается значение как есть, без ограничения сверху:
// отрицательный остаток строки допустим, итог чека прижимается к нулю
// только на уровне всего чека.
func (d Discount) Amount(base float64) float64 {
	switch d.Kind {
	case DiscountPercentage:
		return base * d.Value / 100
	case DiscountFixed:
		return d.Value
	default:
		return 0
	}
}

// DiscountUpdate описывает изменение скидки: установить новую или снять текущую.
type DiscountUpdate struct {
	Remove   bool
	Discount Discount
}

// SetDiscount возвращает обновление "установить скидку".
func SetDiscount(d Discount) DiscountUpdate {
	return DiscountUpdate{Discount: d}
}

// RemoveDiscount возвращает обновление "снять скидку".
func RemoveDiscount() DiscountUpdate {
	return DiscountUpdate{Remove: true}
}
