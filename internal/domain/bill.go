package domain

// LineItem представляет одну позицию черновика чека.
// Ключом служит ProductID: чек держит не больше одной строки на товар.
type LineItem struct {
	ProductID string
	Name      string
	Brand     string
	// UnitPrice — цена за единицу в рупиях.
	UnitPrice float64
	// Quantity может быть дробным для весового товара (0.5 кг).
	Quantity float64
	// Discount применяется к брутто строки; nil — скидки нет.
	Discount *Discount
}

// Gross возвращает сумму строки до скидки.
func (i LineItem) Gross() float64 {
	return i.UnitPrice * i.Quantity
}

// CustomerRef привязывает черновик к покупателю по имени и мобильному номеру.
// Mobile — ключ поиска записи покупателя при финализации.
type CustomerRef struct {
	Name   string
	Mobile string
}

// BillDraft — изменяемый черновик чека, который собирает оператор.
// Поля Subtotal/TaxAmount/Total производные: их пересчитывает калькулятор
// после каждой структурной мутации, напрямую они не изменяются.
type BillDraft struct {
	Customer     *CustomerRef
	Items        []LineItem
	BillDiscount *Discount
	// WalletRedeemed — списание с кошелька покупателя, применённое к черновику.
	WalletRedeemed float64

	Subtotal  float64
	TaxAmount float64
	Total     float64

	// PendingSaleID назначается при первой попытке финализации и
	// переживает неудачный checkout, чтобы повтор был идемпотентным.
	PendingSaleID string
}

// NewBillDraft возвращает пустой черновик без покупателя.
func NewBillDraft() BillDraft {
	return BillDraft{Items: make([]LineItem, 0)}
}

// FindItem возвращает индекс строки с данным товаром или -1.
func (b BillDraft) FindItem(productID string) int {
	for i := range b.Items {
		if b.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// IsEmpty сообщает, есть ли в черновике хотя бы одна позиция.
func (b BillDraft) IsEmpty() bool {
	return len(b.Items) == 0
}

// CloneItems возвращает независимую копию строк для замороженного снимка Sale.
func (b BillDraft) CloneItems() []LineItem {
	items := make([]LineItem, len(b.Items))
	copy(items, b.Items)
	for i := range items {
		if items[i].Discount != nil {
			d := *items[i].Discount
			items[i].Discount = &d
		}
	}
	return items
}
