// Package billing владеет черновиком чека кассового терминала.
// Все мутации проходят валидацию на границе и завершаются пересчётом
// производных сумм, поэтому черновик никогда не бывает рассогласован.
package billing

import (
	"math"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/pricing"
	"github.com/vladislavdragonenkov/pos/internal/wallet"
)

// Session — активный черновик одного терминала. Черновик один на
// терминал, конкурентных мутаций в рамках терминала нет, но команды
// приходят из consumer'а, поэтому доступ сериализуется мьютексом.
type Session struct {
	mu             sync.Mutex
	bill           domain.BillDraft
	gstRatePercent float64
	logger         *log.Entry
}

// NewSession создаёт сессию с пустым черновиком.
func NewSession(gstRatePercent float64, logger *log.Entry) *Session {
	if logger == nil {
		logger = log.WithField("component", "billing-session")
	}
	return &Session{
		bill:           domain.NewBillDraft(),
		gstRatePercent: gstRatePercent,
		logger:         logger,
	}
}

// Bill возвращает копию текущего черновика.
func (s *Session) Bill() domain.BillDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// AddItem добавляет товар в чек. Повторное добавление того же товара
// увеличивает количество существующей строки; отрицательное qty уменьшает
// его, а строка с итоговым qty <= 0 удаляется. Новая скидка, если задана,
// заменяет скидку строки. Нехватка остатка — предупреждение, не отказ.
func (s *Session) AddItem(product domain.Product, qty float64, discount *domain.Discount) error {
	if !validQuantity(qty) {
		return domain.ErrQuantityInvalid
	}
	if product.Price < 0 {
		return domain.ErrUnitPriceNegative
	}
	if discount != nil {
		if err := discount.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Stock < qty {
		s.logger.WithFields(log.Fields{
			"product_id": product.ID,
			"stock":      product.Stock,
			"qty":        qty,
		}).Warn("stock low for product")
	}

	idx := s.bill.FindItem(product.ID)
	if idx >= 0 {
		item := &s.bill.Items[idx]
		item.Quantity += qty
		if discount != nil {
			d := *discount
			item.Discount = &d
		}
		if item.Quantity <= 0 {
			s.bill.Items = append(s.bill.Items[:idx], s.bill.Items[idx+1:]...)
		}
	} else {
		if qty <= 0 {
			return domain.ErrQuantityInvalid
		}
		item := domain.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Brand:     product.Brand,
			UnitPrice: product.Price,
			Quantity:  qty,
		}
		if discount != nil {
			d := *discount
			item.Discount = &d
		}
		s.bill.Items = append(s.bill.Items, item)
	}

	s.recompute()
	return nil
}

// RemoveItem убирает строку товара из чека.
func (s *Session) RemoveItem(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.bill.FindItem(productID)
	if idx < 0 {
		return domain.ErrBillItemNotFound
	}
	s.bill.Items = append(s.bill.Items[:idx], s.bill.Items[idx+1:]...)
	s.recompute()
	return nil
}

// SetItemDiscount устанавливает или снимает скидку строки.
func (s *Session) SetItemDiscount(productID string, upd domain.DiscountUpdate) error {
	if !upd.Remove {
		if err := upd.Discount.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.bill.FindItem(productID)
	if idx < 0 {
		return domain.ErrBillItemNotFound
	}
	if upd.Remove {
		s.bill.Items[idx].Discount = nil
	} else {
		d := upd.Discount
		s.bill.Items[idx].Discount = &d
	}
	s.recompute()
	return nil
}

// SetBillDiscount устанавливает или снимает скидку на весь чек.
func (s *Session) SetBillDiscount(upd domain.DiscountUpdate) error {
	if !upd.Remove {
		if err := upd.Discount.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if upd.Remove {
		s.bill.BillDiscount = nil
	} else {
		d := upd.Discount
		s.bill.BillDiscount = &d
	}
	s.recompute()
	return nil
}

// SetCustomer привязывает покупателя к черновику по имени и номеру.
func (s *Session) SetCustomer(name, mobile string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bill.Customer = &domain.CustomerRef{Name: name, Mobile: mobile}
	// Списание кошелька привязано к предыдущему покупателю.
	s.bill.WalletRedeemed = 0
	s.recompute()
}

// RedeemWallet применяет списание кошелька к черновику:
// min(subtotal, баланс). Повторный вызов перезаписывает, а не накапливает.
// Списание становится долговременным только при финализации.
func (s *Session) RedeemWallet(customer domain.Customer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bill.Customer == nil {
		return 0, domain.ErrCustomerNotAttached
	}
	if customer.WalletBalance < 0 {
		return 0, domain.ErrWalletAmountNegative
	}

	amount := wallet.RedeemLimit(s.bill, customer)
	s.bill.WalletRedeemed = amount
	s.recompute()
	return amount, nil
}

// ClearWalletRedemption снимает списание кошелька с черновика.
func (s *Session) ClearWalletRedemption() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bill.WalletRedeemed = 0
	s.recompute()
}

// Clear сбрасывает черновик к пустому чеку без покупателя.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bill = domain.NewBillDraft()
}

// BeginCheckout возвращает снимок черновика для финализации, назначив
// Sale ID при первой попытке. ID переживает неудачный checkout, поэтому
// повтор финализируется под тем же идентификатором.
func (s *Session) BeginCheckout() (domain.BillDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bill.IsEmpty() {
		return domain.BillDraft{}, domain.ErrBillEmpty
	}
	if s.bill.PendingSaleID == "" {
		s.bill.PendingSaleID = uuid.NewString()
	}
	return s.snapshot(), nil
}

// CompleteCheckout сбрасывает черновик после успешной финализации.
// При неудаче не вызывается: черновик остаётся нетронутым для повтора.
func (s *Session) CompleteCheckout() {
	s.Clear()
}

// snapshot возвращает копию черновика с независимыми строками.
// Вызывается под мьютексом.
func (s *Session) snapshot() domain.BillDraft {
	b := s.bill
	b.Items = s.bill.CloneItems()
	if s.bill.Customer != nil {
		c := *s.bill.Customer
		b.Customer = &c
	}
	if s.bill.BillDiscount != nil {
		d := *s.bill.BillDiscount
		b.BillDiscount = &d
	}
	return b
}

// recompute обновляет производные суммы. Вызывается под мьютексом.
func (s *Session) recompute() {
	s.bill = pricing.Recompute(s.bill, s.gstRatePercent)
}

func validQuantity(qty float64) bool {
	return !math.IsNaN(qty) && !math.IsInf(qty, 0)
}
