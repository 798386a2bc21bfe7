package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestBillDraftFindItem(t *testing.T) {
	bill := domain.NewBillDraft()
	bill.Items = []domain.LineItem{
		{ProductID: "p-1", UnitPrice: 10, Quantity: 1},
		{ProductID: "p-2", UnitPrice: 20, Quantity: 2},
	}

	if idx := bill.FindItem("p-2"); idx != 1 {
		t.Fatalf("FindItem(p-2) = %d, want 1", idx)
	}
	if idx := bill.FindItem("p-9"); idx != -1 {
		t.Fatalf("FindItem(p-9) = %d, want -1", idx)
	}
}

func TestBillDraftIsEmpty(t *testing.T) {
	bill := domain.NewBillDraft()
	if !bill.IsEmpty() {
		t.Fatalf("new draft must be empty")
	}
	bill.Items = append(bill.Items, domain.LineItem{ProductID: "p-1", Quantity: 1})
	if bill.IsEmpty() {
		t.Fatalf("draft with an item must not be empty")
	}
}

func TestLineItemGross(t *testing.T) {
	item := domain.LineItem{UnitPrice: 40, Quantity: 1.5}
	if got := item.Gross(); got != 60 {
		t.Fatalf("Gross = %v, want 60", got)
	}
}

func TestBillDraftCloneItems(t *testing.T) {
	disc := domain.Discount{Kind: domain.DiscountFixed, Value: 5}
	bill := domain.NewBillDraft()
	bill.Items = []domain.LineItem{
		{ProductID: "p-1", UnitPrice: 10, Quantity: 1, Discount: &disc},
	}

	clone := bill.CloneItems()
	clone[0].Quantity = 99
	clone[0].Discount.Value = 77

	if bill.Items[0].Quantity != 1 {
		t.Fatalf("clone must not share item slice: %+v", bill.Items[0])
	}
	if bill.Items[0].Discount.Value != 5 {
		t.Fatalf("clone must deep-copy discounts: %+v", bill.Items[0].Discount)
	}
}

// makeDraftSnapshot имитирует снимок, который отдаёт billing-сессия:
// методы чтения должны вызываться прямо на возвращаемом значении.
func makeDraftSnapshot(items ...domain.LineItem) domain.BillDraft {
	bill := domain.NewBillDraft()
	bill.Items = append(bill.Items, items...)
	return bill
}

func TestBillDraftReadMethodsOnSnapshot(t *testing.T) {
	if !makeDraftSnapshot().IsEmpty() {
		t.Fatalf("empty snapshot must report IsEmpty")
	}

	line := domain.LineItem{ProductID: "p-1", UnitPrice: 10, Quantity: 2}
	if makeDraftSnapshot(line).IsEmpty() {
		t.Fatalf("snapshot with an item must not be empty")
	}
	if idx := makeDraftSnapshot(line).FindItem("p-1"); idx != 0 {
		t.Fatalf("FindItem on snapshot = %d, want 0", idx)
	}
	if items := makeDraftSnapshot(line).CloneItems(); len(items) != 1 {
		t.Fatalf("CloneItems on snapshot returned %d items, want 1", len(items))
	}
}
