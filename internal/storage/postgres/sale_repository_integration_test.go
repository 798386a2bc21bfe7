package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestSaleRepository_PostgresCreateGetAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSaleRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	first := sampleSale("sale-1", now.Add(-time.Minute))
	second := sampleSale("sale-2", now)

	if err := repo.Create(first); err != nil {
		t.Fatalf("create sale-1: %v", err)
	}
	if err := repo.Create(second); err != nil {
		t.Fatalf("create sale-2: %v", err)
	}

	got, err := repo.Get(first.ID)
	if err != nil {
		t.Fatalf("get sale-1: %v", err)
	}
	if got.Total != first.Total || got.PaymentMethod != first.PaymentMethod {
		t.Fatalf("unexpected sale payload: %+v", got)
	}
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got.Items))
	}
	if got.Items[0].Discount == nil || got.Items[0].Discount.Kind != domain.DiscountPercentage {
		t.Fatalf("expected percentage discount on first item: %+v", got.Items[0])
	}
	if got.Items[1].Discount != nil {
		t.Fatalf("expected no discount on second item: %+v", got.Items[1])
	}

	listed, err := repo.List()
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "sale-2" {
		t.Fatalf("expected newest first, got %+v", listed)
	}
}

func TestSaleRepository_PostgresDuplicateCreate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSaleRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	sale := sampleSale("sale-dup", now)

	if err := repo.Create(sale); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := repo.Create(sale); !errors.Is(err, domain.ErrSaleAlreadyExists) {
		t.Fatalf("expected ErrSaleAlreadyExists, got %v", err)
	}

	if _, err := repo.Get("sale-unknown"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

func sampleSale(id string, date time.Time) domain.Sale {
	return domain.Sale{
		ID:   id,
		Date: date,
		Items: []domain.LineItem{
			{
				ProductID: "prod-sugar",
				Name:      "Sugar",
				Brand:     "Generic",
				UnitPrice: 48,
				Quantity:  2,
				Discount:  &domain.Discount{Kind: domain.DiscountPercentage, Value: 10},
			},
			{
				ProductID: "prod-rice",
				Name:      "Basmati Rice",
				Brand:     "Generic",
				UnitPrice: 120,
				Quantity:  0.5,
			},
		},
		Subtotal:       146.4,
		TaxAmount:      26.35,
		Total:          172.75,
		EmployeeID:     "emp-1",
		CustomerName:   "Asha",
		CustomerMobile: "9000000001",
		PaymentMethod:  domain.PaymentCash,
	}
}
