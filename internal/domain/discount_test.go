package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestDiscountValidate(t *testing.T) {
	cases := []struct {
		name    string
		d       domain.Discount
		wantErr error
	}{
		{name: "percentage ok", d: domain.Discount{Kind: domain.DiscountPercentage, Value: 10}},
		{name: "percentage zero", d: domain.Discount{Kind: domain.DiscountPercentage, Value: 0}},
		{name: "percentage hundred", d: domain.Discount{Kind: domain.DiscountPercentage, Value: 100}},
		{
			name:    "percentage above hundred",
			d:       domain.Discount{Kind: domain.DiscountPercentage, Value: 101},
			wantErr: domain.ErrDiscountPercentOutOfRange,
		},
		{
			name:    "percentage negative",
			d:       domain.Discount{Kind: domain.DiscountPercentage, Value: -1},
			wantErr: domain.ErrDiscountPercentOutOfRange,
		},
		{name: "fixed ok", d: domain.Discount{Kind: domain.DiscountFixed, Value: 150}},
		{
			name:    "fixed negative",
			d:       domain.Discount{Kind: domain.DiscountFixed, Value: -5},
			wantErr: domain.ErrDiscountValueNegative,
		},
		{
			name:    "unknown kind",
			d:       domain.Discount{Kind: "loyalty", Value: 5},
			wantErr: domain.ErrDiscountKindUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDiscountAmount(t *testing.T) {
	cases := []struct {
		name string
		d    domain.Discount
		base float64
		want float64
	}{
		{name: "percentage", d: domain.Discount{Kind: domain.DiscountPercentage, Value: 10}, base: 200, want: 20},
		{name: "fixed below base", d: domain.Discount{Kind: domain.DiscountFixed, Value: 30}, base: 200, want: 30},
		{name: "fixed above base is not capped", d: domain.Discount{Kind: domain.DiscountFixed, Value: 150}, base: 100, want: 150},
		{name: "unknown kind contributes nothing", d: domain.Discount{Kind: "bogus", Value: 50}, base: 100, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.d.Amount(tc.base); got != tc.want {
				t.Fatalf("Amount = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiscountUpdateVariants(t *testing.T) {
	set := domain.SetDiscount(domain.Discount{Kind: domain.DiscountFixed, Value: 10})
	if set.Remove {
		t.Fatalf("SetDiscount must not be a removal")
	}
	if set.Discount.Value != 10 {
		t.Fatalf("unexpected discount: %+v", set.Discount)
	}

	remove := domain.RemoveDiscount()
	if !remove.Remove {
		t.Fatalf("RemoveDiscount must be a removal")
	}
}
