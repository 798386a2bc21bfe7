package wallet_test

import (
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/wallet"
)

func TestPremiumCredit(t *testing.T) {
	cases := []struct {
		name      string
		total     float64
		isPremium bool
		want      float64
	}{
		{name: "premium 105 gives 5", total: 105, isPremium: true, want: 5},
		{name: "premium 200 gives 9", total: 200, isPremium: true, want: 9},
		{name: "premium 236 gives 11", total: 236, isPremium: true, want: 11},
		{name: "truncates down to whole rupee", total: 104.99, isPremium: true, want: 4},
		{name: "non premium gives nothing", total: 1000, isPremium: false, want: 0},
		{name: "zero total", total: 0, isPremium: true, want: 0},
		{name: "negative total", total: -10, isPremium: true, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := wallet.PremiumCredit(tc.total, tc.isPremium); got != tc.want {
				t.Fatalf("PremiumCredit(%v, %v) = %v, want %v", tc.total, tc.isPremium, got, tc.want)
			}
		})
	}
}

func TestRedeemLimit(t *testing.T) {
	cases := []struct {
		name     string
		subtotal float64
		balance  float64
		want     float64
	}{
		{name: "balance below subtotal", subtotal: 200, balance: 50, want: 50},
		{name: "subtotal below balance", subtotal: 30, balance: 500, want: 30},
		{name: "equal", subtotal: 75, balance: 75, want: 75},
		{name: "zero balance", subtotal: 200, balance: 0, want: 0},
		{name: "negative subtotal clamped", subtotal: -50, balance: 100, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bill := domain.NewBillDraft()
			bill.Subtotal = tc.subtotal
			customer := domain.Customer{WalletBalance: tc.balance}
			if got := wallet.RedeemLimit(bill, customer); got != tc.want {
				t.Fatalf("RedeemLimit = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewBalance(t *testing.T) {
	if got := wallet.NewBalance(100, 40, 9); got != 69 {
		t.Fatalf("NewBalance = %v, want 69", got)
	}
	if got := wallet.NewBalance(50, 50, 0); got != 0 {
		t.Fatalf("NewBalance = %v, want 0", got)
	}
}
