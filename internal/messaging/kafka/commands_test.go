package kafka

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestDecodeTerminalCommand(t *testing.T) {
	raw := []byte(`{
		"type": "add_item",
		"terminal_id": "terminal-1",
		"operator_id": "emp-1",
		"product_id": "prod-1",
		"quantity": 2.5
	}`)

	cmd, err := DecodeTerminalCommand(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cmd.Type != CommandAddItem || cmd.TerminalID != "terminal-1" || cmd.Quantity != 2.5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestDecodeTerminalCommand_BadJSON(t *testing.T) {
	if _, err := DecodeTerminalCommand([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTerminalCommandValidate(t *testing.T) {
	base := TerminalCommand{
		Type:       CommandAddItem,
		TerminalID: "terminal-1",
		OperatorID: "emp-1",
		ProductID:  "prod-1",
	}

	cases := []struct {
		name    string
		mut     func(c *TerminalCommand)
		wantErr bool
	}{
		{name: "valid add_item", mut: func(c *TerminalCommand) {}},
		{name: "no terminal", mut: func(c *TerminalCommand) { c.TerminalID = "" }, wantErr: true},
		{name: "no operator", mut: func(c *TerminalCommand) { c.OperatorID = "" }, wantErr: true},
		{name: "add_item without product", mut: func(c *TerminalCommand) { c.ProductID = "" }, wantErr: true},
		{
			name: "remove_item without product",
			mut: func(c *TerminalCommand) {
				c.Type = CommandRemoveItem
				c.ProductID = ""
			},
			wantErr: true,
		},
		{
			name: "set_item_discount without product",
			mut: func(c *TerminalCommand) {
				c.Type = CommandSetItemDiscount
				c.ProductID = ""
			},
			wantErr: true,
		},
		{
			name: "checkout without product is fine",
			mut: func(c *TerminalCommand) {
				c.Type = CommandCheckout
				c.ProductID = ""
				c.PaymentMethod = "CASH"
			},
		},
		{
			name: "clear_bill",
			mut: func(c *TerminalCommand) {
				c.Type = CommandClearBill
				c.ProductID = ""
			},
		},
		{name: "unknown type", mut: func(c *TerminalCommand) { c.Type = "teleport" }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mut(&cmd)
			err := cmd.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error for %+v", cmd)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDiscountPayloadToUpdate(t *testing.T) {
	set := DiscountPayload{Kind: "percentage", Value: 10}
	upd, err := set.ToUpdate()
	if err != nil {
		t.Fatalf("to update failed: %v", err)
	}
	if upd.Remove || upd.Discount.Kind != domain.DiscountPercentage || upd.Discount.Value != 10 {
		t.Fatalf("unexpected update: %+v", upd)
	}

	remove := DiscountPayload{Remove: true}
	upd, err = remove.ToUpdate()
	if err != nil {
		t.Fatalf("to update failed: %v", err)
	}
	if !upd.Remove {
		t.Fatalf("expected removal update: %+v", upd)
	}

	invalid := DiscountPayload{Kind: "percentage", Value: 150}
	if _, err := invalid.ToUpdate(); !errors.Is(err, domain.ErrDiscountPercentOutOfRange) {
		t.Fatalf("expected ErrDiscountPercentOutOfRange, got %v", err)
	}

	unknown := DiscountPayload{Kind: "loyalty", Value: 5}
	if _, err := unknown.ToUpdate(); !errors.Is(err, domain.ErrDiscountKindUnknown) {
		t.Fatalf("expected ErrDiscountKindUnknown, got %v", err)
	}
}
