package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// CommandType — тип команды кассового терминала.
// Все адаптеры ввода (сканер штрихкодов, QR, голос, камера) сводятся
// к одному из этих вариантов; ядро не знает, откуда пришла команда.
type CommandType string

const (
	CommandAddItem         CommandType = "add_item"
	CommandRemoveItem      CommandType = "remove_item"
	CommandSetItemDiscount CommandType = "set_item_discount"
	CommandSetBillDiscount CommandType = "set_bill_discount"
	CommandSetCustomer     CommandType = "set_customer"
	CommandRedeemWallet    CommandType = "redeem_wallet"
	CommandCheckout        CommandType = "checkout"
	CommandClearBill       CommandType = "clear_bill"
)

// DiscountPayload — скидка в составе команды.
// remove=true означает "снять скидку" вместо установки новой.
type DiscountPayload struct {
	Remove bool    `json:"remove,omitempty"`
	Kind   string  `json:"kind,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// ToUpdate преобразует payload в доменное обновление скидки.
func (p DiscountPayload) ToUpdate() (domain.DiscountUpdate, error) {
	if p.Remove {
		return domain.RemoveDiscount(), nil
	}
	d := domain.Discount{Kind: domain.DiscountKind(p.Kind), Value: p.Value}
	if err := d.Validate(); err != nil {
		return domain.DiscountUpdate{}, err
	}
	return domain.SetDiscount(d), nil
}

// TerminalCommand — конверт команды одного терминала.
// Key сообщения в Kafka — TerminalID, поэтому команды терминала
// обрабатываются последовательно в одной партиции.
type TerminalCommand struct {
	Type       CommandType `json:"type"`
	TerminalID string      `json:"terminal_id"`
	OperatorID string      `json:"operator_id"`

	// add_item / remove_item / set_item_discount
	ProductID string  `json:"product_id,omitempty"`
	Quantity  float64 `json:"quantity,omitempty"`

	// set_item_discount / set_bill_discount
	Discount *DiscountPayload `json:"discount,omitempty"`

	// set_customer
	CustomerName   string `json:"customer_name,omitempty"`
	CustomerMobile string `json:"customer_mobile,omitempty"`

	// checkout
	PaymentMethod string `json:"payment_method,omitempty"`
}

// Validate проверяет, что конверт пригоден для маршрутизации.
func (c TerminalCommand) Validate() error {
	if c.TerminalID == "" {
		return fmt.Errorf("terminal_id is required")
	}
	if c.OperatorID == "" {
		return fmt.Errorf("operator_id is required")
	}
	switch c.Type {
	case CommandAddItem, CommandRemoveItem, CommandSetItemDiscount:
		if c.ProductID == "" {
			return fmt.Errorf("product_id is required for %s", c.Type)
		}
	case CommandSetBillDiscount, CommandSetCustomer, CommandRedeemWallet,
		CommandCheckout, CommandClearBill:
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// DecodeTerminalCommand разбирает команду из сырого сообщения.
func DecodeTerminalCommand(value []byte) (TerminalCommand, error) {
	var cmd TerminalCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		return TerminalCommand{}, fmt.Errorf("decode terminal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return TerminalCommand{}, err
	}
	return cmd, nil
}
