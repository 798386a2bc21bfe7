package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/billing"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/advisory"
	"github.com/vladislavdragonenkov/pos/internal/service/checkout"
)

// CommandHandler маршрутизирует команды терминалов в сессии чеков
// и финализатор продаж.
type CommandHandler struct {
	registry  *billing.Registry
	products  domain.ProductRepository
	customers domain.CustomerRepository
	finalizer checkout.Finalizer
	advisor   *advisory.Client
	logger    *log.Entry
}

// NewCommandHandler создаёт обработчик команд терминалов.
// advisor опционален: при nil подсказки допродаж не запрашиваются.
func NewCommandHandler(
	registry *billing.Registry,
	products domain.ProductRepository,
	customers domain.CustomerRepository,
	finalizer checkout.Finalizer,
	advisor *advisory.Client,
	logger *log.Entry,
) *CommandHandler {
	if logger == nil {
		logger = log.WithField("component", "command-handler")
	}
	return &CommandHandler{
		registry:  registry,
		products:  products,
		customers: customers,
		finalizer: finalizer,
		advisor:   advisor,
		logger:    logger,
	}
}

// HandleMessage разбирает сообщение Kafka и выполняет команду.
// Используется как kafka.MessageHandler.
func (h *CommandHandler) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	cmd, err := kafka.DecodeTerminalCommand(message.Value)
	if err != nil {
		return err
	}
	return h.Handle(ctx, cmd)
}

// Handle выполняет одну команду терминала.
func (h *CommandHandler) Handle(ctx context.Context, cmd kafka.TerminalCommand) error {
	session := h.registry.Session(cmd.TerminalID)
	logger := h.logger.WithFields(log.Fields{
		"terminal_id": cmd.TerminalID,
		"command":     string(cmd.Type),
	})

	switch cmd.Type {
	case kafka.CommandAddItem:
		return h.addItem(ctx, session, cmd, logger)

	case kafka.CommandRemoveItem:
		return session.RemoveItem(cmd.ProductID)

	case kafka.CommandSetItemDiscount:
		upd, err := discountUpdate(cmd)
		if err != nil {
			return err
		}
		return session.SetItemDiscount(cmd.ProductID, upd)

	case kafka.CommandSetBillDiscount:
		upd, err := discountUpdate(cmd)
		if err != nil {
			return err
		}
		return session.SetBillDiscount(upd)

	case kafka.CommandSetCustomer:
		h.setCustomer(session, cmd)
		return nil

	case kafka.CommandRedeemWallet:
		return h.redeemWallet(session, logger)

	case kafka.CommandCheckout:
		return h.checkout(session, cmd, logger)

	case kafka.CommandClearBill:
		session.Clear()
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func (h *CommandHandler) addItem(ctx context.Context, session *billing.Session, cmd kafka.TerminalCommand, logger *log.Entry) error {
	product, err := h.products.Get(cmd.ProductID)
	if err != nil {
		return err
	}

	var discount *domain.Discount
	if cmd.Discount != nil && !cmd.Discount.Remove {
		d := domain.Discount{
			Kind:  domain.DiscountKind(cmd.Discount.Kind),
			Value: cmd.Discount.Value,
		}
		if err := d.Validate(); err != nil {
			return err
		}
		discount = &d
	}

	qty := cmd.Quantity
	if qty == 0 {
		qty = 1
	}

	if err := session.AddItem(product, qty, discount); err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"product_id": product.ID,
		"quantity":   qty,
	}).Debug("item added to bill")

	if h.advisor != nil {
		if suggestions := h.advisor.SuggestUpsell(ctx, session.Bill()); len(suggestions) > 0 {
			logger.WithField("suggestions", len(suggestions)).Debug("upsell suggestions available")
		}
	}
	return nil
}

// setCustomer прикрепляет покупателя к черновику. Если номер уже известен,
// имя берётся из карточки, чтобы опечатка оператора не переименовала его.
func (h *CommandHandler) setCustomer(session *billing.Session, cmd kafka.TerminalCommand) {
	name := cmd.CustomerName
	if known, err := h.customers.GetByMobile(cmd.CustomerMobile); err == nil {
		name = known.Name
	}
	session.SetCustomer(name, cmd.CustomerMobile)
}

func (h *CommandHandler) redeemWallet(session *billing.Session, logger *log.Entry) error {
	bill := session.Bill()
	if bill.Customer == nil {
		return domain.ErrCustomerNotAttached
	}

	customer, err := h.customers.GetByMobile(bill.Customer.Mobile)
	if err != nil {
		return err
	}

	redeemed, err := session.RedeemWallet(customer)
	if err != nil {
		return err
	}
	logger.WithField("redeemed", redeemed).Info("wallet redemption applied")
	return nil
}

func (h *CommandHandler) checkout(session *billing.Session, cmd kafka.TerminalCommand, logger *log.Entry) error {
	method := domain.PaymentMethod(cmd.PaymentMethod)
	if !method.Valid() {
		return domain.ErrPaymentMethodUnknown
	}

	bill, err := session.BeginCheckout()
	if err != nil {
		return err
	}

	operator := domain.Operator{ID: cmd.OperatorID}
	sale, err := h.finalizer.Finalize(bill, method, operator)
	if err != nil {
		if errors.Is(err, domain.ErrFinalizeInProgress) {
			logger.WithField("sale_id", bill.PendingSaleID).Warn("finalize already in progress")
			return err
		}
		// PendingSaleID остаётся в черновике: повторный checkout
		// продолжит ту же финализацию.
		logger.WithError(err).WithField("sale_id", bill.PendingSaleID).Error("checkout failed")
		return err
	}

	session.CompleteCheckout()
	logger.WithFields(log.Fields{
		"sale_id": sale.ID,
		"total":   sale.Total,
	}).Info("sale finalized")
	return nil
}

func discountUpdate(cmd kafka.TerminalCommand) (domain.DiscountUpdate, error) {
	if cmd.Discount == nil {
		return domain.DiscountUpdate{}, fmt.Errorf("discount payload is required for %s", cmd.Type)
	}
	return cmd.Discount.ToUpdate()
}
