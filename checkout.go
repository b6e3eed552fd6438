package paylink

import (
	"context"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// CheckoutResult is returned to the storefront after a successful checkout
type CheckoutResult struct {
	Result      string `json:"result"`
	RedirectURL string `json:"redirect"`
}

// ProcessPayment creates a hosted checkout link for the order and hands the
// buyer off to it. On success the order is marked awaiting payment and the
// cart is emptied. On failure the order only gets a support note and the error
// matches ErrCheckoutUnavailable; its message is safe to show the buyer.
func (g *Gateway) ProcessPayment(ctx context.Context, id OrderID) (*CheckoutResult, error) {
	if !g.config.Available() {
		return nil, ErrGatewayDisabled
	}

	order, err := g.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return nil, ErrOrderAlreadyPaid
	}

	log := g.logger.With("order_id", id)

	checkoutURL, err := g.links.CreateCheckoutLink(ctx, BuildCheckoutLinkRequest(g.config, order))
	if err != nil {
		log.Error("failed to create checkout link",
			"kind", KindOf(err).String(),
			"error", err)
		g.metrics.recordCheckout(ctx, "failed")

		note := fmt.Sprintf("Checkout link could not be created (%s: %v). The buyer was asked to try again.", KindOf(err), err)
		if noteErr := g.orders.AddNote(ctx, id, note); noteErr != nil {
			log.Warn("failed to add checkout failure note", "error", noteErr)
		}

		g.runCheckoutFailureHooks(CheckoutFailureContext{
			Ctx:       ctx,
			OrderID:   id,
			Error:     err,
			Timestamp: g.now(),
		})

		return nil, &PaymentError{
			Kind:    KindOf(err),
			Code:    ErrCodeCheckoutFailed,
			Message: CheckoutFailureNotice,
			Err:     err,
		}
	}

	err = g.orders.MarkAwaitingPayment(ctx, id, AwaitingPaymentUpdate{
		Handle:      g.config.Handle,
		CheckoutURL: checkoutURL,
	})
	if err != nil {
		log.Error("failed to store checkout link", "error", err)
		return nil, NewPaymentError(KindUnknown, ErrCodeStoreError, "could not update order", err)
	}

	if err := g.cart.Empty(ctx, id); err != nil {
		log.Warn("failed to empty cart", "error", err)
	}

	g.metrics.recordCheckout(ctx, "created")
	log.Info("checkout link created")

	return &CheckoutResult{Result: "success", RedirectURL: checkoutURL}, nil
}

// BuildCheckoutLinkRequest derives the processor payload for an order.
// Amounts are integer minor units. Shipping is sent as its own line. When the
// lines do not add up to the order total (discounts, fees) a single line for
// the whole order is sent instead, so the buyer is always charged the total.
func BuildCheckoutLinkRequest(cfg GatewayConfig, order *Order) CheckoutLinkRequest {
	req := CheckoutLinkRequest{
		Handle:      cfg.Handle,
		OrderNSU:    string(order.ID),
		RedirectURL: cfg.RedirectURLFor(order.ID),
		WebhookURL:  cfg.WebhookURL,
		Items:       buildLinkItems(order),
	}

	if cfg.SendCustomer {
		c := LinkCustomer{
			Name:        strings.TrimSpace(order.Customer.Name),
			Email:       strings.TrimSpace(order.Customer.Email),
			PhoneNumber: NormalizePhone(order.Customer.Phone, cfg.DefaultRegion),
		}
		if c != (LinkCustomer{}) {
			req.Customer = &c
		}
	}

	if cfg.SendAddress {
		if cep := digitsOnly(order.Address.PostalCode); cep != "" {
			req.Address = &LinkAddress{
				CEP:        cep,
				Number:     strings.TrimSpace(order.Address.Number),
				Complement: strings.TrimSpace(order.Address.Complement),
			}
		}
	}

	return req
}

func buildLinkItems(order *Order) []LinkItem {
	var items []LinkItem
	var sum int64

	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		description := strings.TrimSpace(item.Description)
		if description == "" {
			description = "Item"
		}
		items = append(items, LinkItem{
			Quantity:    item.Quantity,
			Price:       item.UnitPrice,
			Description: description,
		})
		sum += item.UnitPrice * int64(item.Quantity)
	}

	if order.ShippingTotal > 0 {
		items = append(items, LinkItem{Quantity: 1, Price: order.ShippingTotal, Description: "Shipping"})
		sum += order.ShippingTotal
	}

	if len(items) == 0 || sum != order.Total {
		return []LinkItem{{
			Quantity:    1,
			Price:       order.Total,
			Description: fmt.Sprintf("Order #%s", order.ID),
		}}
	}
	return items
}

// NormalizePhone formats a phone number as E.164. Numbers without a country
// code are read in region. Unparseable input yields "".
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
