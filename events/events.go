// Package events publishes order lifecycle events for downstream systems
// (fulfilment, notifications, accounting).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lojacheckout/paylink"
)

// TypeOrderPaid is the event type emitted when an order becomes paid
const TypeOrderPaid = "order.paid"

// OrderPaid is the order.paid event body
type OrderPaid struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	OrderID       paylink.OrderID            `json:"order_id"`
	TransactionID string                     `json:"transaction_id"`
	InvoiceSlug   string                     `json:"invoice_slug"`
	ReceiptURL    string                     `json:"receipt_url,omitempty"`
	Source        paylink.ConfirmationSource `json:"source"`
	PaidAt        time.Time                  `json:"paid_at"`
}

// NewOrderPaid builds an order.paid event from a hook context
func NewOrderPaid(hookCtx paylink.OrderPaidContext) OrderPaid {
	c := hookCtx.Confirmation
	return OrderPaid{
		ID:            uuid.NewString(),
		Type:          TypeOrderPaid,
		OrderID:       c.OrderID,
		TransactionID: c.TransactionID,
		InvoiceSlug:   c.InvoiceSlug,
		ReceiptURL:    c.ReceiptURL,
		Source:        c.Source,
		PaidAt:        hookCtx.PaidAt.UTC(),
	}
}

// Publisher delivers events
type Publisher interface {
	PublishOrderPaid(ctx context.Context, event OrderPaid) error
	Close() error
}

// OrderPaidHook adapts a publisher to the gateway's OnOrderPaid hook
func OrderPaidHook(p Publisher) paylink.OrderPaidHook {
	return func(hookCtx paylink.OrderPaidContext) error {
		return p.PublishOrderPaid(hookCtx.Ctx, NewOrderPaid(hookCtx))
	}
}
