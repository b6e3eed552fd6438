package paylink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderID identifies an order in the external order store.
// The processor echoes it back as order_nsu, sometimes as a JSON number.
type OrderID string

// UnmarshalJSON accepts both "123" and 123
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("order id must be a string or number: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

func (id OrderID) String() string {
	return string(id)
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusProcessing      OrderStatus = "processing"
	StatusCompleted       OrderStatus = "completed"
	StatusFailed          OrderStatus = "failed"
	StatusCancelled       OrderStatus = "cancelled"
)

// IsPaid reports whether the status is one of the paid states.
// Once an order reaches a paid state it never goes back.
func (s OrderStatus) IsPaid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// OrderItem is one order line. Prices are in minor units (cents).
type OrderItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// Customer holds optional buyer contact data
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Address holds the optional billing address fields the processor accepts
type Address struct {
	PostalCode string `json:"postalCode,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
}

// OrderMeta is the gateway metadata attached to an order
type OrderMeta struct {
	Handle        string `json:"handle,omitempty"`
	Pending       bool   `json:"pending"`
	InvoiceSlug   string `json:"invoiceSlug,omitempty"`
	ReceiptURL    string `json:"receiptUrl,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	CheckoutURL   string `json:"checkoutUrl,omitempty"`
}

// Order is the subset of an order record the payment pipeline reads
type Order struct {
	ID            OrderID     `json:"id"`
	Status        OrderStatus `json:"status"`
	Currency      string      `json:"currency,omitempty"`
	Total         int64       `json:"total"`
	ShippingTotal int64       `json:"shippingTotal,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
	Customer      Customer    `json:"customer"`
	Address       Address     `json:"address"`
	Meta          OrderMeta   `json:"meta"`
	Notes         []string    `json:"notes,omitempty"`
	PaidAt        *time.Time  `json:"paidAt,omitempty"`
}

// ConfirmationSource tells which path produced a confirmation
type ConfirmationSource string

const (
	SourceWebhook          ConfirmationSource = "webhook"
	SourceConfirmationPage ConfirmationSource = "confirmation_page"
	SourceSupport          ConfirmationSource = "support"
)

// Confirmation is a transaction confirmation event. It lives only as long as
// the request that carries it; the replay guard remembers its transaction id.
type Confirmation struct {
	OrderID       OrderID
	TransactionID string
	InvoiceSlug   string
	ReceiptURL    string
	Source        ConfirmationSource
}

// VerificationResult is the answer of the processor's payment-check endpoint.
// OK is false when the call itself failed; Paid is only meaningful when OK.
type VerificationResult struct {
	OK   bool `json:"ok"`
	Paid bool `json:"paid"`
}

// ConfirmationState is what the confirmation page shows the buyer
type ConfirmationState string

const (
	StateConfirmed  ConfirmationState = "confirmed"
	StateConfirming ConfirmationState = "confirming"
)

// Message returns the buyer-facing text for the state
func (s ConfirmationState) Message() string {
	switch s {
	case StateConfirmed:
		return "Payment confirmed."
	default:
		return "Processing payment. You will be notified as soon as it is confirmed."
	}
}

// ============================================================================
// Processor wire types
// ============================================================================

// LinkItem is a line item in a checkout-link request
type LinkItem struct {
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
}

// LinkCustomer is the optional customer block of a checkout-link request
type LinkCustomer struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// LinkAddress is the optional address block of a checkout-link request
type LinkAddress struct {
	CEP        string `json:"cep,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
}

// CheckoutLinkRequest is the body sent to the processor's links endpoint
type CheckoutLinkRequest struct {
	Handle      string        `json:"handle"`
	OrderNSU    string        `json:"order_nsu"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	Items       []LinkItem    `json:"items"`
	Customer    *LinkCustomer `json:"customer,omitempty"`
	Address     *LinkAddress  `json:"address,omitempty"`
}

// CheckoutLinkResponse is the success body of the links endpoint
type CheckoutLinkResponse struct {
	URL string `json:"url"`
}

// PaymentCheckRequest is the body sent to the processor's payment-check endpoint
type PaymentCheckRequest struct {
	Handle         string `json:"handle"`
	OrderNSU       string `json:"order_nsu"`
	TransactionNSU string `json:"transaction_nsu"`
	Slug           string `json:"slug"`
}

// PaymentCheckResponse is the body returned by the payment-check endpoint
type PaymentCheckResponse struct {
	Success bool `json:"success"`
	Paid    bool `json:"paid"`
}

// WebhookPayload is the body the processor posts to the webhook endpoint
type WebhookPayload struct {
	OrderNSU       OrderID `json:"order_nsu"`
	TransactionNSU string  `json:"transaction_nsu"`
	InvoiceSlug    string  `json:"invoice_slug"`
	ReceiptURL     string  `json:"receipt_url,omitempty"`
}

// Confirmation converts the payload into a webhook-sourced confirmation
func (p WebhookPayload) Confirmation() Confirmation {
	return Confirmation{
		OrderID:       p.OrderNSU,
		TransactionID: p.TransactionNSU,
		InvoiceSlug:   p.InvoiceSlug,
		ReceiptURL:    p.ReceiptURL,
		Source:        SourceWebhook,
	}
}
