package paylink

import (
	"context"
	"time"
)

// PaidUpdate is everything written to an order when it becomes paid
type PaidUpdate struct {
	TransactionID string
	InvoiceSlug   string
	ReceiptURL    string
	PaidAt        time.Time
}

// AwaitingPaymentUpdate is written once a checkout link exists
type AwaitingPaymentUpdate struct {
	Handle      string
	CheckoutURL string
}

// OrderStore is the external order system.
// Implementations must be safe for concurrent use.
type OrderStore interface {
	// Get returns the order or an error wrapping ErrOrderNotFound
	Get(ctx context.Context, id OrderID) (*Order, error)

	// MarkPaid is a compare-and-set: it moves the order to the paid state
	// only if it is not paid yet, clears the pending flag and attaches the
	// transaction metadata in the same step.
	//
	// Returns:
	//   - true, nil when this call performed the transition
	//   - false, nil when the order was already paid (nothing written)
	//   - false, err wrapping ErrOrderNotFound for unknown orders
	MarkPaid(ctx context.Context, id OrderID, update PaidUpdate) (bool, error)

	// MarkAwaitingPayment stores the checkout metadata, sets the pending flag
	// and moves a not-yet-paid order to awaiting_payment.
	MarkAwaitingPayment(ctx context.Context, id OrderID, update AwaitingPaymentUpdate) error

	// AddNote appends an audit note to the order
	AddNote(ctx context.Context, id OrderID, note string) error
}

// Cart is the buyer's cart, emptied once checkout hands off to the processor
type Cart interface {
	Empty(ctx context.Context, id OrderID) error
}

// CheckoutLinkCreator creates hosted checkout links at the processor
type CheckoutLinkCreator interface {
	CreateCheckoutLink(ctx context.Context, req CheckoutLinkRequest) (string, error)
}

// PaymentVerifier asks the processor whether a transaction was paid.
// It never fails loudly: any failure is reported as VerificationResult{OK: false}.
type PaymentVerifier interface {
	PaymentCheck(ctx context.Context, req PaymentCheckRequest) VerificationResult
}

// ProcessorClient is both processor endpoints in one client
type ProcessorClient interface {
	CheckoutLinkCreator
	PaymentVerifier
}

// ReplayGuard remembers applied transactions and counts webhook calls per source
type ReplayGuard interface {
	// IsDuplicate reports whether txID was already seen inside the replay window
	// and marks it as seen when it was not. The check and the mark are atomic.
	IsDuplicate(ctx context.Context, txID string) (bool, error)

	// Forget drops the mark for txID so a later delivery is evaluated again
	Forget(ctx context.Context, txID string) error

	// CheckRateLimit returns false once the source is over budget for the
	// current window; otherwise it counts the request and returns true.
	CheckRateLimit(ctx context.Context, clientIP string) (bool, error)
}

// CartFunc adapts a function to the Cart interface
type CartFunc func(ctx context.Context, id OrderID) error

func (f CartFunc) Empty(ctx context.Context, id OrderID) error {
	return f(ctx, id)
}
