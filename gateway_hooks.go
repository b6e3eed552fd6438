package paylink

import (
	"context"
	"time"
)

// ============================================================================
// Gateway Hook Context Types
// ============================================================================

// OrderPaidContext is passed to hooks after an order moved to the paid state.
// It is only built by the caller that performed the transition.
type OrderPaidContext struct {
	Ctx          context.Context
	Confirmation Confirmation
	PaidAt       time.Time
}

// WebhookRejectedContext describes a webhook the gateway refused
type WebhookRejectedContext struct {
	Ctx       context.Context
	ClientIP  string
	Status    int
	Reason    string
	OrderID   OrderID
	Timestamp time.Time
}

// CheckoutFailureContext describes a checkout link that could not be created
type CheckoutFailureContext struct {
	Ctx       context.Context
	OrderID   OrderID
	Error     error
	Timestamp time.Time
}

// ============================================================================
// Gateway Hook Function Types
// ============================================================================

// OrderPaidHook is called exactly once per order, after the paid transition.
// Any error returned is logged but does not affect the confirmation.
type OrderPaidHook func(OrderPaidContext) error

// WebhookRejectedHook is called for every webhook answered with a non-200 status
type WebhookRejectedHook func(WebhookRejectedContext)

// CheckoutFailureHook is called when a checkout link could not be created
type CheckoutFailureHook func(CheckoutFailureContext)

// OnOrderPaid registers a hook run after an order becomes paid
func (g *Gateway) OnOrderPaid(hook OrderPaidHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderPaidHooks = append(g.orderPaidHooks, hook)
	return g
}

// OnWebhookRejected registers a hook run for each rejected webhook
func (g *Gateway) OnWebhookRejected(hook WebhookRejectedHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.webhookRejectedHooks = append(g.webhookRejectedHooks, hook)
	return g
}

// OnCheckoutFailure registers a hook run when checkout link creation fails
func (g *Gateway) OnCheckoutFailure(hook CheckoutFailureHook) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutFailureHooks = append(g.checkoutFailureHooks, hook)
	return g
}

func (g *Gateway) runOrderPaidHooks(hookCtx OrderPaidContext) {
	g.mu.RLock()
	hooks := g.orderPaidHooks
	g.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(hookCtx); err != nil {
			g.logger.Warn("order paid hook failed",
				"order_id", hookCtx.Confirmation.OrderID,
				"error", err)
		}
	}
}

func (g *Gateway) runWebhookRejectedHooks(hookCtx WebhookRejectedContext) {
	g.mu.RLock()
	hooks := g.webhookRejectedHooks
	g.mu.RUnlock()

	for _, hook := range hooks {
		hook(hookCtx)
	}
}

func (g *Gateway) runCheckoutFailureHooks(hookCtx CheckoutFailureContext) {
	g.mu.RLock()
	hooks := g.checkoutFailureHooks
	g.mu.RUnlock()

	for _, hook := range hooks {
		hook(hookCtx)
	}
}
