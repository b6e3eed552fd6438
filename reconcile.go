package paylink

import (
	"context"
	"strings"
)

// Reconcile handles a buyer landing on the confirmation page. The transaction
// id and slug come from the redirect URL and are never trusted on their own:
// the order is completed only after the processor confirms the payment.
//
// An order that is already paid is reported as confirmed right away. Missing
// parameters, a failed check or an unpaid answer all report StateConfirming;
// the webhook will finish the job later.
func (g *Gateway) Reconcile(ctx context.Context, orderID OrderID, txID, slug string) (ConfirmationState, error) {
	return g.ReconcileFrom(ctx, SourceConfirmationPage, orderID, txID, slug)
}

// ReconcileFrom is Reconcile with an explicit confirmation source, used by
// support tooling so completions are attributed correctly.
func (g *Gateway) ReconcileFrom(ctx context.Context, source ConfirmationSource, orderID OrderID, txID, slug string) (ConfirmationState, error) {
	order, err := g.orders.Get(ctx, orderID)
	if err != nil {
		return StateConfirming, err
	}

	// The pending flag is cleared in the same step as the paid transition
	if order.Status.IsPaid() {
		return StateConfirmed, nil
	}

	txID = strings.TrimSpace(txID)
	slug = strings.TrimSpace(slug)
	if txID == "" || slug == "" || !g.config.Available() {
		return StateConfirming, nil
	}

	conf := Confirmation{
		OrderID:       orderID,
		TransactionID: txID,
		InvoiceSlug:   slug,
		Source:        source,
	}
	log := g.logger.With("order_id", orderID, "transaction_id", txID, "confirmed_by", source)

	result := g.verify(ctx, conf)
	if !result.OK {
		log.Debug("payment check unavailable, showing confirming state")
		return StateConfirming, nil
	}
	if !result.Paid {
		log.Debug("processor reports not paid yet")
		return StateConfirming, nil
	}

	if _, err := g.complete(ctx, conf); err != nil {
		log.Error("failed to complete order", "error", err)
		return StateConfirming, nil
	}

	// Completed here or by a racing webhook; either way the order is paid
	return StateConfirmed, nil
}
