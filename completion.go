package paylink

import (
	"context"
	"fmt"
	"strings"
)

// verify asks the processor whether the confirmation was paid, going through
// the verification cache. Concurrent checks for the same tuple share one call.
//
// The confirmation page trusts any cached answer. The webhook path only
// trusts a cached "paid": an earlier "not paid yet" or a failed call is
// refreshed, since the webhook usually arrives right after settlement.
func (g *Gateway) verify(ctx context.Context, c Confirmation) VerificationResult {
	key := GenerateVerificationKey(c.OrderID, c.TransactionID, c.InvoiceSlug)

	for {
		status, cached, done := g.cache.CheckAndMark(key)
		switch status {
		case StatusCached:
			if cached.Paid || c.Source != SourceWebhook {
				return *cached
			}
			g.cache.Delete(key)
			continue

		case StatusInFlight:
			result, err := g.cache.WaitForResult(ctx, key, done)
			if err != nil {
				return VerificationResult{}
			}
			if result != nil && (result.Paid || c.Source != SourceWebhook) {
				return *result
			}
			// no answer, or one the webhook does not trust; check again
			continue
		}

		result := g.verifier.PaymentCheck(ctx, PaymentCheckRequest{
			Handle:         g.config.Handle,
			OrderNSU:       string(c.OrderID),
			TransactionNSU: c.TransactionID,
			Slug:           c.InvoiceSlug,
		})
		g.metrics.recordVerification(ctx, c.Source, result)

		// A cancelled caller says nothing about the payment
		if !result.OK && ctx.Err() != nil {
			g.cache.Fail(key, done)
			return result
		}
		g.cache.Complete(key, result, done)
		return result
	}
}

// completionOutcome tells whether complete performed the transition
type completionOutcome int

const (
	outcomeCompleted completionOutcome = iota
	outcomeAlreadyPaid
)

// complete moves a verified order to the paid state. Only the caller whose
// conditional update applies writes the note, marks the transaction and runs
// the hooks; a caller that loses the race sees outcomeAlreadyPaid.
func (g *Gateway) complete(ctx context.Context, c Confirmation) (completionOutcome, error) {
	paidAt := g.now()
	applied, err := g.orders.MarkPaid(ctx, c.OrderID, PaidUpdate{
		TransactionID: c.TransactionID,
		InvoiceSlug:   c.InvoiceSlug,
		ReceiptURL:    c.ReceiptURL,
		PaidAt:        paidAt,
	})
	if err != nil {
		return outcomeAlreadyPaid, err
	}

	log := g.logger.With(
		"order_id", c.OrderID,
		"transaction_id", c.TransactionID,
		"confirmed_by", c.Source,
	)

	if !applied {
		log.Debug("order already paid, skipping completion")
		return outcomeAlreadyPaid, nil
	}

	if err := g.orders.AddNote(ctx, c.OrderID, paymentNote(c)); err != nil {
		log.Warn("failed to add payment note", "error", err)
	}

	// The webhook path marked the transaction during its duplicate check
	if c.Source != SourceWebhook {
		if _, err := g.guard.IsDuplicate(ctx, c.TransactionID); err != nil {
			log.Warn("failed to mark transaction as applied", "error", err)
		}
	}

	g.metrics.recordPaid(ctx, c.Source)
	log.Info("payment confirmed")

	g.runOrderPaidHooks(OrderPaidContext{
		Ctx:          ctx,
		Confirmation: c,
		PaidAt:       paidAt,
	})

	return outcomeCompleted, nil
}

func paymentNote(c Confirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payment confirmed via %s. Transaction: %s. Invoice: %s.",
		strings.ReplaceAll(string(c.Source), "_", " "), c.TransactionID, c.InvoiceSlug)
	if c.ReceiptURL != "" {
		fmt.Fprintf(&b, " Receipt: %s", c.ReceiptURL)
	}
	return b.String()
}
