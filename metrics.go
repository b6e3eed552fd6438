package paylink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lojacheckout/paylink"

// gatewayMetrics holds the gateway's counters. A nil *gatewayMetrics is a no-op.
type gatewayMetrics struct {
	webhookRequests   metric.Int64Counter
	verificationCalls metric.Int64Counter
	checkoutLinks     metric.Int64Counter
	ordersPaid        metric.Int64Counter
}

func newGatewayMetrics(mp metric.MeterProvider) (*gatewayMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &gatewayMetrics{}
	var err error

	m.webhookRequests, err = meter.Int64Counter("paylink.webhook.requests",
		metric.WithDescription("Webhook deliveries by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}

	m.verificationCalls, err = meter.Int64Counter("paylink.verification.calls",
		metric.WithDescription("Payment-check calls made to the processor"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification counter: %w", err)
	}

	m.checkoutLinks, err = meter.Int64Counter("paylink.checkout.links",
		metric.WithDescription("Checkout link creations by result"),
		metric.WithUnit("{link}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout counter: %w", err)
	}

	m.ordersPaid, err = meter.Int64Counter("paylink.orders.paid",
		metric.WithDescription("Orders moved to the paid state, by confirmation source"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders paid counter: %w", err)
	}

	return m, nil
}

func (m *gatewayMetrics) recordWebhook(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhookRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *gatewayMetrics) recordVerification(ctx context.Context, source ConfirmationSource, result VerificationResult) {
	if m == nil {
		return
	}
	m.verificationCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.Bool("ok", result.OK),
		attribute.Bool("paid", result.Paid),
	))
}

func (m *gatewayMetrics) recordCheckout(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.checkoutLinks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *gatewayMetrics) recordPaid(ctx context.Context, source ConfirmationSource) {
	if m == nil {
		return
	}
	m.ordersPaid.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
}
