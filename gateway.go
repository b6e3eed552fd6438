package paylink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Gateway connects the order store to the payment processor. It creates
// checkout links, accepts processor webhooks and reconciles confirmation page
// visits. Both confirmation paths end in the same conditional transition, so
// an order is completed at most once however many deliveries race.
type Gateway struct {
	mu sync.RWMutex

	config    GatewayConfig
	orders    OrderStore
	cart      Cart
	links     CheckoutLinkCreator
	verifier  PaymentVerifier
	guard     ReplayGuard
	cache     *VerificationCache
	logger    *slog.Logger
	meters    metric.MeterProvider
	metrics   *gatewayMetrics
	now       func() time.Time
	noAuthLog sync.Once

	// Lifecycle hooks
	orderPaidHooks       []OrderPaidHook
	webhookRejectedHooks []WebhookRejectedHook
	checkoutFailureHooks []CheckoutFailureHook
}

// GatewayOption configures the gateway
type GatewayOption func(*Gateway)

// WithCart sets the cart emptied after a checkout link is created
func WithCart(cart Cart) GatewayOption {
	return func(g *Gateway) {
		g.cart = cart
	}
}

// WithCheckoutLinkCreator overrides the processor used for checkout links
func WithCheckoutLinkCreator(links CheckoutLinkCreator) GatewayOption {
	return func(g *Gateway) {
		g.links = links
	}
}

// WithPaymentVerifier overrides the processor used for payment checks
func WithPaymentVerifier(verifier PaymentVerifier) GatewayOption {
	return func(g *Gateway) {
		g.verifier = verifier
	}
}

// WithVerificationCache shares a verification cache between gateways
func WithVerificationCache(cache *VerificationCache) GatewayOption {
	return func(g *Gateway) {
		g.cache = cache
	}
}

// WithLogger sets the logger. Records carry source=paylink.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMeterProvider sets the meter provider used for gateway metrics
func WithMeterProvider(mp metric.MeterProvider) GatewayOption {
	return func(g *Gateway) {
		g.meters = mp
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway builds a gateway from an immutable config. Zero-valued settings
// take their defaults; an enabled config missing required fields is rejected.
func NewGateway(config GatewayConfig, orders OrderStore, processor ProcessorClient, guard ReplayGuard, opts ...GatewayOption) (*Gateway, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if orders == nil {
		return nil, errors.New("paylink: order store is required")
	}
	if guard == nil {
		return nil, errors.New("paylink: replay guard is required")
	}

	g := &Gateway{
		config: config,
		orders: orders,
		guard:  guard,
		cart:   CartFunc(func(context.Context, OrderID) error { return nil }),
		now:    time.Now,
	}
	if processor != nil {
		g.links = processor
		g.verifier = processor
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.links == nil || g.verifier == nil {
		return nil, errors.New("paylink: processor client is required")
	}
	if g.cache == nil {
		g.cache = NewVerificationCache(config.VerificationCacheTTL)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("source", "paylink")

	metrics, err := newGatewayMetrics(g.meters)
	if err != nil {
		return nil, err
	}
	g.metrics = metrics

	return g, nil
}

// Config returns the gateway configuration, defaults applied
func (g *Gateway) Config() GatewayConfig {
	return g.config
}

// Order loads an order from the store
func (g *Gateway) Order(ctx context.Context, id OrderID) (*Order, error) {
	return g.orders.Get(ctx, id)
}
