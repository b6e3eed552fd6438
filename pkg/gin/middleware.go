package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lojacheckout/paylink"
	paylinkhttp "github.com/lojacheckout/paylink/http"
)

// RouteOptions is the options for RegisterRoutes.
type RouteOptions struct {
	WebhookPath      string
	ConfirmationPath string
	CheckoutPath     string
	TrustProxy       bool
}

// Options is the type for the options for RegisterRoutes.
type Options func(*RouteOptions)

// WithWebhookPath is an option for RegisterRoutes to set the webhook path.
func WithWebhookPath(path string) Options {
	return func(options *RouteOptions) {
		options.WebhookPath = path
	}
}

// WithConfirmationPath sets the confirmation page path. It must contain an :id parameter.
func WithConfirmationPath(path string) Options {
	return func(options *RouteOptions) {
		options.ConfirmationPath = path
	}
}

// WithCheckoutPath sets the checkout path. It must contain an :id parameter.
func WithCheckoutPath(path string) Options {
	return func(options *RouteOptions) {
		options.CheckoutPath = path
	}
}

// WithTrustProxy takes the client address from X-Forwarded-For.
// Only enable it behind a proxy that overwrites the header.
func WithTrustProxy(trust bool) Options {
	return func(options *RouteOptions) {
		options.TrustProxy = trust
	}
}

// RegisterRoutes mounts the webhook, confirmation page and checkout routes.
func RegisterRoutes(r gin.IRoutes, gateway *paylink.Gateway, opts ...Options) {
	options := &RouteOptions{
		WebhookPath:      "/webhook",
		ConfirmationPath: "/order-received/:id",
		CheckoutPath:     "/checkout/:id",
	}
	for _, opt := range opts {
		opt(options)
	}

	r.POST(options.WebhookPath, WebhookHandler(gateway, options.TrustProxy))
	r.GET(options.ConfirmationPath, ConfirmationHandler(gateway))
	r.POST(options.CheckoutPath, CheckoutHandler(gateway))
}

// WebhookHandler handles processor webhook deliveries.
func WebhookHandler(gateway *paylink.Gateway, trustProxy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := paylinkhttp.ReadWebhookRequest(c.Request, trustProxy)
		result := gateway.HandleWebhook(c.Request.Context(), req)
		c.JSON(result.Status, result.Response)
	}
}

// ConfirmationHandler reconciles the order when the buyer lands on the
// confirmation page.
func ConfirmationHandler(gateway *paylink.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := paylink.OrderID(c.Param("id"))
		txID, slug := paylinkhttp.ConfirmationParams(c.Request)

		status, body := paylinkhttp.ConfirmationResult(gateway.Reconcile(c.Request.Context(), orderID, txID, slug))
		if resp, ok := body.(paylinkhttp.ConfirmationResponse); ok {
			resp.OrderID = orderID
			body = resp
		}
		c.JSON(status, body)
	}
}

// CheckoutHandler creates the hosted checkout link for an order.
func CheckoutHandler(gateway *paylink.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := gateway.ProcessPayment(c.Request.Context(), paylink.OrderID(c.Param("id")))
		if err != nil {
			status, body := paylinkhttp.CheckoutError(err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
