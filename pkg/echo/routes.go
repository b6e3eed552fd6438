// Package echo mounts the payment gateway routes on an Echo server.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lojacheckout/paylink"
	paylinkhttp "github.com/lojacheckout/paylink/http"
)

// RegisterRoutes mounts POST /webhook, GET /order-received/:id and
// POST /checkout/:id on g.
func RegisterRoutes(g *echo.Group, gateway *paylink.Gateway, trustProxy bool) {
	g.POST("/webhook", WebhookHandler(gateway, trustProxy))
	g.GET("/order-received/:id", ConfirmationHandler(gateway))
	g.POST("/checkout/:id", CheckoutHandler(gateway))
}

// WebhookHandler handles processor webhook deliveries
func WebhookHandler(gateway *paylink.Gateway, trustProxy bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := paylinkhttp.ReadWebhookRequest(c.Request(), trustProxy)
		result := gateway.HandleWebhook(c.Request().Context(), req)
		return c.JSON(result.Status, result.Response)
	}
}

// ConfirmationHandler reconciles the order on the confirmation page
func ConfirmationHandler(gateway *paylink.Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		orderID := paylink.OrderID(c.Param("id"))
		txID, slug := paylinkhttp.ConfirmationParams(c.Request())

		status, body := paylinkhttp.ConfirmationResult(gateway.Reconcile(c.Request().Context(), orderID, txID, slug))
		if resp, ok := body.(paylinkhttp.ConfirmationResponse); ok {
			resp.OrderID = orderID
			body = resp
		}
		return c.JSON(status, body)
	}
}

// CheckoutHandler creates the hosted checkout link for an order
func CheckoutHandler(gateway *paylink.Gateway) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := gateway.ProcessPayment(c.Request().Context(), paylink.OrderID(c.Param("id")))
		if err != nil {
			status, body := paylinkhttp.CheckoutError(err)
			return c.JSON(status, body)
		}
		return c.JSON(http.StatusOK, result)
	}
}
