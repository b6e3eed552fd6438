package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/lojacheckout/paylink"
)

// MaxWebhookBodyBytes caps the webhook body read from the network
const MaxWebhookBodyBytes = 64 << 10

// Query parameters the processor appends to the redirect URL
var (
	transactionParams = []string{"transaction_nsu", "transaction_id"}
	slugParams        = []string{"slug", "invoice_slug"}
)

// ConfirmationResponse is the confirmation page body
type ConfirmationResponse struct {
	OrderID paylink.OrderID           `json:"order_id"`
	State   paylink.ConfirmationState `json:"state"`
	Message string                    `json:"message"`
}

// ErrorResponse is the body of a failed checkout or confirmation request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handlers exposes the gateway over net/http
type Handlers struct {
	gateway    *paylink.Gateway
	trustProxy bool
}

// NewHandlers creates net/http handlers for the gateway. With trustProxy the
// client address is taken from X-Forwarded-For.
func NewHandlers(gateway *paylink.Gateway, trustProxy bool) *Handlers {
	return &Handlers{gateway: gateway, trustProxy: trustProxy}
}

// Register mounts the handlers on mux
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", h.Webhook)
	mux.HandleFunc("GET /order-received/{id}", h.Confirmation)
	mux.HandleFunc("POST /checkout/{id}", h.Checkout)
}

// Webhook handles processor webhook deliveries
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	result := h.gateway.HandleWebhook(r.Context(), ReadWebhookRequest(r, h.trustProxy))
	writeJSON(w, result.Status, result.Response)
}

// Confirmation handles the buyer landing on the confirmation page
func (h *Handlers) Confirmation(w http.ResponseWriter, r *http.Request) {
	orderID := paylink.OrderID(r.PathValue("id"))
	txID, slug := ConfirmationParams(r)

	status, body := ConfirmationResult(h.gateway.Reconcile(r.Context(), orderID, txID, slug))
	if resp, ok := body.(ConfirmationResponse); ok {
		resp.OrderID = orderID
		body = resp
	}
	writeJSON(w, status, body)
}

// Checkout starts the hosted checkout for an order
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	orderID := paylink.OrderID(r.PathValue("id"))

	result, err := h.gateway.ProcessPayment(r.Context(), orderID)
	if err != nil {
		status, body := CheckoutError(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// Helpers shared with the framework adapters
// ============================================================================

// ReadWebhookRequest extracts the transport-independent webhook request.
// A body over MaxWebhookBodyBytes, or one that fails to read, is not
// returned; BodyErr records why and the gateway rejects the delivery after
// its rate and auth checks.
func ReadWebhookRequest(r *http.Request, trustProxy bool) paylink.WebhookRequest {
	req := paylink.WebhookRequest{
		ClientIP:      ClientIP(r, trustProxy),
		SecretHeader:  r.Header.Get("X-Webhook-Secret"),
		Authorization: r.Header.Get("Authorization"),
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodyBytes+1))
	switch {
	case err != nil:
		req.BodyErr = fmt.Errorf("failed to read body: %w", err)
	case len(body) > MaxWebhookBodyBytes:
		req.BodyErr = paylink.ErrBodyTooLarge
	default:
		req.Body = body
	}
	return req
}

// ConfirmationParams reads the transaction id and slug from the redirect URL
func ConfirmationParams(r *http.Request) (txID, slug string) {
	q := r.URL.Query()
	return firstParam(q.Get, transactionParams), firstParam(q.Get, slugParams)
}

func firstParam(get func(string) string, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(get(name)); v != "" {
			return v
		}
	}
	return ""
}

// ConfirmationResult maps the outcome of Gateway.Reconcile to a status and
// body. Lookup failures other than an unknown order still show the
// confirming state; the buyer has paid or is about to.
func ConfirmationResult(state paylink.ConfirmationState, err error) (int, any) {
	if errors.Is(err, paylink.ErrOrderNotFound) {
		return http.StatusNotFound, ErrorResponse{
			Error:   paylink.ErrCodeOrderNotFound,
			Message: "order not found",
		}
	}
	if err != nil {
		state = paylink.StateConfirming
	}
	return http.StatusOK, ConfirmationResponse{State: state, Message: state.Message()}
}

// CheckoutError maps a ProcessPayment error to a status and body.
// Processor details never reach the buyer.
func CheckoutError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, paylink.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: paylink.ErrCodeOrderNotFound, Message: "order not found"}
	case errors.Is(err, paylink.ErrGatewayDisabled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: paylink.ErrCodeGatewayUnavailable, Message: "payment method unavailable"}
	case errors.Is(err, paylink.ErrCheckoutUnavailable):
		return http.StatusBadGateway, ErrorResponse{Error: paylink.ErrCodeCheckoutFailed, Message: paylink.CheckoutFailureNotice}
	case errors.Is(err, paylink.ErrOrderAlreadyPaid):
		return http.StatusConflict, ErrorResponse{Error: paylink.ErrCodeOrderAlreadyPaid, Message: "order is already paid"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: paylink.CheckoutFailureNotice}
}

// ClientIP returns the caller's address. X-Forwarded-For is only honoured
// behind a trusted proxy; its first hop is the original client.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
