package mcp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lojacheckout/paylink"
)

// Tool names
const (
	ToolOrderPaymentStatus = "order_payment_status"
	ToolReconcileOrder     = "reconcile_order"
)

const orderStatusSchema = `{
  "type": "object",
  "properties": {
    "order_id": {"type": "string", "description": "Order identifier"}
  },
  "required": ["order_id"]
}`

const reconcileSchema = `{
  "type": "object",
  "properties": {
    "order_id": {"type": "string", "description": "Order identifier"},
    "transaction_id": {"type": "string", "description": "Processor transaction id (transaction_nsu)"},
    "invoice_slug": {"type": "string", "description": "Processor invoice slug"}
  },
  "required": ["order_id", "transaction_id", "invoice_slug"]
}`

// OrderPaymentStatus is the order_payment_status tool result
type OrderPaymentStatus struct {
	OrderID       paylink.OrderID     `json:"order_id"`
	Status        paylink.OrderStatus `json:"status"`
	Paid          bool                `json:"paid"`
	Pending       bool                `json:"pending"`
	TransactionID string              `json:"transaction_id,omitempty"`
	InvoiceSlug   string              `json:"invoice_slug,omitempty"`
	ReceiptURL    string              `json:"receipt_url,omitempty"`
	CheckoutURL   string              `json:"checkout_url,omitempty"`
	Notes         []string            `json:"notes,omitempty"`
}

// ReconcileResult is the reconcile_order tool result
type ReconcileResult struct {
	OrderID paylink.OrderID           `json:"order_id"`
	State   paylink.ConfirmationState `json:"state"`
	Message string                    `json:"message"`
}

// SupportServer exposes payment triage tools to support agents over MCP
type SupportServer struct {
	gateway *paylink.Gateway
	server  *mcpsdk.Server
	logger  *slog.Logger
}

// NewSupportServer creates the MCP server and registers its tools
func NewSupportServer(gateway *paylink.Gateway, version string, logger *slog.Logger) *SupportServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &SupportServer{
		gateway: gateway,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "paylink-support",
			Version: version,
		}, nil),
		logger: logger.With("source", "paylink", "component", "support"),
	}

	s.server.AddTool(&mcpsdk.Tool{
		Name:        ToolOrderPaymentStatus,
		Description: "Show an order's payment status, pending flag, transaction metadata and audit notes",
		InputSchema: json.RawMessage(orderStatusSchema),
	}, s.orderPaymentStatus)

	s.server.AddTool(&mcpsdk.Tool{
		Name: ToolReconcileOrder,
		Description: "Ask the processor whether a transaction was paid and complete the order if it was. " +
			"Never marks an order paid without the processor's confirmation.",
		InputSchema: json.RawMessage(reconcileSchema),
	}, s.reconcileOrder)

	return s
}

// Server returns the underlying MCP server
func (s *SupportServer) Server() *mcpsdk.Server {
	return s.server
}

// Handler serves the tools over streamable HTTP
func (s *SupportServer) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.server
	}, nil)
}

// RequireToken only lets requests carrying "Authorization: Bearer <token>"
// through to h. With an empty token every request is refused.
func RequireToken(token string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, presented, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if token == "" || !strings.EqualFold(scheme, "Bearer") ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="paylink-support"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *SupportServer) orderPaymentStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		OrderID paylink.OrderID `json:"order_id"`
	}
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult(err.Error()), nil
	}
	if args.OrderID == "" {
		return errorResult("order_id is required"), nil
	}

	order, err := s.gateway.Order(ctx, args.OrderID)
	if errors.Is(err, paylink.ErrOrderNotFound) {
		return errorResult(fmt.Sprintf("order %s not found", args.OrderID)), nil
	}
	if err != nil {
		s.logger.Error("support lookup failed", "order_id", args.OrderID, "error", err)
		return errorResult("could not load order"), nil
	}

	return jsonResult(OrderPaymentStatus{
		OrderID:       order.ID,
		Status:        order.Status,
		Paid:          order.Status.IsPaid(),
		Pending:       order.Meta.Pending,
		TransactionID: order.Meta.TransactionID,
		InvoiceSlug:   order.Meta.InvoiceSlug,
		ReceiptURL:    order.Meta.ReceiptURL,
		CheckoutURL:   order.Meta.CheckoutURL,
		Notes:         order.Notes,
	})
}

func (s *SupportServer) reconcileOrder(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		OrderID       paylink.OrderID `json:"order_id"`
		TransactionID string          `json:"transaction_id"`
		InvoiceSlug   string          `json:"invoice_slug"`
	}
	if err := unmarshalArgs(req, &args); err != nil {
		return errorResult(err.Error()), nil
	}
	args.TransactionID = strings.TrimSpace(args.TransactionID)
	args.InvoiceSlug = strings.TrimSpace(args.InvoiceSlug)
	if args.OrderID == "" || args.TransactionID == "" || args.InvoiceSlug == "" {
		return errorResult("order_id, transaction_id and invoice_slug are required"), nil
	}

	s.logger.Info("support reconcile requested",
		"order_id", args.OrderID,
		"transaction_id", args.TransactionID)

	state, err := s.gateway.ReconcileFrom(ctx, paylink.SourceSupport, args.OrderID, args.TransactionID, args.InvoiceSlug)
	if errors.Is(err, paylink.ErrOrderNotFound) {
		return errorResult(fmt.Sprintf("order %s not found", args.OrderID)), nil
	}
	if err != nil {
		s.logger.Error("support reconcile failed", "order_id", args.OrderID, "error", err)
		return errorResult("could not reconcile order"), nil
	}

	return jsonResult(ReconcileResult{
		OrderID: args.OrderID,
		State:   state,
		Message: state.Message(),
	})
}

func unmarshalArgs(req *mcpsdk.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil
}

func errorResult(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: message}},
	}
}
