package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lojacheckout/paylink"
	"github.com/lojacheckout/paylink/idempotency"
	"github.com/lojacheckout/paylink/store"
	"github.com/lojacheckout/paylink/test/mocks/processor"
)

type handlerFixture struct {
	mux       *http.ServeMux
	orders    *store.Memory
	processor *processor.Processor
}

// newHandlerFixture wires the gateway to the HTTP processor client and a
// fake processor served over HTTP.
func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	proc := processor.New()
	srv := proc.NewServer()
	t.Cleanup(srv.Close)

	cfg := paylink.GatewayConfig{
		Enabled:            true,
		Handle:             "loja-teste",
		WebhookSecret:      "s3cret",
		LinksURL:           srv.URL + processor.LinksPath,
		PaymentCheckURL:    srv.URL + processor.PaymentCheckPath,
		RedirectURL:        "https://shop.test/order-received/{order_id}",
		CheckoutRetryDelay: time.Millisecond,
	}

	orders := store.NewMemory(paylink.Order{
		ID:     "1001",
		Status: paylink.StatusNew,
		Total:  2500,
		Items:  []paylink.OrderItem{{Description: "Caneca", Quantity: 1, UnitPrice: 2500}},
	})

	client := NewHTTPProcessorClient(ProcessorConfigFrom(cfg))
	gw, err := paylink.NewGateway(cfg, orders, client, idempotency.NewInMemoryStore(),
		paylink.WithCart(orders),
		paylink.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}

	mux := http.NewServeMux()
	NewHandlers(gw, true).Register(mux)

	return &handlerFixture{mux: mux, orders: orders, processor: proc}
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CheckoutThenWebhook(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/checkout/1001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected checkout 200, got %d: %s", rec.Code, rec.Body)
	}
	var checkout paylink.CheckoutResult
	if err := json.Unmarshal(rec.Body.Bytes(), &checkout); err != nil {
		t.Fatalf("Failed to decode checkout: %v", err)
	}
	if checkout.Result != "success" || !strings.HasSuffix(checkout.RedirectURL, "/1001") {
		t.Errorf("Unexpected checkout result: %+v", checkout)
	}
	if got := f.processor.LastLinkRequest().RedirectURL; got != "https://shop.test/order-received/1001" {
		t.Errorf("Expected redirect url to be sent, got %q", got)
	}

	f.processor.MarkPaid("tx-1", "inv-1")

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected webhook 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp paylink.WebhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode webhook response: %v", err)
	}
	if !resp.Success {
		t.Errorf("Expected success, got %+v", resp)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/order-received/1001", nil))
	var page ConfirmationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("Failed to decode confirmation: %v", err)
	}
	if page.State != paylink.StateConfirmed || page.OrderID != "1001" {
		t.Errorf("Expected confirmed page for 1001, got %+v", page)
	}
}

func TestHandlers_ForgedWebhook(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"order_nsu":"1001","transaction_nsu":"tx-forged","invoice_slug":"inv-1"}`))
	req.Header.Set("X-Webhook-Secret", "s3cret")
	rec := f.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), paylink.ErrCodeVerificationFailed) {
		t.Errorf("Expected verification_failed, got %s", rec.Body)
	}
	if f.processor.CheckCalls() != 1 {
		t.Errorf("Expected one payment check, got %d", f.processor.CheckCalls())
	}
}

func TestHandlers_WebhookBodyTooLarge(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"order_nsu":"1001","pad":"` + strings.Repeat("x", MaxWebhookBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Webhook-Secret", "s3cret")
	rec := f.do(req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), paylink.ErrCodeInvalidBody) {
		t.Errorf("Expected invalid_body, got %s", rec.Body)
	}
}

func TestHandlers_OversizedFloodIsRateLimited(t *testing.T) {
	f := newHandlerFixture(t)
	body := strings.Repeat("x", MaxWebhookBodyBytes+1)

	counts := map[int]int{}
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		counts[f.do(req).Code]++
	}

	if counts[http.StatusUnauthorized] != 30 || counts[http.StatusTooManyRequests] != 70 {
		t.Errorf("Expected 30 unauthorized then 70 rate limited, got %v", counts)
	}
}

func TestHandlers_ConfirmationPage(t *testing.T) {
	f := newHandlerFixture(t)
	f.processor.MarkPaid("tx-1", "inv-1")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/order-received/1001?transaction_id=tx-1&slug=wrong", nil))
	var page ConfirmationResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if rec.Code != http.StatusOK || page.State != paylink.StateConfirming {
		t.Fatalf("Expected confirming for a wrong slug, got %d %+v", rec.Code, page)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/order-received/1001?transaction_nsu=tx-1&invoice_slug=inv-1", nil))
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.State != paylink.StateConfirmed {
		t.Fatalf("Expected confirmed, got %+v", page)
	}
	if page.Message != paylink.StateConfirmed.Message() {
		t.Errorf("Unexpected message %q", page.Message)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/order-received/9999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestHandlers_CheckoutFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.processor.QueueLinkStatuses(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusCreated)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/checkout/1001", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d: %s", rec.Code, rec.Body)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if resp.Error != paylink.ErrCodeCheckoutFailed || resp.Message != paylink.CheckoutFailureNotice {
		t.Errorf("Expected generic checkout failure, got %+v", resp)
	}
	if f.processor.LinkCalls() != 2 {
		t.Errorf("Expected 2 attempts, got %d", f.processor.LinkCalls())
	}
}

func TestCheckoutError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: paylink.ErrOrderNotFound, status: http.StatusNotFound, code: paylink.ErrCodeOrderNotFound},
		{err: paylink.ErrGatewayDisabled, status: http.StatusServiceUnavailable, code: paylink.ErrCodeGatewayUnavailable},
		{err: paylink.ErrCheckoutUnavailable, status: http.StatusBadGateway, code: paylink.ErrCodeCheckoutFailed},
		{err: paylink.ErrOrderAlreadyPaid, status: http.StatusConflict, code: paylink.ErrCodeOrderAlreadyPaid},
		{err: io.ErrUnexpectedEOF, status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		status, body := CheckoutError(tt.err)
		if status != tt.status || body.Error != tt.code {
			t.Errorf("CheckoutError(%v) = %d %s, want %d %s", tt.err, status, body.Error, tt.status, tt.code)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := ClientIP(req, false); got != "192.0.2.10" {
		t.Errorf("Expected remote address without proxy trust, got %s", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.5" {
		t.Errorf("Expected first forwarded hop, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "garbage")
	if got := ClientIP(req, true); got != "192.0.2.10" {
		t.Errorf("Expected fallback for bad header, got %s", got)
	}
}
