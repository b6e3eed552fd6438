package paylink_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/lojacheckout/paylink"
)

const validWebhookBody = `{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1","receipt_url":"https://pay.processor.test/r/tx-1"}`

func webhookRequest(body string) paylink.WebhookRequest {
	return paylink.WebhookRequest{
		ClientIP:     "203.0.113.7",
		SecretHeader: testSecret,
		Body:         []byte(body),
	}
}

func TestHandleWebhook_ValidTransactionCompletesOrder(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")

	res := f.gateway.HandleWebhook(context.Background(), webhookRequest(validWebhookBody))

	if res.Status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", res.Status, res.Response)
	}
	if !res.Response.Success || res.Response.Duplicate {
		t.Errorf("Expected plain success, got %+v", res.Response)
	}

	order := f.order(t, "1001")
	if !order.Status.IsPaid() {
		t.Errorf("Expected order to be paid, got %s", order.Status)
	}
	if order.Meta.Pending {
		t.Error("Expected pending flag to be cleared")
	}
	if order.Meta.TransactionID != "tx-1" || order.Meta.InvoiceSlug != "inv-1" {
		t.Errorf("Unexpected metadata: %+v", order.Meta)
	}
	if order.Meta.ReceiptURL != "https://pay.processor.test/r/tx-1" {
		t.Errorf("Expected receipt url to be stored, got %q", order.Meta.ReceiptURL)
	}
	if len(order.Notes) != 1 || !strings.Contains(order.Notes[0], "tx-1") {
		t.Errorf("Expected one payment note, got %v", order.Notes)
	}
	if f.processor.CheckCalls() != 1 {
		t.Errorf("Expected one payment check, got %d", f.processor.CheckCalls())
	}
}

func TestHandleWebhook_ForgedTransactionRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	// The processor knows nothing about tx-forged

	res := f.gateway.HandleWebhook(context.Background(),
		webhookRequest(`{"order_nsu":"1001","transaction_nsu":"tx-forged","invoice_slug":"inv-x"}`))

	if res.Status != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", res.Status)
	}
	if res.Response.Error != paylink.ErrCodeVerificationFailed {
		t.Errorf("Expected verification_failed, got %q", res.Response.Error)
	}

	order := f.order(t, "1001")
	if order.Status != paylink.StatusAwaitingPayment || !order.Meta.Pending {
		t.Errorf("Expected order to be unchanged, got %s pending=%v", order.Status, order.Meta.Pending)
	}
	if len(order.Notes) != 0 {
		t.Errorf("Expected no notes, got %v", order.Notes)
	}
}

func TestHandleWebhook_DuplicateAcknowledged(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")
	ctx := context.Background()

	first := f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody))
	if first.Status != http.StatusOK {
		t.Fatalf("Expected first delivery to succeed, got %d", first.Status)
	}

	second := f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody))
	if second.Status != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate, got %d", second.Status)
	}
	if !second.Response.Success || !second.Response.Duplicate {
		t.Errorf("Expected success with duplicate flag, got %+v", second.Response)
	}

	if f.processor.CheckCalls() != 1 {
		t.Errorf("Expected duplicate to skip the payment check, got %d calls", f.processor.CheckCalls())
	}
	if notes := f.order(t, "1001").Notes; len(notes) != 1 {
		t.Errorf("Expected a single payment note, got %v", notes)
	}
}

func TestHandleWebhook_Authentication(t *testing.T) {
	tests := []struct {
		name   string
		header string
		auth   string
		want   int
	}{
		{name: "secret header", header: testSecret, want: http.StatusOK},
		{name: "bearer token", auth: "Bearer " + testSecret, want: http.StatusOK},
		{name: "bearer scheme is case insensitive", auth: "bearer " + testSecret, want: http.StatusOK},
		{name: "wrong header, right bearer", header: "nope", auth: "Bearer " + testSecret, want: http.StatusOK},
		{name: "wrong secret", header: "nope", want: http.StatusUnauthorized},
		{name: "secret as basic auth", auth: "Basic " + testSecret, want: http.StatusUnauthorized},
		{name: "prefix of secret", header: testSecret[:3], want: http.StatusUnauthorized},
		{name: "no credentials", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.processor.MarkPaid("tx-1", "inv-1")

			req := webhookRequest(validWebhookBody)
			req.SecretHeader = tt.header
			req.Authorization = tt.auth

			res := f.gateway.HandleWebhook(context.Background(), req)
			if res.Status != tt.want {
				t.Fatalf("Expected %d, got %d (%+v)", tt.want, res.Status, res.Response)
			}
			if tt.want == http.StatusUnauthorized {
				if res.Response.Error != paylink.ErrCodeUnauthorized {
					t.Errorf("Expected unauthorized, got %q", res.Response.Error)
				}
				if f.order(t, "1001").Status.IsPaid() {
					t.Error("Expected order to stay unpaid")
				}
				if f.processor.CheckCalls() != 0 {
					t.Error("Expected no payment check for unauthenticated webhook")
				}
			}
		})
	}
}

func TestHandleWebhook_NoSecretConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookSecret = ""
	f := newFixture(t, cfg)
	f.processor.MarkPaid("tx-1", "inv-1")

	req := webhookRequest(validWebhookBody)
	req.SecretHeader = ""

	res := f.gateway.HandleWebhook(context.Background(), req)
	if res.Status != http.StatusOK {
		t.Fatalf("Expected unauthenticated webhook to pass without a secret, got %d", res.Status)
	}
	if !f.order(t, "1001").Status.IsPaid() {
		t.Error("Expected order to be paid")
	}
}

func TestHandleWebhook_InvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "not json", body: `order_nsu=1001`, want: paylink.ErrCodeInvalidBody},
		{name: "array", body: `[1,2,3]`, want: paylink.ErrCodeInvalidBody},
		{name: "wrong type", body: `{"order_nsu":"1001","transaction_nsu":42,"invoice_slug":"inv-1"}`, want: paylink.ErrCodeInvalidBody},
		{name: "missing transaction", body: `{"order_nsu":"1001","invoice_slug":"inv-1"}`, want: paylink.ErrCodeMissingFields},
		{name: "empty slug", body: `{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":""}`, want: paylink.ErrCodeMissingFields},
		{name: "blank order", body: `{"order_nsu":"  ","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`, want: paylink.ErrCodeMissingFields},
		{name: "bad receipt url", body: `{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1","receipt_url":"javascript:alert(1)"}`, want: paylink.ErrCodeInvalidBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.processor.MarkPaid("tx-1", "inv-1")

			res := f.gateway.HandleWebhook(context.Background(), webhookRequest(tt.body))
			if res.Status != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", res.Status)
			}
			if res.Response.Error != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, res.Response.Error)
			}
			if f.order(t, "1001").Status.IsPaid() {
				t.Error("Expected order to stay unpaid")
			}
		})
	}
}

func TestHandleWebhook_UnknownOrder(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-9", "inv-9")
	ctx := context.Background()

	body := `{"order_nsu":"9999","transaction_nsu":"tx-9","invoice_slug":"inv-9"}`
	res := f.gateway.HandleWebhook(ctx, webhookRequest(body))
	if res.Status != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", res.Status)
	}
	if res.Response.Error != paylink.ErrCodeOrderNotFound {
		t.Errorf("Expected order_not_found, got %s", res.Response.Error)
	}

	// The mark was released, so a retry once the order exists is applied
	f.orders.Put(testOrder("9999"))
	res = f.gateway.HandleWebhook(ctx, webhookRequest(body))
	if res.Status != http.StatusOK || res.Response.Duplicate {
		t.Fatalf("Expected retry to be applied, got %d (%+v)", res.Status, res.Response)
	}
	if !f.order(t, "9999").Status.IsPaid() {
		t.Error("Expected order 9999 to be paid")
	}
}

func TestHandleWebhook_AlreadyPaidOrder(t *testing.T) {
	f := newFixture(t, testConfig())
	paid := testOrder("2002")
	paid.Status = paylink.StatusCompleted
	paid.Meta.Pending = false
	f.orders.Put(paid)

	res := f.gateway.HandleWebhook(context.Background(),
		webhookRequest(`{"order_nsu":2002,"transaction_nsu":"tx-2","invoice_slug":"inv-2"}`))
	if res.Status != http.StatusOK || !res.Response.Success {
		t.Fatalf("Expected 200 success, got %d (%+v)", res.Status, res.Response)
	}
	if f.processor.CheckCalls() != 0 {
		t.Error("Expected no payment check for an already paid order")
	}
	order := f.order(t, "2002")
	if order.Status != paylink.StatusCompleted || len(order.Notes) != 0 {
		t.Errorf("Expected order to be left alone, got %s %v", order.Status, order.Notes)
	}
}

func TestHandleWebhook_VerificationUnavailable(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1").SetCheckUnavailable(true)
	ctx := context.Background()

	res := f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody))
	if res.Status != http.StatusBadRequest || res.Response.Error != paylink.ErrCodeVerificationFailed {
		t.Fatalf("Expected 400 verification_failed, got %d (%+v)", res.Status, res.Response)
	}
	if f.order(t, "1001").Status.IsPaid() {
		t.Fatal("Expected order to stay unpaid")
	}

	// The processor retries once it can be verified again
	f.processor.SetCheckUnavailable(false)
	res = f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody))
	if res.Status != http.StatusOK || res.Response.Duplicate {
		t.Fatalf("Expected retry to be applied, got %d (%+v)", res.Status, res.Response)
	}
	if !f.order(t, "1001").Status.IsPaid() {
		t.Error("Expected order to be paid after retry")
	}
}

func TestHandleWebhook_RateLimit(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// Invalid bodies still count against the budget
	for i := 0; i < 30; i++ {
		res := f.gateway.HandleWebhook(ctx, webhookRequest(`{}`))
		if res.Status != http.StatusBadRequest {
			t.Fatalf("Request %d: expected 400, got %d", i+1, res.Status)
		}
	}

	res := f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody))
	if res.Status != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 on request 31, got %d", res.Status)
	}
	if res.Response.Error != paylink.ErrCodeRateLimit {
		t.Errorf("Expected rate_limit, got %s", res.Response.Error)
	}

	// Another source has its own budget
	other := webhookRequest(`{}`)
	other.ClientIP = "198.51.100.1"
	if res := f.gateway.HandleWebhook(ctx, other); res.Status != http.StatusBadRequest {
		t.Errorf("Expected other source to be allowed, got %d", res.Status)
	}
}

func TestHandleWebhook_UnreadableBody(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var rejected []string
	f.gateway.OnWebhookRejected(func(ctx paylink.WebhookRejectedContext) {
		rejected = append(rejected, ctx.Reason)
	})

	oversized := func(secret string) paylink.WebhookRequest {
		req := webhookRequest("")
		req.SecretHeader = secret
		req.BodyErr = paylink.ErrBodyTooLarge
		return req
	}

	// Authenticated: rejected as an invalid body
	res := f.gateway.HandleWebhook(ctx, oversized(testSecret))
	if res.Status != http.StatusBadRequest || res.Response.Error != paylink.ErrCodeInvalidBody {
		t.Fatalf("Expected 400 invalid_body, got %d (%+v)", res.Status, res.Response)
	}

	// Unauthenticated: the secret is checked first
	for i := 2; i <= 30; i++ {
		res := f.gateway.HandleWebhook(ctx, oversized("nope"))
		if res.Status != http.StatusUnauthorized {
			t.Fatalf("Request %d: expected 401, got %d", i, res.Status)
		}
	}

	// Every oversized request used up the source's budget
	if res := f.gateway.HandleWebhook(ctx, oversized("nope")); res.Status != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 on request 31, got %d", res.Status)
	}
	if res := f.gateway.HandleWebhook(ctx, webhookRequest(validWebhookBody)); res.Status != http.StatusTooManyRequests {
		t.Errorf("Expected valid delivery from the same source to be limited, got %d", res.Status)
	}

	if len(rejected) != 32 || rejected[0] != paylink.ErrCodeInvalidBody || rejected[1] != paylink.ErrCodeUnauthorized {
		t.Errorf("Expected every request to be reported as rejected, got %d: %v", len(rejected), rejected[:min(len(rejected), 3)])
	}
	if f.order(t, "1001").Status.IsPaid() {
		t.Error("Expected order to stay unpaid")
	}
}

func TestHandleWebhook_GatewayDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)

	res := f.gateway.HandleWebhook(context.Background(), webhookRequest(validWebhookBody))
	if res.Status != http.StatusInternalServerError || res.Response.Error != paylink.ErrCodeGatewayUnavailable {
		t.Fatalf("Expected 500 gateway_unavailable, got %d (%+v)", res.Status, res.Response)
	}
}

func TestHandleWebhook_RejectedHook(t *testing.T) {
	f := newFixture(t, testConfig())

	var rejected []paylink.WebhookRejectedContext
	f.gateway.OnWebhookRejected(func(ctx paylink.WebhookRejectedContext) {
		rejected = append(rejected, ctx)
	})

	req := webhookRequest(validWebhookBody)
	req.SecretHeader = "wrong"
	f.gateway.HandleWebhook(context.Background(), req)

	if len(rejected) != 1 {
		t.Fatalf("Expected one rejection, got %d", len(rejected))
	}
	if rejected[0].Reason != paylink.ErrCodeUnauthorized || rejected[0].Status != http.StatusUnauthorized {
		t.Errorf("Unexpected rejection: %+v", rejected[0])
	}
	if rejected[0].ClientIP != "203.0.113.7" {
		t.Errorf("Expected client ip to be reported, got %s", rejected[0].ClientIP)
	}
}

// failingGuard fails every call, as an unreachable redis would
type failingGuard struct{}

func (failingGuard) IsDuplicate(context.Context, string) (bool, error) {
	return false, errors.New("guard down")
}

func (failingGuard) Forget(context.Context, string) error { return errors.New("guard down") }

func (failingGuard) CheckRateLimit(context.Context, string) (bool, error) {
	return false, errors.New("guard down")
}

func TestHandleWebhook_GuardFailureFailsOpen(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")

	gw, err := paylink.NewGateway(testConfig(), f.orders, f.processor, failingGuard{})
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}

	res := gw.HandleWebhook(context.Background(), webhookRequest(validWebhookBody))
	if res.Status != http.StatusOK {
		t.Fatalf("Expected 200 with the guard down, got %d (%+v)", res.Status, res.Response)
	}

	// Without the guard the conditional update still applies only once
	res = gw.HandleWebhook(context.Background(), webhookRequest(validWebhookBody))
	if res.Status != http.StatusOK {
		t.Fatalf("Expected 200 on redelivery, got %d", res.Status)
	}
	if notes := f.order(t, "1001").Notes; len(notes) != 1 {
		t.Errorf("Expected a single completion, got notes %v", notes)
	}
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")

	var paidHooks int
	var mu sync.Mutex
	f.gateway.OnOrderPaid(func(paylink.OrderPaidContext) error {
		mu.Lock()
		paidHooks++
		mu.Unlock()
		return nil
	})

	const deliveries = 20
	var wg sync.WaitGroup
	results := make([]paylink.WebhookResult, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := webhookRequest(validWebhookBody)
			req.ClientIP = fmt.Sprintf("10.0.0.%d", i)
			results[i] = f.gateway.HandleWebhook(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var fresh int
	for i, res := range results {
		if res.Status != http.StatusOK {
			t.Errorf("Delivery %d: expected 200, got %d", i, res.Status)
		}
		if !res.Response.Duplicate {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("Expected exactly one non-duplicate delivery, got %d", fresh)
	}
	if paidHooks != 1 {
		t.Errorf("Expected order paid hook once, got %d", paidHooks)
	}
}
