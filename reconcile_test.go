package paylink_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lojacheckout/paylink"
)

func TestReconcile_NeverPaidFromParamsAlone(t *testing.T) {
	f := newFixture(t, testConfig())
	// Nothing is paid at the processor; the URL params are made up

	state, err := f.gateway.Reconcile(context.Background(), "1001", "tx-made-up", "inv-made-up")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != paylink.StateConfirming {
		t.Errorf("Expected confirming, got %s", state)
	}
	order := f.order(t, "1001")
	if order.Status.IsPaid() || !order.Meta.Pending {
		t.Errorf("Expected order to be unchanged, got %s pending=%v", order.Status, order.Meta.Pending)
	}
}

func TestReconcile_VerifiedPaymentCompletesOrder(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")
	ctx := context.Background()

	state, err := f.gateway.Reconcile(ctx, "1001", " tx-1 ", "inv-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != paylink.StateConfirmed {
		t.Fatalf("Expected confirmed, got %s", state)
	}

	order := f.order(t, "1001")
	if order.Status != paylink.StatusProcessing || order.Meta.Pending {
		t.Errorf("Expected processing and not pending, got %s pending=%v", order.Status, order.Meta.Pending)
	}
	if order.PaidAt == nil {
		t.Error("Expected paid time to be recorded")
	}

	// The transaction is now known to the replay guard
	res := f.gateway.HandleWebhook(ctx, webhookRequest(`{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`))
	if res.Status != http.StatusOK || !res.Response.Duplicate {
		t.Errorf("Expected later webhook to be a duplicate, got %d (%+v)", res.Status, res.Response)
	}
}

func TestReconcile_MissingParams(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1")
	ctx := context.Background()

	for _, params := range [][2]string{{"", "inv-1"}, {"tx-1", ""}, {"  ", "  "}} {
		state, err := f.gateway.Reconcile(ctx, "1001", params[0], params[1])
		if err != nil || state != paylink.StateConfirming {
			t.Errorf("Params %q: expected confirming, got %s (%v)", params, state, err)
		}
	}
	if f.processor.CheckCalls() != 0 {
		t.Errorf("Expected no payment checks, got %d", f.processor.CheckCalls())
	}
}

func TestReconcile_AlreadyPaid(t *testing.T) {
	f := newFixture(t, testConfig())
	paid := testOrder("2002")
	paid.Status = paylink.StatusCompleted
	f.orders.Put(paid)

	state, err := f.gateway.Reconcile(context.Background(), "2002", "", "")
	if err != nil || state != paylink.StateConfirmed {
		t.Errorf("Expected confirmed, got %s (%v)", state, err)
	}
	if f.processor.CheckCalls() != 0 {
		t.Error("Expected no payment check for a paid order")
	}
}

func TestReconcile_UnknownOrder(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.gateway.Reconcile(context.Background(), "404", "tx", "inv")
	if !errors.Is(err, paylink.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestReconcile_CachesVerification(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// Reloads inside the cache window reuse the unpaid answer
	for i := 0; i < 5; i++ {
		state, _ := f.gateway.Reconcile(ctx, "1001", "tx-1", "inv-1")
		if state != paylink.StateConfirming {
			t.Fatalf("Reload %d: expected confirming, got %s", i, state)
		}
	}
	if f.processor.CheckCalls() != 1 {
		t.Errorf("Expected a single payment check, got %d", f.processor.CheckCalls())
	}

	// A webhook does not trust the cached unpaid answer
	f.processor.MarkPaid("tx-1", "inv-1")
	res := f.gateway.HandleWebhook(ctx, webhookRequest(`{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`))
	if res.Status != http.StatusOK {
		t.Fatalf("Expected webhook to refresh the check, got %d (%+v)", res.Status, res.Response)
	}
	if f.processor.CheckCalls() != 2 {
		t.Errorf("Expected a second payment check, got %d", f.processor.CheckCalls())
	}
}

func TestReconcile_CacheExpires(t *testing.T) {
	cfg := testConfig()
	cfg.VerificationCacheTTL = 20 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.gateway.Reconcile(ctx, "1001", "tx-1", "inv-1")
	f.processor.MarkPaid("tx-1", "inv-1")
	time.Sleep(40 * time.Millisecond)

	state, _ := f.gateway.Reconcile(ctx, "1001", "tx-1", "inv-1")
	if state != paylink.StateConfirmed {
		t.Errorf("Expected confirmed after cache expiry, got %s", state)
	}
	if f.processor.CheckCalls() != 2 {
		t.Errorf("Expected two payment checks, got %d", f.processor.CheckCalls())
	}
}

func TestReconcile_RacesWebhook(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.MarkPaid("tx-1", "inv-1").SetCheckDelay(20 * time.Millisecond)

	var completions int
	var mu sync.Mutex
	f.gateway.OnOrderPaid(func(paylink.OrderPaidContext) error {
		mu.Lock()
		completions++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	states := make([]paylink.ConfirmationState, 5)
	var webhook paylink.WebhookResult

	wg.Add(1)
	go func() {
		defer wg.Done()
		webhook = f.gateway.HandleWebhook(ctx, webhookRequest(`{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`))
	}()
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], _ = f.gateway.Reconcile(ctx, "1001", "tx-1", "inv-1")
		}(i)
	}
	wg.Wait()

	if webhook.Status != http.StatusOK {
		t.Errorf("Expected webhook 200, got %d (%+v)", webhook.Status, webhook.Response)
	}
	for i, s := range states {
		if s != paylink.StateConfirmed {
			t.Errorf("Visit %d: expected confirmed, got %s", i, s)
		}
	}
	if completions != 1 {
		t.Errorf("Expected exactly one completion, got %d", completions)
	}
	if notes := f.order(t, "1001").Notes; len(notes) != 1 {
		t.Errorf("Expected one payment note, got %v", notes)
	}
	if calls := f.processor.CheckCalls(); calls > 2 {
		t.Errorf("Expected concurrent checks to be shared, got %d calls", calls)
	}
}

func TestReconcile_WebhookRechecksUnpaidInFlightAnswer(t *testing.T) {
	f := newFixture(t, testConfig())
	f.processor.SetCheckDelay(100 * time.Millisecond)
	ctx := context.Background()

	// The page visit starts a check while the processor still reports unpaid
	pageDone := make(chan paylink.ConfirmationState, 1)
	go func() {
		state, _ := f.gateway.Reconcile(ctx, "1001", "tx-1", "inv-1")
		pageDone <- state
	}()
	time.Sleep(30 * time.Millisecond)

	// Settlement lands and the webhook joins the page's check in flight
	f.processor.MarkPaid("tx-1", "inv-1")
	res := f.gateway.HandleWebhook(ctx, webhookRequest(`{"order_nsu":"1001","transaction_nsu":"tx-1","invoice_slug":"inv-1"}`))

	if state := <-pageDone; state != paylink.StateConfirming {
		t.Errorf("Expected the page to see the unpaid answer, got %s", state)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("Expected webhook to check again and succeed, got %d (%+v)", res.Status, res.Response)
	}
	if !f.order(t, "1001").Status.IsPaid() {
		t.Error("Expected order to be paid")
	}
	if calls := f.processor.CheckCalls(); calls != 2 {
		t.Errorf("Expected the page check plus one webhook check, got %d", calls)
	}
}
