// Package processor provides a fake payment processor for tests. It can be
// used in process as a paylink.ProcessorClient or served over HTTP for the
// real HTTP client.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/lojacheckout/paylink"
)

// Endpoint paths served by Handler
const (
	LinksPath        = "/links"
	PaymentCheckPath = "/payment_check"
)

// Processor is a scriptable fake processor
type Processor struct {
	mu sync.Mutex

	// paid maps transaction id to invoice slug
	paid             map[string]string
	linkStatuses     []int
	checkUnavailable bool
	checkDelay       time.Duration
	linkCalls        int
	checkCalls       int
	lastLinkRequest  paylink.CheckoutLinkRequest
	baseCheckoutURL  string
}

// New creates a processor where nothing is paid yet
func New() *Processor {
	return &Processor{
		paid:            make(map[string]string),
		baseCheckoutURL: "https://pay.processor.test/c/",
	}
}

// MarkPaid makes the processor report txID with slug as paid
func (p *Processor) MarkPaid(txID, slug string) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid[txID] = slug
	return p
}

// QueueLinkStatuses makes the next checkout-link calls answer with these
// statuses, in order. Once the queue is empty calls succeed with 201.
func (p *Processor) QueueLinkStatuses(statuses ...int) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linkStatuses = append(p.linkStatuses, statuses...)
	return p
}

// SetCheckUnavailable makes payment checks fail
func (p *Processor) SetCheckUnavailable(unavailable bool) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkUnavailable = unavailable
	return p
}

// SetCheckDelay slows payment checks down, to widen race windows
func (p *Processor) SetCheckDelay(d time.Duration) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkDelay = d
	return p
}

// LinkCalls returns how many checkout-link calls were received
func (p *Processor) LinkCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkCalls
}

// CheckCalls returns how many payment checks were received
func (p *Processor) CheckCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkCalls
}

// LastLinkRequest returns the most recent checkout-link request
func (p *Processor) LastLinkRequest() paylink.CheckoutLinkRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLinkRequest
}

// createLink records the call and returns the status and URL to answer with
func (p *Processor) createLink(req paylink.CheckoutLinkRequest) (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.linkCalls++
	p.lastLinkRequest = req

	if len(p.linkStatuses) > 0 {
		status := p.linkStatuses[0]
		p.linkStatuses = p.linkStatuses[1:]
		if status < 200 || status >= 300 {
			return status, ""
		}
	}
	return http.StatusCreated, p.baseCheckoutURL + req.OrderNSU
}

// check records the call and answers (ok, paid)
func (p *Processor) check(ctx context.Context, req paylink.PaymentCheckRequest) (bool, bool) {
	p.mu.Lock()
	p.checkCalls++
	delay := p.checkDelay
	unavailable := p.checkUnavailable
	slug, paid := p.paid[req.TransactionNSU]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, false
		}
	}
	if unavailable {
		return false, false
	}
	return true, paid && slug == req.Slug
}

// CreateCheckoutLink implements paylink.CheckoutLinkCreator in process
func (p *Processor) CreateCheckoutLink(_ context.Context, req paylink.CheckoutLinkRequest) (string, error) {
	status, url := p.createLink(req)
	switch {
	case status >= 500:
		return "", paylink.NewPaymentError(paylink.KindTransient, paylink.ErrCodeProcessorError,
			fmt.Sprintf("processor returned %d", status), nil)
	case status >= 300:
		return "", paylink.NewPaymentError(paylink.KindClient, paylink.ErrCodeProcessorRejected,
			fmt.Sprintf("processor returned %d", status), nil)
	}
	return url, nil
}

// PaymentCheck implements paylink.PaymentVerifier in process
func (p *Processor) PaymentCheck(ctx context.Context, req paylink.PaymentCheckRequest) paylink.VerificationResult {
	ok, paid := p.check(ctx, req)
	return paylink.VerificationResult{OK: ok, Paid: paid}
}

// Handler serves the processor endpoints
func (p *Processor) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+LinksPath, func(w http.ResponseWriter, r *http.Request) {
		var req paylink.CheckoutLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		status, url := p.createLink(req)
		if url == "" {
			writeJSON(w, status, map[string]string{"error": "scripted failure"})
			return
		}
		writeJSON(w, status, paylink.CheckoutLinkResponse{URL: url})
	})

	mux.HandleFunc("POST "+PaymentCheckPath, func(w http.ResponseWriter, r *http.Request) {
		var req paylink.PaymentCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		ok, paid := p.check(r.Context(), req)
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, paylink.PaymentCheckResponse{Success: true, Paid: paid})
	})

	return mux
}

// NewServer serves the processor on a test server
func (p *Processor) NewServer() *httptest.Server {
	return httptest.NewServer(p.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ paylink.ProcessorClient = (*Processor)(nil)
