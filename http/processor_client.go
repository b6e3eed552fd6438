package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/lojacheckout/paylink"
)

// ============================================================================
// HTTP Processor Client
// ============================================================================

// HTTPProcessorClient talks to the payment processor over HTTP.
// Implements paylink.ProcessorClient.
type HTTPProcessorClient struct {
	linksURL        string
	paymentCheckURL string
	httpClient      *http.Client
	checkoutTimeout time.Duration
	verifyTimeout   time.Duration
	attempts        int
	retryDelay      time.Duration
	limiter         *rate.Limiter
	logger          *slog.Logger
	debug           bool
}

// ProcessorConfig configures the HTTP processor client
type ProcessorConfig struct {
	// LinksURL is the create-checkout-link endpoint
	LinksURL string

	// PaymentCheckURL is the payment-check endpoint
	PaymentCheckURL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// CheckoutTimeout bounds each checkout-link attempt (optional, defaults to 10s)
	CheckoutTimeout time.Duration

	// VerifyTimeout bounds the payment-check call (optional, defaults to 10s)
	VerifyTimeout time.Duration

	// Attempts is the total number of checkout-link attempts (optional, defaults to 2)
	Attempts int

	// RetryDelay is multiplied by the attempt index before each retry.
	// Zero means the default of 1s; negative disables the delay.
	RetryDelay time.Duration

	// RequestsPerSecond paces outbound calls (optional, unlimited when zero)
	RequestsPerSecond float64
	Burst             int

	// Logger receives attempt failures (optional)
	Logger *slog.Logger

	// Debug logs raw processor error bodies
	Debug bool
}

// maxResponseBytes caps how much of a processor response is read
const maxResponseBytes = 1 << 20

// ProcessorConfigFrom derives the client settings from the gateway config
func ProcessorConfigFrom(cfg paylink.GatewayConfig) *ProcessorConfig {
	cfg = cfg.WithDefaults()
	return &ProcessorConfig{
		LinksURL:        cfg.LinksURL,
		PaymentCheckURL: cfg.PaymentCheckURL,
		CheckoutTimeout: cfg.CheckoutTimeout,
		VerifyTimeout:   cfg.VerifyTimeout,
		Attempts:        cfg.CheckoutAttempts,
		RetryDelay:      cfg.CheckoutRetryDelay,
		Debug:           cfg.Debug,
	}
}

// NewHTTPProcessorClient creates a new HTTP processor client
func NewHTTPProcessorClient(config *ProcessorConfig) *HTTPProcessorClient {
	if config == nil {
		config = &ProcessorConfig{}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the context
		httpClient = &http.Client{}
	}

	checkoutTimeout := config.CheckoutTimeout
	if checkoutTimeout <= 0 {
		checkoutTimeout = paylink.DefaultCheckoutTimeout
	}
	verifyTimeout := config.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = paylink.DefaultVerifyTimeout
	}
	attempts := config.Attempts
	if attempts <= 0 {
		attempts = paylink.DefaultCheckoutAttempts
	}
	retryDelay := config.RetryDelay
	if retryDelay == 0 {
		retryDelay = paylink.DefaultCheckoutRetryDelay
	} else if retryDelay < 0 {
		retryDelay = 0
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPProcessorClient{
		linksURL:        config.LinksURL,
		paymentCheckURL: config.PaymentCheckURL,
		httpClient:      httpClient,
		checkoutTimeout: checkoutTimeout,
		verifyTimeout:   verifyTimeout,
		attempts:        attempts,
		retryDelay:      retryDelay,
		limiter:         limiter,
		logger:          logger.With("source", "paylink", "component", "processor_client"),
		debug:           config.Debug,
	}
}

// ============================================================================
// ProcessorClient Implementation
// ============================================================================

// CreateCheckoutLink asks the processor for a hosted checkout URL.
// Network errors and 5xx answers are retried until the attempt budget is
// spent; 4xx answers and malformed success bodies fail immediately.
func (c *HTTPProcessorClient) CreateCheckoutLink(ctx context.Context, linkReq paylink.CheckoutLinkRequest) (string, error) {
	body, err := json.Marshal(linkReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkout link request: %w", err)
	}

	var lastErr error

	for attempt := range c.attempts {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", paylink.NewPaymentError(paylink.KindTransient, paylink.ErrCodeProcessorError,
					"checkout link request cancelled", ctx.Err())
			}
		}

		checkoutURL, err := c.createCheckoutLinkOnce(ctx, body)
		if err == nil {
			return checkoutURL, nil
		}
		lastErr = err

		c.logger.Warn("checkout link attempt failed",
			"order_id", linkReq.OrderNSU,
			"attempt", attempt+1,
			"attempts", c.attempts,
			"error", err)

		// Only network errors and 5xx are worth another attempt
		if !paylink.Retryable(err) {
			return "", err
		}
	}

	return "", lastErr
}

func (c *HTTPProcessorClient) createCheckoutLinkOnce(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.checkoutTimeout)
	defer cancel()

	status, responseBody, err := c.post(ctx, c.linksURL, body)
	if err != nil {
		return "", paylink.NewPaymentError(paylink.KindTransient, paylink.ErrCodeProcessorError,
			"checkout link request failed", err)
	}

	switch {
	case status >= 500:
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindTransient, paylink.ErrCodeProcessorError,
			fmt.Sprintf("processor returned %d", status), nil)
	case status == http.StatusTooManyRequests:
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindRateLimited, paylink.ErrCodeProcessorRejected,
			fmt.Sprintf("processor returned %d", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindUnauthorized, paylink.ErrCodeProcessorRejected,
			fmt.Sprintf("processor returned %d", status), nil)
	case status < 200 || status >= 300:
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindClient, paylink.ErrCodeProcessorRejected,
			fmt.Sprintf("processor returned %d", status), nil)
	}

	var linkResponse paylink.CheckoutLinkResponse
	if err := json.Unmarshal(responseBody, &linkResponse); err != nil {
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindClient, paylink.ErrCodeProcessorError,
			"failed to decode checkout link response", err)
	}

	u, err := url.Parse(linkResponse.URL)
	if linkResponse.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.debugBody("checkout link", status, responseBody)
		return "", paylink.NewPaymentError(paylink.KindClient, paylink.ErrCodeProcessorError,
			"checkout link response has no usable url", err)
	}

	return linkResponse.URL, nil
}

// PaymentCheck asks the processor whether a transaction was paid.
// Single attempt. Any failure yields VerificationResult{OK: false}, and Paid
// is true only when the body asserts both success and paid.
func (c *HTTPProcessorClient) PaymentCheck(ctx context.Context, checkReq paylink.PaymentCheckRequest) paylink.VerificationResult {
	log := c.logger.With("order_id", checkReq.OrderNSU, "transaction_id", checkReq.TransactionNSU)

	body, err := json.Marshal(checkReq)
	if err != nil {
		log.Error("failed to marshal payment check request", "error", err)
		return paylink.VerificationResult{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	status, responseBody, err := c.post(ctx, c.paymentCheckURL, body)
	if err != nil {
		log.Warn("payment check request failed", "error", err)
		return paylink.VerificationResult{}
	}
	if status != http.StatusOK {
		log.Warn("payment check rejected", "status", status)
		c.debugBody("payment check", status, responseBody)
		return paylink.VerificationResult{}
	}

	var checkResponse paylink.PaymentCheckResponse
	if err := json.Unmarshal(responseBody, &checkResponse); err != nil {
		log.Warn("failed to decode payment check response", "error", err)
		c.debugBody("payment check", status, responseBody)
		return paylink.VerificationResult{}
	}

	return paylink.VerificationResult{
		OK:   true,
		Paid: checkResponse.Success && checkResponse.Paid,
	}
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPProcessorClient) post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, responseBody, nil
}

// debugBody logs a raw processor body, only in debug mode
func (c *HTTPProcessorClient) debugBody(call string, status int, body []byte) {
	if !c.debug {
		return
	}
	c.logger.Debug("processor response body",
		"call", call,
		"status", status,
		"body", string(body))
}

// Ensure HTTPProcessorClient implements paylink.ProcessorClient
var _ paylink.ProcessorClient = (*HTTPProcessorClient)(nil)
