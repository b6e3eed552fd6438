package paylink

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// WebhookRequest is the transport-independent view of an inbound webhook
type WebhookRequest struct {
	ClientIP string
	// SecretHeader is the value of the X-Webhook-Secret header
	SecretHeader string
	// Authorization is the raw Authorization header
	Authorization string
	Body          []byte
	// BodyErr is set by the transport when the body could not be read in
	// full, for example ErrBodyTooLarge. The request is still rate limited
	// and authenticated before it is rejected.
	BodyErr error
}

// WebhookResponse is the JSON body returned to the processor
type WebhookResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WebhookResult is the HTTP status and body for a webhook delivery
type WebhookResult struct {
	Status   int
	Response WebhookResponse
	OrderID  OrderID
}

// Webhook outcomes recorded in metrics, next to the rejection reasons
const (
	webhookOutcomeCompleted   = "completed"
	webhookOutcomeDuplicate   = "duplicate"
	webhookOutcomeAlreadyPaid = "already_paid"
)

// HandleWebhook processes one processor webhook delivery.
//
// The request goes through the rate limit, authentication, body validation,
// the replay guard, the order lookup and a server-side payment check before
// the order is completed. Every rejection leaves the order untouched.
// A rejection after the replay guard releases the transaction again, so a
// genuine retry is evaluated from scratch.
func (g *Gateway) HandleWebhook(ctx context.Context, req WebhookRequest) WebhookResult {
	allowed, err := g.guard.CheckRateLimit(ctx, req.ClientIP)
	if err != nil {
		g.logger.Error("rate limit check failed, allowing request",
			"client_ip", req.ClientIP,
			"error", err)
	} else if !allowed {
		return g.rejectWebhook(ctx, req, "", http.StatusTooManyRequests,
			ErrCodeRateLimit, "too many requests")
	}

	if !g.config.Available() {
		return g.rejectWebhook(ctx, req, "", http.StatusInternalServerError,
			ErrCodeGatewayUnavailable, "payment gateway is not available")
	}

	if !g.authenticate(req) {
		g.logger.Warn("webhook authentication failed", "client_ip", req.ClientIP)
		return g.rejectWebhook(ctx, req, "", http.StatusUnauthorized,
			ErrCodeUnauthorized, "invalid webhook secret")
	}

	if req.BodyErr != nil {
		message := "could not read body"
		if errors.Is(req.BodyErr, ErrBodyTooLarge) {
			message = ErrBodyTooLarge.Message
		}
		return g.rejectWebhook(ctx, req, "", http.StatusBadRequest, ErrCodeInvalidBody, message)
	}

	payload, err := ParseWebhookPayload(req.Body)
	if err != nil {
		code, message := ErrCodeInvalidBody, "invalid webhook body"
		var pe *PaymentError
		if errors.As(err, &pe) {
			code, message = pe.Code, pe.Message
		}
		return g.rejectWebhook(ctx, req, "", http.StatusBadRequest, code, message)
	}

	conf := payload.Confirmation()
	log := g.logger.With(
		"order_id", conf.OrderID,
		"transaction_id", conf.TransactionID,
	)

	duplicate, err := g.guard.IsDuplicate(ctx, conf.TransactionID)
	if err != nil {
		// The conditional transition still keeps completion at most once
		log.Warn("replay guard unavailable, continuing", "error", err)
	}
	if duplicate {
		log.Info("duplicate webhook acknowledged")
		g.metrics.recordWebhook(ctx, webhookOutcomeDuplicate)
		return WebhookResult{
			Status:   http.StatusOK,
			Response: WebhookResponse{Success: true, Duplicate: true},
			OrderID:  conf.OrderID,
		}
	}

	release := func() {
		if err := g.guard.Forget(ctx, conf.TransactionID); err != nil {
			log.Warn("failed to release transaction mark", "error", err)
		}
	}

	order, err := g.orders.Get(ctx, conf.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		release()
		return g.rejectWebhook(ctx, req, conf.OrderID, http.StatusNotFound,
			ErrCodeOrderNotFound, "order not found")
	}
	if err != nil {
		release()
		log.Error("failed to load order", "error", err)
		return g.rejectWebhook(ctx, req, conf.OrderID, http.StatusInternalServerError,
			ErrCodeStoreError, "could not load order")
	}

	if order.Status.IsPaid() {
		log.Info("order already paid", "status", order.Status)
		g.metrics.recordWebhook(ctx, webhookOutcomeAlreadyPaid)
		return WebhookResult{
			Status:   http.StatusOK,
			Response: WebhookResponse{Success: true},
			OrderID:  conf.OrderID,
		}
	}

	result := g.verify(ctx, conf)
	if !result.OK || !result.Paid {
		release()
		if !result.OK {
			log.Warn("payment check unavailable, webhook not applied")
		} else {
			log.Warn("processor reports transaction not paid")
		}
		return g.rejectWebhook(ctx, req, conf.OrderID, http.StatusBadRequest,
			ErrCodeVerificationFailed, "payment could not be verified")
	}

	outcome, err := g.complete(ctx, conf)
	if err != nil {
		release()
		log.Error("failed to complete order", "error", err)
		if errors.Is(err, ErrOrderNotFound) {
			return g.rejectWebhook(ctx, req, conf.OrderID, http.StatusNotFound,
				ErrCodeOrderNotFound, "order not found")
		}
		return g.rejectWebhook(ctx, req, conf.OrderID, http.StatusInternalServerError,
			ErrCodeStoreError, "could not update order")
	}

	if outcome == outcomeAlreadyPaid {
		g.metrics.recordWebhook(ctx, webhookOutcomeAlreadyPaid)
	} else {
		g.metrics.recordWebhook(ctx, webhookOutcomeCompleted)
	}
	return WebhookResult{
		Status:   http.StatusOK,
		Response: WebhookResponse{Success: true},
		OrderID:  conf.OrderID,
	}
}

// authenticate checks the shared secret from either the X-Webhook-Secret
// header or a bearer token. With no secret configured every request passes.
func (g *Gateway) authenticate(req WebhookRequest) bool {
	if !g.config.WebhookAuthEnabled() {
		g.noAuthLog.Do(func() {
			g.logger.Warn("webhook secret not configured, accepting unauthenticated webhooks")
		})
		return true
	}

	secret := []byte(g.config.WebhookSecret)
	headerOK := subtle.ConstantTimeCompare([]byte(req.SecretHeader), secret) == 1
	bearerOK := subtle.ConstantTimeCompare([]byte(bearerToken(req.Authorization)), secret) == 1
	return headerOK || bearerOK
}

func bearerToken(authorization string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (g *Gateway) rejectWebhook(ctx context.Context, req WebhookRequest, orderID OrderID, status int, reason, message string) WebhookResult {
	g.logger.Warn("webhook rejected",
		"reason", reason,
		"status", status,
		"client_ip", req.ClientIP,
		"order_id", orderID)
	g.metrics.recordWebhook(ctx, reason)

	g.runWebhookRejectedHooks(WebhookRejectedContext{
		Ctx:       ctx,
		ClientIP:  req.ClientIP,
		Status:    status,
		Reason:    reason,
		OrderID:   orderID,
		Timestamp: g.now(),
	})

	return WebhookResult{
		Status:   status,
		Response: WebhookResponse{Success: false, Error: reason, Message: message},
		OrderID:  orderID,
	}
}
