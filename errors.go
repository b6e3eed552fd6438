package paylink

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a PaymentError so callers can decide how to react
// without matching on messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransient covers network failures and 5xx answers from the processor
	KindTransient
	// KindClient covers 4xx answers from the processor and bad processor bodies
	KindClient
	KindUnauthorized
	KindRateLimited
	KindInvalid
	KindNotFound
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindClient:
		return "client"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// PaymentError represents a payment-specific error
type PaymentError struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches payment errors by code, so errors.Is works against the sentinels
// below even when the error carries its own message or cause.
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	return ok && t.Code == e.Code
}

// Common error codes. The webhook ones double as the logged rejection reason.
const (
	ErrCodeRateLimit          = "rate_limit"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInvalidBody        = "invalid_body"
	ErrCodeMissingFields      = "missing_fields"
	ErrCodeOrderNotFound      = "order_not_found"
	ErrCodeVerificationFailed = "verification_failed"
	ErrCodeGatewayUnavailable = "gateway_unavailable"
	ErrCodeCheckoutFailed     = "checkout_failed"
	ErrCodeOrderAlreadyPaid   = "order_already_paid"
	ErrCodeProcessorRejected  = "processor_rejected"
	ErrCodeProcessorError     = "processor_error"
	ErrCodeStoreError         = "store_error"
)

// NewPaymentError creates a new payment error
func NewPaymentError(kind ErrorKind, code, message string, err error) *PaymentError {
	return &PaymentError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CheckoutFailureNotice is the only text a buyer sees when checkout fails.
// The processor's own error text is logged, never shown.
const CheckoutFailureNotice = "We could not start the payment. Please try again in a few minutes."

// KindOf returns the kind of the first PaymentError in err's chain
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is a server-side failure worth another attempt
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

var (
	ErrOrderNotFound = NewPaymentError(KindNotFound, ErrCodeOrderNotFound, "order not found", nil)

	ErrOrderAlreadyPaid = NewPaymentError(KindInvalid, ErrCodeOrderAlreadyPaid, "order is already paid", nil)

	// ErrCheckoutUnavailable matches any checkout failure returned by ProcessPayment
	ErrCheckoutUnavailable = NewPaymentError(KindTransient, ErrCodeCheckoutFailed, CheckoutFailureNotice, nil)

	ErrGatewayDisabled = NewPaymentError(KindConfig, ErrCodeGatewayUnavailable, "payment gateway is not available", nil)

	// ErrBodyTooLarge marks a webhook body cut off at the transport's size cap
	ErrBodyTooLarge = NewPaymentError(KindInvalid, ErrCodeInvalidBody, "body too large", nil)
)

// Configuration validation errors
var (
	ErrMissingHandle          = errors.New("paylink: handle is required")
	ErrMissingLinksURL        = errors.New("paylink: links url is required")
	ErrMissingPaymentCheckURL = errors.New("paylink: payment check url is required")
)
