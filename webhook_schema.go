package paylink

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const webhookSchemaJSON = `{
  "type": "object",
  "required": ["order_nsu", "transaction_nsu", "invoice_slug"],
  "properties": {
    "order_nsu": {"type": ["string", "integer"], "minLength": 1},
    "transaction_nsu": {"type": "string", "minLength": 1},
    "invoice_slug": {"type": "string", "minLength": 1},
    "receipt_url": {"type": ["string", "null"]}
  }
}`

var webhookSchema = mustCompileSchema(webhookSchemaJSON)

func mustCompileSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("paylink: invalid embedded schema: %v", err))
	}
	return s
}

// ParseWebhookPayload validates and decodes a webhook body. On failure it
// returns a PaymentError whose code is invalid_body (not JSON, wrong shape or
// types) or missing_fields (a required field is absent or blank).
func ParseWebhookPayload(body []byte) (WebhookPayload, error) {
	var payload WebhookPayload

	result, err := webhookSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return payload, NewPaymentError(KindInvalid, ErrCodeInvalidBody, "body is not valid JSON", err)
	}
	if !result.Valid() {
		code, message := ErrCodeInvalidBody, "body does not match the webhook format"
		for _, re := range result.Errors() {
			switch re.Type() {
			case "required", "string_gte":
				code, message = ErrCodeMissingFields, "order_nsu, transaction_nsu and invoice_slug are required"
			}
		}
		return payload, NewPaymentError(KindInvalid, code, message, nil)
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, NewPaymentError(KindInvalid, ErrCodeInvalidBody, "body is not valid JSON", err)
	}

	payload.TransactionNSU = strings.TrimSpace(payload.TransactionNSU)
	payload.InvoiceSlug = strings.TrimSpace(payload.InvoiceSlug)
	payload.ReceiptURL = strings.TrimSpace(payload.ReceiptURL)
	if payload.OrderNSU == "" || payload.TransactionNSU == "" || payload.InvoiceSlug == "" {
		return payload, NewPaymentError(KindInvalid, ErrCodeMissingFields,
			"order_nsu, transaction_nsu and invoice_slug are required", nil)
	}

	if payload.ReceiptURL != "" {
		u, err := url.Parse(payload.ReceiptURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return payload, NewPaymentError(KindInvalid, ErrCodeInvalidBody, "receipt_url must be an http(s) URL", err)
		}
	}

	return payload, nil
}
