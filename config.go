package paylink

import (
	"strings"
	"time"
)

// GatewayConfig is the gateway configuration. It is built once at startup and
// handed to the gateway and its clients; nothing reads settings per call.
type GatewayConfig struct {
	// Enabled switches the gateway on
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Title and Description are the display strings shown at checkout
	Title       string `yaml:"title" json:"title,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	// Handle is the merchant account identifier at the processor
	Handle string `yaml:"handle" json:"handle"`
	// Debug enables debug logging, including raw processor error bodies
	Debug bool `yaml:"debug" json:"debug"`
	// SendCustomer and SendAddress control the optional checkout-link blocks
	SendCustomer bool `yaml:"send_customer" json:"sendCustomer"`
	SendAddress  bool `yaml:"send_address" json:"sendAddress"`
	// WebhookSecret authenticates inbound webhooks. Empty disables the check.
	WebhookSecret string `yaml:"webhook_secret" json:"-"`

	// LinksURL is the processor's create-checkout-link endpoint
	LinksURL string `yaml:"links_url" json:"linksUrl"`
	// PaymentCheckURL is the processor's payment-check endpoint
	PaymentCheckURL string `yaml:"payment_check_url" json:"paymentCheckUrl"`
	// RedirectURL is the confirmation page; {order_id} is replaced per order
	RedirectURL string `yaml:"redirect_url" json:"redirectUrl"`
	// WebhookURL is where the processor posts confirmations
	WebhookURL string `yaml:"webhook_url" json:"webhookUrl"`
	// DefaultRegion is used to parse phone numbers without a country code
	DefaultRegion string `yaml:"default_region" json:"defaultRegion"`

	CheckoutTimeout      time.Duration `yaml:"checkout_timeout" json:"checkoutTimeout"`
	CheckoutAttempts     int           `yaml:"checkout_attempts" json:"checkoutAttempts"`
	CheckoutRetryDelay   time.Duration `yaml:"checkout_retry_delay" json:"checkoutRetryDelay"`
	VerifyTimeout        time.Duration `yaml:"verify_timeout" json:"verifyTimeout"`
	ReplayTTL            time.Duration `yaml:"replay_ttl" json:"replayTtl"`
	RateLimit            int           `yaml:"rate_limit" json:"rateLimit"`
	RateWindow           time.Duration `yaml:"rate_window" json:"rateWindow"`
	VerificationCacheTTL time.Duration `yaml:"verification_cache_ttl" json:"verificationCacheTtl"`
}

// Defaults
const (
	DefaultCheckoutTimeout      = 10 * time.Second
	DefaultCheckoutAttempts     = 2
	DefaultCheckoutRetryDelay   = 1 * time.Second
	DefaultVerifyTimeout        = 10 * time.Second
	DefaultReplayTTL            = time.Hour
	DefaultRateLimit            = 30
	DefaultRateWindow           = time.Minute
	DefaultVerificationCacheTTL = 5 * time.Minute
	DefaultRegion               = "BR"
)

// WithDefaults returns a copy of c with zero values replaced by defaults
func (c GatewayConfig) WithDefaults() GatewayConfig {
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = DefaultCheckoutTimeout
	}
	if c.CheckoutAttempts <= 0 {
		c.CheckoutAttempts = DefaultCheckoutAttempts
	}
	if c.CheckoutRetryDelay < 0 {
		c.CheckoutRetryDelay = 0
	} else if c.CheckoutRetryDelay == 0 {
		c.CheckoutRetryDelay = DefaultCheckoutRetryDelay
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.ReplayTTL <= 0 {
		c.ReplayTTL = DefaultReplayTTL
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.VerificationCacheTTL <= 0 {
		c.VerificationCacheTTL = DefaultVerificationCacheTTL
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = DefaultRegion
	}
	return c
}

// Validate checks if the config has all required fields.
// A disabled gateway is always valid.
func (c GatewayConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Handle) == "" {
		return ErrMissingHandle
	}
	if c.LinksURL == "" {
		return ErrMissingLinksURL
	}
	if c.PaymentCheckURL == "" {
		return ErrMissingPaymentCheckURL
	}
	return nil
}

// Available reports whether the gateway can process payments at all
func (c GatewayConfig) Available() bool {
	return c.Enabled && strings.TrimSpace(c.Handle) != ""
}

// RedirectURLFor renders the confirmation page URL for an order
func (c GatewayConfig) RedirectURLFor(id OrderID) string {
	return strings.ReplaceAll(c.RedirectURL, "{order_id}", string(id))
}

// WebhookAuthEnabled reports whether inbound webhooks must carry the secret
func (c GatewayConfig) WebhookAuthEnabled() bool {
	return c.WebhookSecret != ""
}
