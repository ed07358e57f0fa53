package stripe

import (
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

var ErrSignatureMissing = errors.New("stripe signature missing")

// WebhookVerifier checks Stripe-Signature headers for one endpoint secret.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify authenticates payload and decodes the event. Events pinned to a
// different API version are accepted; handlers read only stable fields.
func (v *WebhookVerifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if header == "" {
		return stripe.Event{}, ErrSignatureMissing
	}
	return webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
