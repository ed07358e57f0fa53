package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

// Mode is the Stripe environment a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", ModeTest, ModeLive)
)

// Client talks to Stripe on behalf of organisers' connected accounts and
// verifies the platform's webhook deliveries.
type Client struct {
	api      *stripe.Client
	mode     Mode
	webhooks *WebhookVerifier
}

// NewClient refuses keys that do not match PITLANE_STRIPE_ENV so a live key
// never ends up in a test deployment or the reverse.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if !mode.accepts(apiKey) {
		return nil, fmt.Errorf("stripe environment %q requires a %s secret or restricted key", mode, mode)
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{
		api:      stripe.NewClient(apiKey),
		mode:     mode,
		webhooks: NewWebhookVerifier(secret),
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

// Webhooks returns the verifier bound to the endpoint secret.
func (c *Client) Webhooks() *WebhookVerifier {
	if c == nil {
		return nil
	}
	return c.webhooks
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeTest:
		return ModeTest, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func (m Mode) accepts(key string) bool {
	for _, kind := range []string{"sk_", "rk_"} {
		if strings.HasPrefix(key, kind+string(m)+"_") {
			return true
		}
	}
	return false
}
