package stripe

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v84"
)

var errNoClient = errors.New("stripe client not initialized")

// Payments are direct charges on the organiser's connected account: every
// session and refund below is created with the Stripe-Account header and the
// platform keeps only the application fee.

func (c *Client) ready() error {
	if c == nil || c.api == nil {
		return errNoClient
	}
	return nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, account string, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params.SetStripeAccount(account)
	return c.api.V1CheckoutSessions.Create(ctx, params)
}

func (c *Client) RetrieveCheckoutSession(ctx context.Context, account, sessionID string) (*stripe.CheckoutSession, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.SetStripeAccount(account)
	return c.api.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
}

func (c *Client) ExpireCheckoutSession(ctx context.Context, account, sessionID string) (*stripe.CheckoutSession, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.SetStripeAccount(account)
	return c.api.V1CheckoutSessions.Expire(ctx, sessionID, params)
}

func (c *Client) CreateRefund(ctx context.Context, account string, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params.SetStripeAccount(account)
	return c.api.V1Refunds.Create(ctx, params)
}
