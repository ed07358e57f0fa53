package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
)

// Gateway is the slice of Stripe the payment flows use. Every call runs on
// the organiser's connected account.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, account string, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, account, sessionID string) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, account, sessionID string) (*stripe.CheckoutSession, error)
	CreateRefund(ctx context.Context, account string, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// Checkout metadata keys written on every session and payment intent.
const (
	MetadataEventID = "eventId"
	MetadataUserID  = "userId"
	MetadataCarID   = "carId"
)

// IsPaid reports whether Stripe considers the session settled.
func IsPaid(session *stripe.CheckoutSession) bool {
	return session != nil && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
}

// PaymentIntentID returns the session's payment intent id, if expanded or set.
func PaymentIntentID(session *stripe.CheckoutSession) string {
	if session == nil || session.PaymentIntent == nil {
		return ""
	}
	return session.PaymentIntent.ID
}
