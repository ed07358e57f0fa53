package payments

import pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"

const (
	ReasonMissingStripeAccount = "missing_stripe_account"
	ReasonSessionNotFound      = "session_not_found"
	ReasonCheckoutFailed       = "checkout_session_failed"
)

func ErrMissingStripeAccount() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "event organiser cannot accept online payments").
		WithReason(ReasonMissingStripeAccount)
}

func ErrSessionNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found").WithReason(ReasonSessionNotFound)
}
