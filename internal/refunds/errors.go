package refunds

import pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"

const (
	ReasonNoRegistrationFound = "no_registration_found"
	ReasonMissingStripeInfo   = "missing_stripe_info"
	ReasonNotPaid             = "not_paid"
	ReasonMissingPaymentInfo  = "missing_payment_info"
	ReasonRefundFailed        = "refund_failed"
	ReasonNotEventOwner       = "not_event_owner"
	ReasonEventNotActive      = "event_not_active"
)

func errNoRegistrationFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "no refundable registration found").WithReason(ReasonNoRegistrationFound)
}

func errMissingStripeInfo() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "registration has no payment session on record").WithReason(ReasonMissingStripeInfo)
}

func errNotPaid() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment session is not paid").WithReason(ReasonNotPaid)
}

func errMissingPaymentInfo() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment session has no refundable payment").WithReason(ReasonMissingPaymentInfo)
}

func errRefundFailed(err error) *pkgerrors.Error {
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "refund could not be created").WithReason(ReasonRefundFailed)
}

func errNotEventOwner() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "only the organiser can cancel the event").WithReason(ReasonNotEventOwner)
}

func errEventNotActive() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "event is not active").WithReason(ReasonEventNotActive)
}
