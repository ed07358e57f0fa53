package registrations

import pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"

const (
	ReasonEventNotFound        = "event_not_found"
	ReasonIncorrectPaymentType = "incorrect_payment_type"
	ReasonCarNotFound          = "car_not_found"
	ReasonCannotCancel         = "cannot_cancel"
	ReasonRegistrationNotFound = "registration_not_found"
)

func ErrEventNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "event not found").WithReason(ReasonEventNotFound)
}

func ErrPaymentTypeMismatch() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payment type does not match the event").
		WithReason(ReasonIncorrectPaymentType)
}

func ErrCarNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "car not found").WithReason(ReasonCarNotFound)
}

func ErrCannotCancel() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "registration cannot be cancelled").
		WithReason(ReasonCannotCancel)
}

func ErrRegistrationNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "registration not found").
		WithReason(ReasonRegistrationNotFound)
}
