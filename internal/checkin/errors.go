package checkin

import pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"

const (
	ReasonCodeNotFound            = "code_not_found"
	ReasonAlreadyCheckedIn        = "already_checked_in"
	ReasonNotEventOwner           = "not_event_owner"
	ReasonNotPaid                 = "not_paid"
	ReasonCodeExpired             = "code_expired"
	ReasonEventAlreadyEnded       = "event_already_ended"
	ReasonEventNotStarted         = "event_not_started"
	ReasonCodeGenerationExhausted = "code_generation_exhausted"
)

func errCodeNotFound() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "registration code not found").WithReason(ReasonCodeNotFound)
}

func errAlreadyCheckedIn() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "driver already checked in").WithReason(ReasonAlreadyCheckedIn)
}

func errNotEventOwner() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "only the organiser can check drivers in").WithReason(ReasonNotEventOwner)
}

func errNotPaid() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "registration is not paid").WithReason(ReasonNotPaid)
}

func errCodeExpired() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "registration code expired").WithReason(ReasonCodeExpired)
}

func errEventAlreadyEnded() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "event already ended").WithReason(ReasonEventAlreadyEnded)
}

func errEventNotStarted() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "check-in has not opened yet").WithReason(ReasonEventNotStarted)
}

func errCodeGenerationExhausted() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a free code, try again").WithReason(ReasonCodeGenerationExhausted)
}
