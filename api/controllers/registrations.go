package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	"github.com/pitlane-hq/pitlane-backend/api/validators"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

type RegistrationService interface {
	CreateCash(ctx context.Context, input registrations.CreateInput) (*models.Registration, error)
	Get(ctx context.Context, id, requester uuid.UUID) (*models.Registration, error)
	Cancel(ctx context.Context, id, requester uuid.UUID) (*registrations.CancelResult, error)
}

type CheckoutService interface {
	CreatePaymentSession(ctx context.Context, input payments.CreateSessionInput) (*payments.SessionResult, error)
}

type cashRegistrationRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	CarID   string `json:"car_id" validate:"required,uuid"`
}

type onlineRegistrationRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	CarID   string `json:"car_id" validate:"required,uuid"`
	Locale  string `json:"locale" validate:"omitempty,max=16"`
}

func parseEventAndCar(rawEvent, rawCar string) (uuid.UUID, uuid.UUID, error) {
	eventID, err := validators.ParseUUID(rawEvent, "event_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	carID, err := validators.ParseUUID(rawCar, "car_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return eventID, carID, nil
}

// CreateCashRegistration registers the requester's car for a cash event.
func CreateCashRegistration(svc RegistrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "registration service unavailable"))
			return
		}
		driverID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cashRegistrationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eventID, carID, err := parseEventAndCar(payload.EventID, payload.CarID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reg, err := svc.CreateCash(r.Context(), registrations.CreateInput{
			EventID:  eventID,
			CarID:    carID,
			DriverID: driverID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, reg)
	}
}

// CreateOnlineRegistration opens a hosted checkout for an online event.
func CreateOnlineRegistration(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		driverID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload onlineRegistrationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eventID, carID, err := parseEventAndCar(payload.EventID, payload.CarID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentSession(r.Context(), payments.CreateSessionInput{
			EventID:  eventID,
			CarID:    carID,
			DriverID: driverID,
			Locale:   validators.NormalizeLocale(payload.Locale),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

func GetRegistration(svc RegistrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "registrationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reg, err := svc.Get(r.Context(), id, requester)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reg)
	}
}

// Unregister cancels the requester's registration. Online registrations
// carry the refund summary in the response.
func Unregister(svc RegistrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "registrationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), id, requester)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
