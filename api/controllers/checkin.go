package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	"github.com/pitlane-hq/pitlane-backend/api/validators"
	"github.com/pitlane-hq/pitlane-backend/internal/checkin"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

type CheckInService interface {
	GenerateCode(ctx context.Context, registrationID, requester uuid.UUID) (*checkin.GeneratedCode, error)
	CheckIn(ctx context.Context, rawCode string, requester uuid.UUID) (*models.Registration, error)
}

type generateCodeRequest struct {
	RegistrationID string `json:"registration_id" validate:"required,uuid"`
}

// codeValue accepts the check-in code as a JSON string or number.
type codeValue string

func (c *codeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = codeValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = codeValue(n.String())
	return nil
}

type verifyCodeRequest struct {
	Code codeValue `json:"code" validate:"required"`
}

// GenerateRegistrationCode issues a short-lived check-in code for the
// requester's paid registration.
func GenerateRegistrationCode(svc CheckInService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "check-in service unavailable"))
			return
		}
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload generateCodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		registrationID, err := validators.ParseUUID(payload.RegistrationID, "registration_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		code, err := svc.GenerateCode(r.Context(), registrationID, requester)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, code)
	}
}

// VerifyRegistrationCode checks a driver in. Only the event organiser may
// redeem codes for their event.
func VerifyRegistrationCode(svc CheckInService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "check-in service unavailable"))
			return
		}
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyCodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reg, err := svc.CheckIn(r.Context(), string(payload.Code), requester)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reg)
	}
}
