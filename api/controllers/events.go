package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	"github.com/pitlane-hq/pitlane-backend/api/validators"
	"github.com/pitlane-hq/pitlane-backend/internal/refunds"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

type EventCancelService interface {
	CancelEvent(ctx context.Context, eventID, requester uuid.UUID) (*refunds.EventCancelResult, error)
}

// CancelEvent cancels an organiser's event and refunds its registrations.
func CancelEvent(svc EventCancelService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithEventID(ctx, eventID.String())
		}
		result, err := svc.CancelEvent(ctx, eventID, requester)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
