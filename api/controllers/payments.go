package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	"github.com/pitlane-hq/pitlane-backend/api/validators"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/paymentpoll"
)

// maxStatusWait bounds the optional long-poll on the status endpoint.
const maxStatusWait = 25 * time.Second

type PaymentStatusService interface {
	PaymentStatus(ctx context.Context, sessionID string, requester uuid.UUID) (*payments.StatusResult, error)
}

// PaymentStatus reports the registration status behind a checkout session.
// With ?wait=N the handler keeps polling for up to N seconds while the
// payment is still pending.
func PaymentStatus(svc PaymentStatusService, poll paymentpoll.Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		requester, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
		wait, err := validators.ParseQuerySeconds(r, "wait", maxStatusWait)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PaymentStatus(r.Context(), sessionID, requester)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if wait == 0 || result.Status != enums.RegistrationPaymentInitiated {
			responses.WriteSuccess(w, result)
			return
		}

		poller, err := paymentpoll.New(func(ctx context.Context, sessionID string) (enums.RegistrationStatus, error) {
			res, err := svc.PaymentStatus(ctx, sessionID, requester)
			if err != nil {
				return "", err
			}
			return res.Status, nil
		}, poll)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build status poller"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		status, err := poller.Wait(ctx, sessionID)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if status == "" {
			status = result.Status
		}
		responses.WriteSuccess(w, payments.StatusResult{Status: status})
	}
}
