package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

// ReasonSignatureInvalid marks webhook deliveries that fail verification.
const ReasonSignatureInvalid = "signature_invalid"

// maxPayloadBytes mirrors the limit Stripe documents for webhook bodies.
const maxPayloadBytes = int64(65536)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// IdempotencyGuard remembers which Stripe event ids were already handled.
type IdempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// EventVerifier authenticates a delivery against the endpoint secret.
type EventVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// StripeWebhook verifies and dispatches Stripe payment events. Once the
// signature checks out the delivery is always acknowledged; processing
// failures are logged and the idempotency claim released. Stripe does not
// redeliver an acknowledged event; the release only lets a manual resend
// from the dashboard through.
func StripeWebhook(svc StripeWebhookService, verifier EventVerifier, guard IdempotencyGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if logg == nil {
			logg = logger.Nop()
		}

		if svc == nil || verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body").WithReason(ReasonSignatureInvalid))
			return
		}

		event, err := verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature").WithReason(ReasonSignatureInvalid))
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})

		claimed := false
		if guard != nil {
			alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
			switch {
			case err != nil:
				logg.Error(ctx, "stripe webhook idempotency check failed", err)
			case alreadyProcessed:
				logg.Info(ctx, "stripe webhook duplicate skipped")
				responses.WriteSuccess(w, receivedResponse{Received: true})
				return
			default:
				claimed = true
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			logg.Error(ctx, "stripe webhook processing failed", err)
			if claimed {
				if relErr := guard.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
					logg.Error(ctx, "stripe webhook idempotency release failed", relErr)
				}
			}
		} else {
			logg.Info(ctx, "stripe webhook processed")
		}

		responses.WriteSuccess(w, receivedResponse{Received: true})
	}
}
