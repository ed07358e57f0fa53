package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitlane-hq/pitlane-backend/api/controllers"
	webhookcontrollers "github.com/pitlane-hq/pitlane-backend/api/controllers/webhooks"
	"github.com/pitlane-hq/pitlane-backend/api/middleware"
	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/paymentpoll"
)

// Dependencies carries everything the HTTP surface needs. Nil services make
// their routes answer 500; nil stores disable the matching middleware.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger

	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency middleware.ReplayStore
	RateLimiter middleware.RateLimiterStore

	Registrations controllers.RegistrationService
	Checkout      controllers.CheckoutService
	PaymentStatus controllers.PaymentStatusService
	CheckIn       controllers.CheckInService
	Events        controllers.EventCancelService

	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeVerifier     webhookcontrollers.EventVerifier
	StripeWebhookGuard webhookcontrollers.IdempotencyGuard

	PaymentPoll paymentpoll.Options
	Gatherer    prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	verifyPolicy := middleware.NewRateLimitPolicy(
		"checkin_verify",
		cfg.CheckIn.VerifyWindow,
		cfg.CheckIn.VerifyLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/api/v1/payment/webhook", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeVerifier, deps.StripeWebhookGuard, logg))

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Idempotency(deps.Idempotency, logg),
		)

		r.Post("/api/v1/registrations/cash", controllers.CreateCashRegistration(deps.Registrations, logg))
		r.Post("/api/v1/registrations/online", controllers.CreateOnlineRegistration(deps.Checkout, logg))
		r.Get("/api/v1/registrations/{registrationId}", controllers.GetRegistration(deps.Registrations, logg))
		r.Put("/api/v1/registrations/{registrationId}/unregister", controllers.Unregister(deps.Registrations, logg))

		r.Get("/api/v1/payment/status/{sessionId}", controllers.PaymentStatus(deps.PaymentStatus, deps.PaymentPoll, logg))

		r.Post("/api/v1/registration-code", controllers.GenerateRegistrationCode(deps.CheckIn, logg))
		r.With(middleware.RateLimit(verifyPolicy, deps.RateLimiter, logg)).
			Put("/api/v1/registration-code/verify", controllers.VerifyRegistrationCode(deps.CheckIn, logg))

		r.Put("/api/v1/events/{eventId}/cancel", controllers.CancelEvent(deps.Events, logg))
	})

	return r
}
