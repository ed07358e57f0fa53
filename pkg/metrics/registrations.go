package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pitlane"

// RegistrationMetrics tracks the registration and payment lifecycle.
type RegistrationMetrics struct {
	transitions    *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	stalledRefunds prometheus.Gauge
}

// NewRegistrationMetrics registers the lifecycle metrics on reg. A nil
// registerer yields a no-op recorder.
func NewRegistrationMetrics(reg prometheus.Registerer) *RegistrationMetrics {
	if reg == nil {
		return &RegistrationMetrics{}
	}
	m := &RegistrationMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_transitions_total",
			Help:      "Registration status transitions that affected a row.",
		}, []string{"to"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stripe_webhook_events_total",
			Help:      "Verified Stripe webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund requests by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		stalledRefunds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refunds_stalled",
			Help:      "Registrations stuck in REFUND_INITIATED past the stall threshold.",
		}),
	}
	reg.MustRegister(m.transitions, m.webhookEvents, m.refunds, m.stalledRefunds)
	return m
}

func (m *RegistrationMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(labelOrUnknown(to)).Inc()
}

func (m *RegistrationMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(labelOrUnknown(eventType), labelOrUnknown(outcome)).Inc()
}

func (m *RegistrationMetrics) IncRefund(trigger, outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(labelOrUnknown(trigger), labelOrUnknown(outcome)).Inc()
}

func (m *RegistrationMetrics) SetStalledRefunds(n int) {
	if m == nil || m.stalledRefunds == nil {
		return
	}
	m.stalledRefunds.Set(float64(n))
}
