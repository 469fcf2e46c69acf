package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ChatIncomingUpdates *prometheus.CounterVec
	ChatOutgoing        *prometheus.CounterVec
	PSPRequests         *prometheus.CounterVec
	PSPLatency          *prometheus.HistogramVec
	WebhookOutcomes     *prometheus.CounterVec
	CashOutResults      *prometheus.CounterVec
	CreditsGranted      prometheus.Counter
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			ChatIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_incoming_updates_total",
				Help:      "Total inbound Telegram updates processed.",
			}, []string{"type"}),
			ChatOutgoing: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_outgoing_messages_total",
				Help:      "Total outgoing Telegram API calls.",
			}, []string{"type", "status"}),
			PSPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "psp_requests_total",
				Help:      "Total PSP API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			PSPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "psp_request_duration_seconds",
				Help:      "Latency distribution for PSP API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_webhook_outcomes_total",
				Help:      "Payment notifications grouped by reconciliation outcome.",
			}, []string{"outcome"}),
			CashOutResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cashout_requests_total",
				Help:      "Cash-out requests grouped by result.",
			}, []string{"result"}),
			CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_granted_total",
				Help:      "Credits granted by settled payments.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ChatIncomingUpdates,
			metricsInstance.ChatOutgoing,
			metricsInstance.PSPRequests,
			metricsInstance.PSPLatency,
			metricsInstance.WebhookOutcomes,
			metricsInstance.CashOutResults,
			metricsInstance.CreditsGranted,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
