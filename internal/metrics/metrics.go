// Package metrics регистрирует счётчики Prometheus движка. Отдаются через
// promhttp на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitlementDenials считает отказы по возможностям с причиной.
	EntitlementDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_denials_total",
		Help: "Feature checks denied, by reason.",
	}, []string{"reason"})

	// UsageConsumes считает метрируемые проверки по решению.
	UsageConsumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_consume_total",
		Help: "Metered feature consume calls, by decision.",
	}, []string{"decision"})

	// WebhookEvents считает принятые платёжные события по результату.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Ingested payment gateway events, by result.",
	}, []string{"result"})

	// BillingTransitions считает применённые переходы машины состояний.
	BillingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_transitions_total",
		Help: "Applied billing state transitions, by target state.",
	}, []string{"to"})
)
