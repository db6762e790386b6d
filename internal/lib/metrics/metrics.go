// Package metrics объявляет счётчики Prometheus биллинга.
// Регистрируются в реестре по умолчанию и отдаются через /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы обработки события вебхука.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

var (
	// WebhookEvents события вебхука по типу и исходу.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_events_total",
		Help:      "Webhook events handled, by type and outcome.",
	}, []string{"type", "outcome"})

	// SignatureFailures отклонённые подписи вебхука.
	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_signature_failures_total",
		Help:      "Webhook requests rejected by signature verification.",
	})

	// GatewayRequests вызовы API провайдера по методу и исходу.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "gateway_requests_total",
		Help:      "Payment provider API calls, by method and outcome.",
	}, []string{"method", "outcome"})

	// PlanChanges смены тарифа пользователя.
	PlanChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "plan_changes_total",
		Help:      "User plan transitions applied by webhooks.",
	}, []string{"from", "to"})

	// StaleCancelFailures неудачные отмены заменённой подписки при апгрейде.
	StaleCancelFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "stale_subscription_cancel_failures_total",
		Help:      "Failed provider cancellations of superseded subscriptions.",
	})
)

// ObserveGateway учитывает вызов провайдера.
func ObserveGateway(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GatewayRequests.WithLabelValues(method, outcome).Inc()
}
