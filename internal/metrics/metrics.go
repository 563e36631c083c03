// Package metrics содержит метрики Prometheus всех процессов сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "verification_gate"

var (
	// VerificationRequestsTotal считает запросы проверки по итогу (ok, regrant или причина отказа).
	VerificationRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_requests_total",
		Help:      "Verification requests by outcome.",
	}, []string{"outcome"})

	// WebhookRequestsTotal считает входящие вебхуки по источнику и HTTP-статусу.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Inbound provider webhooks by source and HTTP status.",
	}, []string{"source", "status"})

	// WebhookDuration — время обработки вебхука.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_duration_seconds",
		Help:      "Webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// RelayPublishTotal считает публикации результатов в очередь: published, outbox, redriven, failed.
	RelayPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_publish_total",
		Help:      "Identity result relay outcomes.",
	}, []string{"result"})

	// ReconciledTotal считает обработанные сообщения очереди по типу и итогу.
	ReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciled_messages_total",
		Help:      "Queue messages handled by the reconciler by type and result.",
	}, []string{"type", "result"})

	// BillingEventsTotal считает события биллинга по типу и итогу.
	BillingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_events_total",
		Help:      "Billing events by type and result.",
	}, []string{"type", "result"})

	// LapsedCommunitiesTotal считает сообщества, погашенные периодической проверкой.
	LapsedCommunitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lapsed_communities_total",
		Help:      "Communities deactivated by the lapse sweeper.",
	})
)
