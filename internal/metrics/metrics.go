// Package metrics holds the Prometheus collectors of the payment service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "reconcile_outcomes_total",
		Help:      "Reconciliation attempts by trigger and reported status.",
	}, []string{"trigger", "outcome"})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "commits_total",
		Help:      "Conditional commits by matching strategy and result (won, lost, duplicate, error).",
	}, []string{"strategy", "result"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "gateway_requests_total",
		Help:      "Gateway API calls by operation and result.",
	}, []string{"operation", "result"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payments",
		Name:      "gateway_request_seconds",
		Help:      "Gateway API call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payments",
		Name:      "webhooks_total",
		Help:      "Inbound gateway webhooks by handling result.",
	}, []string{"result"})
)
