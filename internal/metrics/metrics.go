// Package metrics holds the Prometheus collectors of the orchestrator.
// Labels never carry session ids or room names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "home_orchestrator"

var (
	IntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_total",
		Help:      "Intent events received, by resolved intent and session mode.",
	}, []string{"intent", "mode"})

	IgnoredIntentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ignored_intents_total",
		Help:      "Intent events dropped without a reply.",
	})

	RepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_total",
		Help:      "Replies produced for the intent bus, by action (end/continue).",
	}, []string{"action"})

	DeviceCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_calls_total",
		Help:      "Device control calls, by operation and result.",
	}, []string{"op", "result"})

	ConversationsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_started_total",
		Help:      "Guided conversations started, by direction.",
	}, []string{"direction"})

	ConversationsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_finished_total",
		Help:      "Guided conversations finished, by outcome (completed, failed, expired).",
	}, []string{"outcome"})

	BusReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_reconnects_total",
		Help:      "Reconnections to the intent bus.",
	})

	HTTPRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rejected_total",
		Help:      "HTTP ingest requests rejected, by reason (unauthorized, rate_limited, bad_request).",
	}, []string{"reason"})
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
