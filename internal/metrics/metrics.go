package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Payment event lifecycle metrics
	PaymentEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zest_payment_events_received_total",
			Help: "Total number of inbound payment events by provider status",
		},
		[]string{"status"},
	)

	PaymentEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zest_payment_events_applied_total",
			Help: "Total number of payment events applied to the ledger by kind",
		},
		[]string{"kind"},
	)

	PaymentEventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zest_payment_events_duplicate_total",
			Help: "Total number of re-delivered events acknowledged without mutation",
		},
	)

	PaymentEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zest_payment_events_rejected_total",
			Help: "Total number of events rejected at the boundary by reason",
		},
		[]string{"reason"},
	)

	// Chat command metrics
	BotCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zest_bot_commands_total",
			Help: "Total number of chat commands dispatched by command",
		},
		[]string{"command"},
	)
)
