package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Presence metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amigo_connected_clients",
			Help: "Currently registered websocket clients",
		},
	)

	// Relay metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amigo_events_received_total",
			Help: "Inbound relay events by kind",
		},
		[]string{"event"},
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amigo_events_delivered_total",
			Help: "Outbound events queued for delivery",
		},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amigo_messages_persisted_total",
			Help: "Messages written to the conversation store",
		},
	)

	RelayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amigo_relay_errors_total",
			Help: "Events rejected at the relay boundary by error code",
		},
		[]string{"code"},
	)

	// Call metrics
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amigo_active_calls",
			Help: "Call sessions currently ringing or active",
		},
	)
)
