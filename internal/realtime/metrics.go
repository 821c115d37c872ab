// internal/realtime/metrics.go

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRoomMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_room_memberships",
		Help: "Current number of session-to-room memberships",
	})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_broadcasts_total",
		Help: "Broadcast events fanned out, by event type",
	}, []string{"event_type"})

	droppedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_sessions_total",
		Help: "Sessions dropped because their send buffer filled up",
	})

	// ActiveSessions tracks open websocket sessions across the service
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_active_sessions",
		Help: "Open websocket sessions, by endpoint",
	}, []string{"endpoint"})

	// RejectedConnections counts upgrade attempts turned away
	RejectedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_rejected_connections_total",
		Help: "Connection attempts rejected before joining, by reason",
	}, []string{"reason"})
)
