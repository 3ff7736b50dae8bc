package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erp_realtime_sessions_active",
			Help: "Connected sessions by transport",
		},
		[]string{"transport"},
	)

	SessionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "erp_realtime_sessions_rejected_total",
			Help: "Sessions refused because the connection limit was reached",
		},
	)

	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erp_realtime_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	// Delivery metrics
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_events_emitted_total",
			Help: "Events handed to the registry by event name and scope",
		},
		[]string{"event", "scope"},
	)

	FramesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_frames_queued_total",
			Help: "Frames queued onto session send buffers by event name",
		},
		[]string{"event"},
	)

	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_frames_dropped_total",
			Help: "Frames dropped because a session buffer was full or closed",
		},
		[]string{"event"},
	)

	ClientMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_client_messages_total",
			Help: "Control messages received from clients by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Publish API metrics
	PublishRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_publish_requests_total",
			Help: "Publish API requests by route and status",
		},
		[]string{"route", "status"},
	)

	// Outbox metrics
	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erp_realtime_outbox_pending",
			Help: "Entries waiting in the outbox after the last relay pass",
		},
	)

	OutboxRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_realtime_outbox_relayed_total",
			Help: "Outbox entries relayed by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsRejected)
	prometheus.MustRegister(RoomsActive)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(FramesDelivered)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(ClientMessages)
	prometheus.MustRegister(PublishRequests)
	prometheus.MustRegister(OutboxPending)
	prometheus.MustRegister(OutboxRelayed)
	prometheus.MustRegister(NewProcessCollector())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
