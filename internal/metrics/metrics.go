// Package metrics exposes the channel broker's Prometheus instrumentation,
// modeled on the teacher's pkg/metrics/broker.go and pkg/metrics/cluster.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_events_produced_total",
			Help: "Total number of events assigned a sequence number by a producer",
		},
		[]string{"producer"},
	)

	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_events_delivered_total",
			Help: "Total number of events delivered in order to a consumer sink",
		},
		[]string{"consumer"},
	)

	HeartbeatsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_heartbeats_sent_total",
			Help: "Total number of heartbeats broadcast by a producer",
		},
		[]string{"producer"},
	)

	NacksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_nacks_received_total",
			Help: "Total number of NACKs a producer has processed",
		},
		[]string{"producer"},
	)

	RetransmitsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_retransmits_sent_total",
			Help: "Total number of events resent from a producer's buffer in response to a NACK",
		},
		[]string{"producer"},
	)

	RetransmitFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_retransmit_failed_total",
			Help: "Total number of retransmit-failed notifications sent because the buffer had already evicted the event",
		},
		[]string{"producer"},
	)

	ProducerBufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channel_producer_buffer_depth",
			Help: "Current number of unacknowledged events held in a producer's retransmission buffer",
		},
		[]string{"producer"},
	)

	PathAckLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channel_path_ack_lag",
			Help: "Difference between a producer's current sequence number and a path's acknowledged sequence number",
		},
		[]string{"producer", "consumer"},
	)

	// RaftTelemetry re-exports internal/replog's armon/go-metrics telemetry
	// (apply latency, FSM apply counts, commit time) under the Prometheus
	// registry, since raft itself only speaks the go-metrics Sink interface.
	RaftTelemetry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channel_raft_telemetry",
			Help: "Gauge and counter samples bridged from raft's go-metrics telemetry",
		},
		[]string{"metric"},
	)

	Collectors = []prometheus.Collector{
		EventsProduced,
		EventsDelivered,
		HeartbeatsSent,
		NacksReceived,
		RetransmitsSent,
		RetransmitFailedTotal,
		ProducerBufferDepth,
		PathAckLag,
		RaftTelemetry,
	}
)

// MustRegister registers every channel broker collector against reg.
func MustRegister(reg *prometheus.Registry) {
	for _, c := range Collectors {
		reg.MustRegister(c)
	}
}
