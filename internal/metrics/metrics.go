// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts datagrams handed to the ingest pipeline
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_frames_received_total",
			Help: "Total number of datagrams ingested",
		},
		[]string{"role"},
	)

	// FramesMalformedTotal counts datagrams whose payload did not decode
	FramesMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_frames_malformed_total",
			Help: "Total number of datagrams with an undecodable payload",
		},
		[]string{"role"},
	)

	// FramesMulticastTotal counts datagrams addressed to a multicast group
	FramesMulticastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_frames_multicast_total",
			Help: "Total number of ingested datagrams whose destination was a multicast address",
		},
		[]string{"role"},
	)

	// SourceTableExhaustedTotal counts decoded frames from sources the full table rejected
	SourceTableExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_source_table_exhausted_total",
			Help: "Total number of decoded frames from untracked sources because the source table was full",
		},
		[]string{"role"},
	)

	// GapMessagesTotal sums the estimated number of lost messages
	GapMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_gap_messages_total",
			Help: "Sum of per-frame loss estimates",
		},
		[]string{"role"},
	)

	// FirstSightingsTotal counts frames that allocated a source record
	FirstSightingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_first_sightings_total",
			Help: "Total number of frames that started tracking a new source",
		},
		[]string{"role"},
	)

	// TrackedSources tracks occupied source table slots
	TrackedSources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshtel_tracked_sources",
			Help: "Number of occupied source table slots",
		},
		[]string{"role"},
	)

	// TelemetryWriteErrorsTotal counts failed telemetry row writes by sink
	TelemetryWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_telemetry_write_errors_total",
			Help: "Total number of telemetry rows that failed to write",
		},
		[]string{"sink"},
	)

	// SensorSentTotal counts sensor transmissions by result
	SensorSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshtel_sensor_sent_total",
			Help: "Total number of sensor datagrams handed to the transport",
		},
		[]string{"result"},
	)

	// MeshReachable is 1 once the routing collaborator reports reachability
	MeshReachable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshtel_mesh_reachable",
			Help: "Whether the node has joined the mesh (0=waiting, 1=reachable)",
		},
	)
)

// Sensor send results
const (
	ResultOK    = "ok"
	ResultError = "error"
)
