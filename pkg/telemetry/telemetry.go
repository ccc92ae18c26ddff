// Package telemetry holds the engine's Prometheus instrumentation. Both
// binaries expose these via promhttp; library packages only increment.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts emitted chat operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_operations_total",
		Help: "Chat operations emitted by the message store, by kind.",
	}, []string{"kind"})

	// PersistFaultsTotal counts mutations aborted by a storage fault.
	PersistFaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_persist_faults_total",
		Help: "Message store mutations aborted by a persistence fault.",
	})

	// SendsTotal counts outgoing sends by result (ok|error).
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_sends_total",
		Help: "Outgoing message sends, by result.",
	}, []string{"result"})

	// UploadsTotal counts attachment uploads by result (ok|error).
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_uploads_total",
		Help: "Attachment blob uploads, by result.",
	}, []string{"result"})

	// RealtimeEventsTotal counts inbound realtime events by kind, including
	// unknown kinds that were ignored.
	RealtimeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_realtime_events_total",
		Help: "Inbound realtime events, by kind.",
	}, []string{"kind"})

	// RetentionPurgedTotal counts messages purged by local retention.
	RetentionPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_retention_purged_total",
		Help: "Messages removed by the local retention schedule.",
	})
)
