package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modlib",
			Name:      "download_events_total",
			Help:      "Count of transport events processed by the download queue.",
		},
		[]string{"type"},
	)

	ProcedureOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modlib",
			Name:      "install_procedures_total",
			Help:      "Install procedures finished, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modlib",
			Name:      "download_queue_length",
			Help:      "Requests currently held by the download queue.",
		},
	)

	PendingDeletes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modlib",
			Name:      "library_pending_deletes",
			Help:      "Files waiting for a deletion retry.",
		},
	)

	ActivationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modlib",
			Name:      "activation_conflicts_total",
			Help:      "Activation requests refused because of a forbids conflict.",
		},
	)

	Aria2RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modlib",
			Name:      "aria2_rpc_errors_total",
			Help:      "Errors from aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	Aria2RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modlib",
			Name:      "aria2_rpc_latency_seconds",
			Help:      "Latency of aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	ActiveTransfers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modlib",
			Name:      "aria2_active_transfers",
			Help:      "Number of jobs tracked by the aria2 transport.",
		},
	)

	registerOnce sync.Once
)

// Register registers the modlib metrics into the default registry. Repeat
// calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(DownloadEvents, ProcedureOutcomes, QueueLength, PendingDeletes,
			ActivationConflicts, Aria2RPCErrors, Aria2RPCLatency, ActiveTransfers)
	})
}
