package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(DownloadEvents, ProcedureOutcomes, QueueLength, PendingDeletes, ActivationConflicts)

	DownloadEvents.WithLabelValues("Complete").Inc()
	ProcedureOutcomes.WithLabelValues("install_mod", "complete").Add(2)
	QueueLength.Set(3)
	PendingDeletes.Set(1)

	expectedEvents := `# HELP modlib_download_events_total Count of transport events processed by the download queue.
# TYPE modlib_download_events_total counter
modlib_download_events_total{type="Complete"} 1
`
	if err := testutil.CollectAndCompare(DownloadEvents, strings.NewReader(expectedEvents)); err != nil {
		t.Fatalf("unexpected events metric: %v", err)
	}

	expectedOutcomes := `# HELP modlib_install_procedures_total Install procedures finished, by kind and result.
# TYPE modlib_install_procedures_total counter
modlib_install_procedures_total{kind="install_mod",result="complete"} 2
`
	if err := testutil.CollectAndCompare(ProcedureOutcomes, strings.NewReader(expectedOutcomes)); err != nil {
		t.Fatalf("unexpected outcomes metric: %v", err)
	}

	if got := testutil.ToFloat64(QueueLength); got != 3 {
		t.Fatalf("queue length = %v", got)
	}
	if got := testutil.ToFloat64(PendingDeletes); got != 1 {
		t.Fatalf("pending deletes = %v", got)
	}
}

func TestAria2LatencyHistogram(t *testing.T) {
	// fresh histogram to avoid cross-test contamination
	Aria2RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modlib",
			Name:      "aria2_rpc_latency_seconds",
			Help:      "Latency of aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	Aria2RPCLatency.WithLabelValues("aria2.tellStatus").Observe(0.25)
	Aria2RPCLatency.WithLabelValues("aria2.tellStatus").Observe(0.5)

	expected := `# HELP modlib_aria2_rpc_latency_seconds Latency of aria2 JSON-RPC calls.
# TYPE modlib_aria2_rpc_latency_seconds histogram
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.005"} 0
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.01"} 0
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.025"} 0
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.05"} 0
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.1"} 0
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.25"} 1
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="0.5"} 2
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="1"} 2
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="2.5"} 2
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="5"} 2
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="10"} 2
modlib_aria2_rpc_latency_seconds_bucket{method="aria2.tellStatus",le="+Inf"} 2
modlib_aria2_rpc_latency_seconds_sum{method="aria2.tellStatus"} 0.75
modlib_aria2_rpc_latency_seconds_count{method="aria2.tellStatus"} 2
`
	if err := testutil.CollectAndCompare(Aria2RPCLatency, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
