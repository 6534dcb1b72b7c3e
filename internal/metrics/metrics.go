// Package metrics exposes the relay's Prometheus gauges/counters and the
// /metrics and /healthz HTTP handlers via package-level
// prometheus.MustRegister registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContextsInUse tracks, per channel and slot class, how many of that
	// class's contexts are neither Available nor AckOnly.
	ContextsInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netfr_contexts_in_use",
		Help: "Number of slot pool contexts currently allocated, by channel and class",
	}, []string{"channel", "class"})

	// TxCredits mirrors the outstanding send allowance per channel.
	TxCredits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netfr_tx_credits",
		Help: "Current outstanding send credit balance per channel",
	}, []string{"channel"})

	// ContextAllocFailures counts Again returns from Pool.Alloc, by class.
	ContextAllocFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netfr_context_alloc_failures_total",
		Help: "Total slot pool allocation failures (pool exhausted) by channel and class",
	}, []string{"channel", "class"})

	// WritesTotal counts completed one-sided writes.
	WritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netfr_writes_total",
		Help: "Total completed one-sided buffer writes per channel",
	}, []string{"channel"})

	// WriteBytesTotal sums the payload bytes moved by completed writes.
	WriteBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netfr_write_bytes_total",
		Help: "Total bytes moved by completed one-sided writes per channel",
	}, []string{"channel"})

	// RegionState snapshots a region's lifecycle state as a numeric gauge
	// (see region.State) indexed by channel and region index.
	RegionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netfr_region_state",
		Help: "Current lifecycle state of a memory region (numeric encoding) by channel and index",
	}, []string{"channel", "index"})

	// RemoteEntryState snapshots a host's remote memory entry state.
	RemoteEntryState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netfr_remote_entry_state",
		Help: "Current lifecycle state of a remote memory entry (numeric encoding) by channel and index",
	}, []string{"channel", "index"})

	// SerialWraps counts msgSerial/writeSerial/channelSerial wraparounds observed.
	SerialWraps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netfr_serial_wraps_total",
		Help: "Total serial counter wraparounds by channel and kind (msg, write, channel)",
	}, []string{"channel", "kind"})

	// BadMessages counts dropped/malformed inbound messages.
	BadMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netfr_bad_messages_total",
		Help: "Total malformed or unexpected inbound messages by channel and reason",
	}, []string{"channel", "reason"})

	// ConnectionState mirrors channel.ConnState as a numeric gauge.
	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netfr_connection_state",
		Help: "Current connection state machine value (numeric encoding) per channel",
	}, []string{"channel"})

	// ProcessRSSBytes and ProcessCPUPercent are filled in by internal/sysmon.
	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netfr_process_rss_bytes",
		Help: "Resident set size of this process in bytes",
	})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netfr_process_cpu_percent",
		Help: "CPU usage percentage of this process, sampled over the last interval",
	})
)

func init() {
	prometheus.MustRegister(
		ContextsInUse,
		TxCredits,
		ContextAllocFailures,
		WritesTotal,
		WriteBytesTotal,
		RegionState,
		RemoteEntryState,
		SerialWraps,
		BadMessages,
		ConnectionState,
		ProcessRSSBytes,
		ProcessCPUPercent,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHealthz responds 200 OK once the process is up; it carries no
// dependency checks because the relay has no external dependencies to
// probe (the fabric connection state is visible via netfr_connection_state
// instead of gating liveness).
func ServeHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ListenAndServe starts the metrics HTTP server on addr. Intended to run in
// its own goroutine from main; returns only on listener failure or shutdown.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", ServeHealthz)
	return http.ListenAndServe(addr, mux)
}
