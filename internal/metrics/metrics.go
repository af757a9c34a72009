// Package metrics exposes Prometheus counters for the journal poll loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "usnwatch"

var (
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total journal read batches by outcome.",
		},
		[]string{"outcome"},
	)
	RecordsDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Total journal records decoded.",
		},
	)
	RecordsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_malformed_total",
			Help:      "Total journal records skipped as malformed.",
		},
	)
	RenameEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rename_events_total",
			Help:      "Total correlated rename events emitted.",
		},
	)
	UnmatchedNewNames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_new_names_total",
			Help:      "Total RENAME_NEW_NAME records without a pending old-name leg.",
		},
	)
	PendingOldNames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_old_names",
			Help:      "Old-name legs currently awaiting their counterpart.",
		},
	)
	Resyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resyncs_total",
			Help:      "Total journal resynchronizations after truncation or ID change.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesTotal,
		RecordsDecoded,
		RecordsMalformed,
		RenameEvents,
		UnmatchedNewNames,
		PendingOldNames,
		Resyncs,
	)
}

// Serve exposes /metrics on addr in the background. The caller shuts the
// returned server down when the poll loop exits.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
