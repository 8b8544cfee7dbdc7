package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	QueryOutcomeOK       = "ok"
	QueryOutcomeRejected = "rejected"
	QueryOutcomeFailed   = "failed"
	QueryOutcomeNotReady = "not_ready"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckpad_queries_total",
			Help: "Total number of submitted queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckpad_query_duration_seconds",
			Help:    "Embedded engine query execution latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckpad_query_rows_returned",
			Help:    "Rows returned per successful query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	queriesTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckpad_queries_truncated_total",
			Help: "Total number of results cut off at the configured row limit.",
		},
	)
	engineConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckpad_engine_connected",
			Help: "1 when the embedded engine connection is established, 0 otherwise.",
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckpad_exports_total",
			Help: "Total number of parquet exports by destination.",
		},
		[]string{"destination"},
	)
	historyWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckpad_history_write_failures_total",
			Help: "Total number of query history entries that could not be recorded.",
		},
	)
	authDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckpad_auth_denials_total",
			Help: "Requests rejected by authentication or role checks, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		queryRowsReturned,
		queriesTruncatedTotal,
		engineConnected,
		exportsTotal,
		historyWriteFailuresTotal,
		authDenialsTotal,
	)
}

func ObserveQuery(outcome string, rows int, truncated bool, elapsed time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	if outcome != QueryOutcomeOK {
		return
	}
	queryDurationSeconds.Observe(elapsed.Seconds())
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		queriesTruncatedTotal.Inc()
	}
}

func SetEngineConnected(connected bool) {
	if connected {
		engineConnected.Set(1)
		return
	}
	engineConnected.Set(0)
}

func IncrementExport(destination string) {
	exportsTotal.WithLabelValues(destination).Inc()
}

func IncrementHistoryWriteFailure() {
	historyWriteFailuresTotal.Inc()
}

// IncrementAuthDenial counts a rejected request. reason is one of
// "missing_key", "invalid_key" or "forbidden".
func IncrementAuthDenial(reason string) {
	authDenialsTotal.WithLabelValues(reason).Inc()
}
