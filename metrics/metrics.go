package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for gridsync metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for mirror sync engine metrics.
var (
	RowsScannedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsync_rows_scanned_total",
		Help: "Cumulative number of source rows scanned, by flow.",
	}, []string{"flow"})
	RowsAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsync_rows_appended_total",
		Help: "Cumulative number of rows appended to the destination, by flow.",
	}, []string{"flow"})
	RowsSkippedInvalidTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsync_rows_skipped_invalid_total",
		Help: "Cumulative number of rows skipped for missing required fields, by flow.",
	}, []string{"flow"})
	BatchAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridsync_batch_appends_total",
		Help: "Cumulative number of destination batch appends.",
	})
	UnitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsync_units_total",
		Help: "Cumulative number of processed (source, flow) units, by status.",
	}, []string{"status"})
	PageReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridsync_page_reads_total",
		Help: "Cumulative number of source page reads.",
	})
	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridsync_retries_total",
		Help: "Cumulative number of remote-call retries, by operation.",
	}, []string{"op"})
)

// Register all collectors with the given registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		RowsScannedTotal,
		RowsAppendedTotal,
		RowsSkippedInvalidTotal,
		BatchAppendsTotal,
		UnitsTotal,
		PageReadsTotal,
		RetriesTotal,
	)
}
