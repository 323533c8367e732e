// Package prometheus exports tablet metrics through prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/tabletdb"
)

var _ tabletdb.MetricsObserver = (*Observer)(nil)

// Observer implements tabletdb.MetricsObserver with Prometheus collectors.
type Observer struct {
	opLatency     *prometheus.HistogramVec
	candidates    *prometheus.HistogramVec
	scannedRows   prometheus.Counter
	flushes       *prometheus.CounterVec
	flushedRows   prometheus.Counter
	flushedBytes  prometheus.Counter
	compactions   *prometheus.CounterVec
	compactedRows prometheus.Counter
	rebuilds      *prometheus.CounterVec
	rebuildSize   prometheus.Histogram
}

// NewObserver creates an Observer and registers its collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabletdb_operation_latency_seconds",
			Help:    "Latency of tablet operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		candidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabletdb_candidate_rowsets",
			Help:    "Rowsets returned by the range index per query",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"op"}),
		scannedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletdb_scanned_rows_total",
			Help: "Rows returned by scans",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletdb_flushes_total",
			Help: "Memrowset flushes",
		}, []string{"status"}),
		flushedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletdb_flushed_rows_total",
			Help: "Rows written by flushes",
		}),
		flushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletdb_flushed_bytes_total",
			Help: "Bytes written by flushes",
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletdb_compactions_total",
			Help: "Rowset compactions",
		}, []string{"status"}),
		compactedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletdb_compacted_rows_total",
			Help: "Rows written by compactions",
		}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletdb_index_rebuilds_total",
			Help: "Range index rebuilds",
		}, []string{"status"}),
		rebuildSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabletdb_index_rowsets",
			Help:    "Rowsets per rebuilt range index",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	reg.MustRegister(
		o.opLatency,
		o.candidates,
		o.scannedRows,
		o.flushes,
		o.flushedRows,
		o.flushedBytes,
		o.compactions,
		o.compactedRows,
		o.rebuilds,
		o.rebuildSize,
	)
	return o
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) OnInsert(d time.Duration, err error) {
	o.opLatency.WithLabelValues("insert", status(err)).Observe(d.Seconds())
}

func (o *Observer) OnGet(d time.Duration, candidates int, err error) {
	o.opLatency.WithLabelValues("get", status(err)).Observe(d.Seconds())
	o.candidates.WithLabelValues("get").Observe(float64(candidates))
}

func (o *Observer) OnScan(d time.Duration, candidates int, rows int, err error) {
	o.opLatency.WithLabelValues("scan", status(err)).Observe(d.Seconds())
	o.candidates.WithLabelValues("scan").Observe(float64(candidates))
	o.scannedRows.Add(float64(rows))
}

func (o *Observer) OnDelete(d time.Duration, err error) {
	o.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
}

func (o *Observer) OnFlush(d time.Duration, rows int, bytes int64, err error) {
	o.opLatency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	o.flushes.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.flushedRows.Add(float64(rows))
		o.flushedBytes.Add(float64(bytes))
	}
}

func (o *Observer) OnCompaction(d time.Duration, _ int, outputRows int, err error) {
	o.opLatency.WithLabelValues("compaction", status(err)).Observe(d.Seconds())
	o.compactions.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.compactedRows.Add(float64(outputRows))
	}
}

func (o *Observer) OnIndexRebuild(_ time.Duration, rowsets int, err error) {
	o.rebuilds.WithLabelValues(status(err)).Inc()
	if err == nil {
		o.rebuildSize.Observe(float64(rowsets))
	}
}
