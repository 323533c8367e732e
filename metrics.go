package tabletdb

import "github.com/hupe1980/tabletdb/internal/tablet"

// MetricsObserver receives an event for every tablet operation, flush,
// compaction and range index rebuild.
//
// Implementations must be safe for concurrent use. See metrics/prometheus for
// a Prometheus exporter.
type MetricsObserver = tablet.MetricsObserver

// NoopMetricsObserver discards all events.
type NoopMetricsObserver = tablet.NoopMetricsObserver

// BasicMetricsObserver counts events with atomic counters.
//
// Example:
//
//	metrics := &tabletdb.BasicMetricsObserver{}
//	db, _ := tabletdb.Open(ctx, "./data", tabletdb.WithMetricsObserver(metrics))
//	// ... use db ...
//	fmt.Printf("Gets: %d, avg candidates: %.2f\n",
//	    metrics.Gets.Load(), float64(metrics.GetCandidates.Load())/float64(metrics.Gets.Load()))
type BasicMetricsObserver = tablet.BasicMetricsObserver
