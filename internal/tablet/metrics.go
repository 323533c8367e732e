package tablet

import (
	"sync/atomic"
	"time"
)

// MetricsObserver defines the interface for observing tablet events.
type MetricsObserver interface {
	// OnInsert is called after each insert.
	OnInsert(duration time.Duration, err error)

	// OnGet is called after each point lookup. candidates is the number of
	// rowsets the range index returned for the key.
	OnGet(duration time.Duration, candidates int, err error)

	// OnScan is called after each range scan.
	OnScan(duration time.Duration, candidates int, rows int, err error)

	// OnDelete is called after each delete.
	OnDelete(duration time.Duration, err error)

	// OnFlush is called when a flush of one frozen memrowset completes.
	OnFlush(duration time.Duration, rows int, bytes int64, err error)

	// OnCompaction is called when a compaction completes.
	OnCompaction(duration time.Duration, inputRowSets int, outputRows int, err error)

	// OnIndexRebuild is called whenever a new range index is built.
	OnIndexRebuild(duration time.Duration, rowsets int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnInsert(time.Duration, error)               {}
func (NoopMetricsObserver) OnGet(time.Duration, int, error)             {}
func (NoopMetricsObserver) OnScan(time.Duration, int, int, error)       {}
func (NoopMetricsObserver) OnDelete(time.Duration, error)               {}
func (NoopMetricsObserver) OnFlush(time.Duration, int, int64, error)    {}
func (NoopMetricsObserver) OnCompaction(time.Duration, int, int, error) {}
func (NoopMetricsObserver) OnIndexRebuild(time.Duration, int, error)    {}

// BasicMetricsObserver counts events in memory.
type BasicMetricsObserver struct {
	Inserts            atomic.Int64
	InsertErrors       atomic.Int64
	Gets               atomic.Int64
	GetErrors          atomic.Int64
	GetCandidates      atomic.Int64
	Scans              atomic.Int64
	ScanErrors         atomic.Int64
	ScanCandidates     atomic.Int64
	ScannedRows        atomic.Int64
	Deletes            atomic.Int64
	DeleteErrors       atomic.Int64
	Flushes            atomic.Int64
	FlushErrors        atomic.Int64
	FlushedRows        atomic.Int64
	FlushedBytes       atomic.Int64
	Compactions        atomic.Int64
	CompactionErrors   atomic.Int64
	CompactedRows      atomic.Int64
	IndexRebuilds      atomic.Int64
	IndexRebuildErrors atomic.Int64
}

func countErr(c *atomic.Int64, err error) {
	if err != nil {
		c.Add(1)
	}
}

func (b *BasicMetricsObserver) OnInsert(_ time.Duration, err error) {
	b.Inserts.Add(1)
	countErr(&b.InsertErrors, err)
}

func (b *BasicMetricsObserver) OnGet(_ time.Duration, candidates int, err error) {
	b.Gets.Add(1)
	b.GetCandidates.Add(int64(candidates))
	countErr(&b.GetErrors, err)
}

func (b *BasicMetricsObserver) OnScan(_ time.Duration, candidates int, rows int, err error) {
	b.Scans.Add(1)
	b.ScanCandidates.Add(int64(candidates))
	b.ScannedRows.Add(int64(rows))
	countErr(&b.ScanErrors, err)
}

func (b *BasicMetricsObserver) OnDelete(_ time.Duration, err error) {
	b.Deletes.Add(1)
	countErr(&b.DeleteErrors, err)
}

func (b *BasicMetricsObserver) OnFlush(_ time.Duration, rows int, bytes int64, err error) {
	b.Flushes.Add(1)
	b.FlushedRows.Add(int64(rows))
	b.FlushedBytes.Add(bytes)
	countErr(&b.FlushErrors, err)
}

func (b *BasicMetricsObserver) OnCompaction(_ time.Duration, _ int, outputRows int, err error) {
	b.Compactions.Add(1)
	b.CompactedRows.Add(int64(outputRows))
	countErr(&b.CompactionErrors, err)
}

func (b *BasicMetricsObserver) OnIndexRebuild(_ time.Duration, _ int, err error) {
	b.IndexRebuilds.Add(1)
	countErr(&b.IndexRebuildErrors, err)
}
