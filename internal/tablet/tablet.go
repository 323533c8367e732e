package tablet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tabletdb/blobstore"
	"github.com/hupe1980/tabletdb/internal/cache"
	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/manifest"
	"github.com/hupe1980/tabletdb/internal/memrowset"
	"github.com/hupe1980/tabletdb/internal/resource"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

const (
	rowSetDir       = "rowsets/"
	openParallelism = 8
	scanParallelism = 8
)

func rowSetPath(id rowset.ID) string {
	return fmt.Sprintf("%s%06d.rs", rowSetDir, uint64(id))
}

// Tablet is a horizontal partition of a table: one mutable memrowset taking
// inserts, memrowsets being flushed, and immutable disk rowsets. A range index
// over all of them decides which rowsets a key or key range has to visit.
//
// Readers never block: they pin the current view. Writers serialize on mu and
// publish a rebuilt view whenever the rowset set changes.
type Tablet struct {
	mu        sync.Mutex // serializes inserts, deletes and view swaps
	flushMu   sync.Mutex
	compactMu sync.Mutex

	store         blobstore.BlobStore
	manifestBlobs blobstore.BlobStore
	manifests     *manifest.Store
	manifest      *manifest.Manifest // guarded by mu

	current atomic.Pointer[view]
	// owned holds the tablet's own reference on every live disk rowset.
	owned map[rowset.ID]*diskrowset.RowSet // guarded by mu

	logger  *slog.Logger
	metrics MetricsObserver

	rc             *resource.Controller
	blockCache     cache.BlockCache
	blockCacheSize int64

	flushConfig      FlushConfig
	compactionConfig CompactionConfig

	flushCh chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
	closing atomic.Bool
	closed  atomic.Bool
}

// Open opens the tablet stored in store, creating it if no manifest exists.
func Open(ctx context.Context, store blobstore.BlobStore, opts ...Option) (*Tablet, error) {
	t := &Tablet{
		store:   store,
		logger:  slog.New(slog.DiscardHandler),
		metrics: NoopMetricsObserver{},
		owned:   make(map[rowset.ID]*diskrowset.RowSet),
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.manifestBlobs == nil {
		t.manifestBlobs = store
	}
	if t.flushConfig.MaxMemRowSetSize == 0 {
		t.flushConfig.MaxMemRowSetSize = defaultMaxMemRowSetSize
	}
	if t.blockCache == nil && t.blockCacheSize > 0 {
		t.blockCache = cache.NewShardedLRUBlockCache(t.blockCacheSize, t.rc)
	}
	t.manifests = manifest.NewStore(t.manifestBlobs)

	m, err := t.manifests.Load(ctx)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = manifest.New()
		if err := t.manifests.Save(ctx, m); err != nil {
			return nil, fmt.Errorf("tablet: create manifest: %w", err)
		}
		t.logger.Info("Tablet created", "tablet", m.TabletID)
	case err != nil:
		return nil, fmt.Errorf("tablet: load manifest: %w", err)
	}
	t.manifest = m

	disk, err := t.openRowSets(ctx, m.RowSets)
	if err != nil {
		return nil, err
	}

	active := memrowset.New(t.manifest.AllocateRowSetID())
	v, err := t.buildView(active, nil, disk)
	if err != nil {
		for _, d := range disk {
			d.DecRef()
		}
		return nil, err
	}
	for _, d := range disk {
		t.owned[d.ID()] = d
	}
	t.current.Store(v)

	t.removeOrphans(ctx)

	t.logger.Info("Tablet opened", "tablet", m.TabletID, "manifest", m.ID, "rowsets", len(disk))

	t.wg.Add(1)
	go t.runFlushLoop()

	return t, nil
}

func (t *Tablet) openRowSets(ctx context.Context, infos []manifest.RowSetInfo) ([]*diskrowset.RowSet, error) {
	disk := make([]*diskrowset.RowSet, len(infos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openParallelism)
	for i, info := range infos {
		g.Go(func() error {
			d, err := diskrowset.Open(gctx, t.store, info.Path, info.ID, diskrowset.Options{Cache: t.blockCache})
			if err != nil {
				return fmt.Errorf("tablet: open %s: %w", info.ID, err)
			}
			minKey, maxKey, _ := d.GetBounds()
			if !bytes.Equal(minKey, info.MinKey) || !bytes.Equal(maxKey, info.MaxKey) {
				t.logger.Warn("Rowset bounds differ from manifest", "rowset", info.ID, "path", info.Path)
			}
			disk[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, d := range disk {
			if d != nil {
				d.DecRef()
			}
		}
		return nil, err
	}
	return disk, nil
}

// removeOrphans deletes rowset files no manifest entry refers to, left behind
// by a flush or compaction that failed before its manifest was saved.
func (t *Tablet) removeOrphans(ctx context.Context) {
	names, err := t.store.List(ctx, rowSetDir)
	if err != nil {
		t.logger.Warn("Listing rowset files failed", "error", err)
		return
	}
	live := make(map[string]struct{}, 2*len(t.manifest.RowSets))
	for _, info := range t.manifest.RowSets {
		live[info.Path] = struct{}{}
		live[diskrowset.DeltaName(info.Path)] = struct{}{}
	}
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if err := t.store.Delete(ctx, name); err != nil {
			t.logger.Warn("Removing orphaned file failed", "file", name, "error", err)
			continue
		}
		t.logger.Info("Removed orphaned file", "file", name)
	}
}

// buildView builds a view and reports the rebuild. A bounds failure is logged
// and returned; the published view is left untouched.
func (t *Tablet) buildView(active *memrowset.MemRowSet, frozen []*memrowset.MemRowSet, disk []*diskrowset.RowSet) (*view, error) {
	start := time.Now()
	v, err := newView(active, frozen, disk)
	n := 1 + len(frozen) + len(disk)
	t.metrics.OnIndexRebuild(time.Since(start), n, err)
	if err != nil {
		t.logger.Warn("Rowset index rebuild failed", "rowsets", n, "error", err)
		return nil, fmt.Errorf("tablet: rebuild rowset index: %w", err)
	}
	return v, nil
}

// Insert adds a new row. It returns ErrKeyExists if key is already present in any rowset.
func (t *Tablet) Insert(ctx context.Context, key, value []byte) (err error) {
	start := time.Now()
	defer func() { t.metrics.OnInsert(time.Since(start), err) }()

	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		return ErrClosed
	}
	v := t.current.Load()

	for _, rs := range v.tree.FindRowSetsWithKeyInRange(key, nil) {
		ok, err := rs.Contains(ctx, key)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("tablet: check %s: %w", rs, err)
		}
		if ok {
			t.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrKeyExists, key)
		}
	}

	if err := v.active.Insert(key, value); err != nil {
		t.mu.Unlock()
		return err
	}
	size := v.active.Size()
	t.mu.Unlock()

	if limit := t.flushConfig.MaxMemRowSetSize; limit > 0 && size >= limit {
		t.triggerFlush()
	}
	return nil
}

// Get returns the value of key, or ErrNotFound.
func (t *Tablet) Get(ctx context.Context, key []byte) (value []byte, err error) {
	start := time.Now()
	var candidates []rowset.RowSet
	defer func() { t.metrics.OnGet(time.Since(start), len(candidates), err) }()

	v, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer v.release()

	candidates = v.tree.FindRowSetsWithKeyInRange(key, nil)
	for _, rs := range candidates {
		val, err := rs.Get(ctx, key)
		if err == nil {
			return bytes.Clone(val), nil
		}
		if !errors.Is(err, rowset.ErrNotFound) {
			return nil, fmt.Errorf("tablet: get from %s: %w", rs, err)
		}
	}
	return nil, ErrNotFound
}

// Delete removes key, or returns ErrNotFound.
func (t *Tablet) Delete(ctx context.Context, key []byte) (err error) {
	start := time.Now()
	defer func() { t.metrics.OnDelete(time.Since(start), err) }()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing.Load() {
		return ErrClosed
	}
	v := t.current.Load()

	for _, rs := range v.tree.FindRowSetsWithKeyInRange(key, nil) {
		err := rs.Delete(ctx, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, rowset.ErrNotFound) {
			return fmt.Errorf("tablet: delete from %s: %w", rs, err)
		}
	}
	return ErrNotFound
}

var errLimitReached = errors.New("limit reached")

// Scan returns the rows with lower <= key <= upper in ascending key order.
// A nil bound is open. limit <= 0 means no limit. An inverted range is empty.
func (t *Tablet) Scan(ctx context.Context, lower, upper []byte, limit int) (rows []rowset.Row, err error) {
	start := time.Now()
	var candidates []rowset.RowSet
	defer func() { t.metrics.OnScan(time.Since(start), len(candidates), len(rows), err) }()

	if lower != nil && upper != nil && bytes.Compare(lower, upper) > 0 {
		return nil, nil
	}

	v, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer v.release()

	candidates = v.candidates(lower, upper)

	parts := make([][]rowset.Row, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)
	for i, rs := range candidates {
		g.Go(func() error {
			err := rs.Scan(gctx, lower, upper, func(r rowset.Row) error {
				parts[i] = append(parts[i], rowset.Row{Key: bytes.Clone(r.Key), Value: bytes.Clone(r.Value)})
				if limit > 0 && len(parts[i]) >= limit {
					return errLimitReached
				}
				return nil
			})
			if err != nil && !errors.Is(err, errLimitReached) {
				return fmt.Errorf("tablet: scan %s: %w", rs, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows = mergeRows(parts, limit)
	return rows, nil
}

// candidates returns the rowsets that may hold keys in [lower, upper]. An open
// upper bound is closed at the largest key of any bounded rowset.
func (v *view) candidates(lower, upper []byte) []rowset.RowSet {
	if upper == nil {
		eps := v.tree.KeyEndpoints()
		if len(eps) == 0 {
			return slices.Clone(v.tree.UnboundedRowSets())
		}
		upper = eps[len(eps)-1].Key
		if lower != nil && bytes.Compare(lower, upper) > 0 {
			return slices.Clone(v.tree.UnboundedRowSets())
		}
	}
	return v.tree.FindRowSetsIntersectingInterval(lower, upper, nil)
}

// mergeRows merges key-sorted runs. Live keys are unique across rowsets.
func mergeRows(parts [][]rowset.Row, limit int) []rowset.Row {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]rowset.Row, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	slices.SortFunc(out, func(a, b rowset.Row) int {
		return bytes.Compare(a.Key, b.Key)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return slices.Clip(out)
}

// Close flushes the active memrowset, persists deletes and releases all rowsets.
func (t *Tablet) Close(ctx context.Context) error {
	if !t.closing.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(t.closeCh)
	t.wg.Wait()

	var errs []error
	if err := t.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tablet: final flush: %w", err))
	}
	if err := t.persistDeltas(ctx); err != nil {
		errs = append(errs, err)
	}

	t.mu.Lock()
	t.closed.Store(true)
	if v := t.current.Swap(nil); v != nil {
		v.release()
	}
	for id, d := range t.owned {
		d.DecRef()
		delete(t.owned, id)
	}
	t.mu.Unlock()

	t.logger.Info("Tablet closed", "tablet", t.manifest.TabletID)
	return errors.Join(errs...)
}

// persistDeltas saves the delete bitmaps of all disk rowsets with new deletes.
func (t *Tablet) persistDeltas(ctx context.Context) error {
	v, err := t.acquire()
	if err != nil {
		return err
	}
	defer v.release()

	var errs []error
	for _, d := range v.disk {
		if err := d.SaveDeltas(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tablet: save deltas of %s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tablet) triggerFlush() {
	select {
	case t.flushCh <- struct{}{}:
	default:
	}
}

func (t *Tablet) runFlushLoop() {
	defer t.wg.Done()

	var tick <-chan time.Time
	if t.flushConfig.Interval > 0 {
		ticker := time.NewTicker(t.flushConfig.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-t.closeCh
		cancel()
	}()

	for {
		select {
		case <-t.closeCh:
			return
		case <-t.flushCh:
		case <-tick:
		}
		if err := t.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error("Background flush failed", "error", err)
		}
	}
}

// TabletID returns the tablet's identity.
func (t *Tablet) TabletID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manifest.TabletID.String()
}

// ManifestID returns the version of the last saved manifest.
func (t *Tablet) ManifestID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manifest.ID
}
