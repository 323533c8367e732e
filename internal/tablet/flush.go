package tablet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/manifest"
	"github.com/hupe1980/tabletdb/internal/memrowset"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

// Flush freezes the active memrowset and writes it, along with any memrowset
// left frozen by an earlier failed flush, to disk rowsets. Pending deletes on
// disk rowsets are persisted afterwards.
func (t *Tablet) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	if err := t.rotate(); err != nil {
		return err
	}

	for {
		v, err := t.acquire()
		if err != nil {
			return err
		}
		if len(v.frozen) == 0 {
			v.release()
			return t.persistDeltas(ctx)
		}
		m := v.frozen[0]
		v.release()

		if err := t.flushMemRowSet(ctx, m); err != nil {
			return err
		}
	}
}

// rotate replaces a non-empty active memrowset with a fresh one and publishes
// the old one as frozen.
func (t *Tablet) rotate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := t.current.Load()
	if v == nil {
		return ErrClosed
	}
	if v.active.Len() == 0 {
		return nil
	}

	next := memrowset.New(t.manifest.AllocateRowSetID())
	frozen := append(slices.Clone(v.frozen), v.active)
	nv, err := t.buildView(next, frozen, v.disk)
	if err != nil {
		return err
	}

	v.active.Freeze()
	t.publish(nv)
	t.logger.Debug("MemRowSet rotated", "frozen", v.active.ID(), "active", next.ID())
	return nil
}

func (t *Tablet) flushMemRowSet(ctx context.Context, m *memrowset.MemRowSet) (err error) {
	start := time.Now()
	rows := m.Len()
	var size int64
	defer func() { t.metrics.OnFlush(time.Since(start), rows, size, err) }()

	if err := t.rc.AcquireJob(ctx); err != nil {
		return err
	}
	defer t.rc.ReleaseJob()

	t.logger.Info("Flush started", "rowset", m.ID(), "rows", rows)

	path := rowSetPath(m.ID())
	opts := diskrowset.WriterOptions{BlockSize: t.flushConfig.BlockSize, Compression: t.flushConfig.Compression}
	info, err := diskrowset.Build(ctx, t.store, path, opts, t.rc, func(w *diskrowset.Writer) error {
		return m.Scan(ctx, nil, nil, func(r rowset.Row) error {
			return w.Add(r.Key, r.Value)
		})
	})
	empty := errors.Is(err, diskrowset.ErrEmpty)
	if err != nil && !empty {
		return fmt.Errorf("tablet: flush %s: %w", m, err)
	}

	var d *diskrowset.RowSet
	if !empty {
		d, err = diskrowset.Open(ctx, t.store, path, m.ID(), diskrowset.Options{Cache: t.blockCache})
		if err != nil {
			t.removeFiles(path)
			return fmt.Errorf("tablet: flush %s: %w", m, err)
		}
	}
	discard := func() {
		if d != nil {
			d.DecRef()
			t.removeFiles(path)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if d != nil {
		// Deletes that reached the frozen memrowset after it was scanned.
		for _, key := range m.DeletedSinceFreeze() {
			if err := d.Delete(ctx, key); err != nil && !errors.Is(err, rowset.ErrNotFound) {
				discard()
				return fmt.Errorf("tablet: replay delete on %s: %w", d, err)
			}
		}
	}

	v := t.current.Load()
	frozen := slices.DeleteFunc(slices.Clone(v.frozen), func(x *memrowset.MemRowSet) bool { return x == m })
	disk := slices.Clone(v.disk)
	if d != nil {
		disk = append(disk, d)
	}

	nv, err := t.buildView(v.active, frozen, disk)
	if err != nil {
		discard()
		return err
	}

	nm := t.manifest.Clone()
	if d != nil {
		nm.RowSets = append(nm.RowSets, manifest.RowSetInfo{
			ID:     d.ID(),
			Path:   path,
			Rows:   info.Rows,
			Size:   info.Size,
			MinKey: info.MinKey,
			MaxKey: info.MaxKey,
		})
	}
	if err := t.manifests.Save(ctx, nm); err != nil {
		nv.release()
		discard()
		return fmt.Errorf("tablet: save manifest: %w", err)
	}
	t.manifest = nm

	if d != nil {
		t.owned[d.ID()] = d
	}
	t.publish(nv)

	if d != nil {
		if err := d.SaveDeltas(ctx); err != nil {
			t.logger.Warn("Saving deltas failed", "rowset", d.ID(), "error", err)
		}
		size = info.Size
	}

	t.logger.Info("Flush completed", "rowset", m.ID(), "rows", info.Rows, "bytes", info.Size,
		"manifest", nm.ID, "duration", time.Since(start))
	return nil
}

// removeFiles deletes the data and delta blobs of a rowset path.
func (t *Tablet) removeFiles(path string) {
	ctx := context.Background()
	for _, name := range []string{path, diskrowset.DeltaName(path)} {
		if err := t.store.Delete(ctx, name); err != nil {
			t.logger.Warn("Removing rowset file failed", "file", name, "error", err)
		}
	}
}
