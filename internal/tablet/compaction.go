package tablet

import (
	"bytes"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tabletdb/internal/diskrowset"
	"github.com/hupe1980/tabletdb/internal/manifest"
	"github.com/hupe1980/tabletdb/internal/rowset"
)

// Compact merges the disk rowsets ids into one, dropping deleted rows.
// Choosing which rowsets to compact is up to the caller.
func (t *Tablet) Compact(ctx context.Context, ids []rowset.ID) (err error) {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no rowsets to compact", ErrInvalidArgument)
	}

	t.compactMu.Lock()
	defer t.compactMu.Unlock()

	start := time.Now()
	var outRows int
	defer func() { t.metrics.OnCompaction(time.Since(start), len(ids), outRows, err) }()

	if err := t.rc.AcquireJob(ctx); err != nil {
		return err
	}
	defer t.rc.ReleaseJob()

	v, err := t.acquire()
	if err != nil {
		return err
	}
	defer v.release()

	var inputs []*diskrowset.RowSet
	for _, id := range ids {
		d := v.findDisk(id)
		if d == nil {
			return fmt.Errorf("%w: %s", ErrRowSetNotFound, id)
		}
		if !slices.Contains(inputs, d) {
			inputs = append(inputs, d)
		}
	}

	snaps := make([]*roaring.Bitmap, len(inputs))
	var inRows int
	for i, in := range inputs {
		snaps[i] = in.DeletedSnapshot()
		inRows += in.Len()
	}

	t.mu.Lock()
	outID := t.manifest.AllocateRowSetID()
	t.mu.Unlock()

	t.logger.Info("Compaction started", "rowsets", len(inputs), "rows", inRows, "output", outID)

	path := rowSetPath(outID)
	opts := diskrowset.WriterOptions{BlockSize: t.compactionConfig.BlockSize, Compression: t.compactionConfig.Compression}
	info, err := diskrowset.Build(ctx, t.store, path, opts, t.rc, func(w *diskrowset.Writer) error {
		return mergeRowSets(ctx, inputs, snaps, w.Add)
	})
	empty := errors.Is(err, diskrowset.ErrEmpty)
	if err != nil && !empty {
		return fmt.Errorf("tablet: compact: %w", err)
	}

	var out *diskrowset.RowSet
	if !empty {
		out, err = diskrowset.Open(ctx, t.store, path, outID, diskrowset.Options{Cache: t.blockCache})
		if err != nil {
			t.removeFiles(path)
			return fmt.Errorf("tablet: compact: %w", err)
		}
	}
	discard := func() {
		if out != nil {
			out.DecRef()
			t.removeFiles(path)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if out != nil {
		if err := replayDeletes(ctx, inputs, snaps, out); err != nil {
			discard()
			return err
		}
	}

	cur := t.current.Load()
	disk := slices.DeleteFunc(slices.Clone(cur.disk), func(d *diskrowset.RowSet) bool {
		return slices.Contains(inputs, d)
	})
	if out != nil {
		disk = append(disk, out)
	}

	nv, err := t.buildView(cur.active, cur.frozen, disk)
	if err != nil {
		discard()
		return err
	}

	nm := t.manifest.Clone()
	nm.RowSets = slices.DeleteFunc(nm.RowSets, func(info manifest.RowSetInfo) bool {
		return slices.Contains(ids, info.ID)
	})
	if out != nil {
		nm.RowSets = append(nm.RowSets, manifest.RowSetInfo{
			ID:     outID,
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

	if out != nil {
		t.owned[outID] = out
		outRows = out.Len()
	}
	t.publish(nv)

	// Inputs disappear once the last reader lets go of them.
	for _, in := range inputs {
		p := in.Name()
		in.SetOnClose(func() { t.removeFiles(p) })
		delete(t.owned, in.ID())
		in.DecRef()
	}

	if out != nil {
		if err := out.SaveDeltas(ctx); err != nil {
			t.logger.Warn("Saving deltas failed", "rowset", outID, "error", err)
		}
	}

	t.logger.Info("Compaction completed", "rowsets", len(inputs), "output", outID,
		"rows", outRows, "manifest", nm.ID, "duration", time.Since(start))
	return nil
}

// replayDeletes carries deletes that hit the inputs during the merge over to out.
func replayDeletes(ctx context.Context, inputs []*diskrowset.RowSet, snaps []*roaring.Bitmap, out *diskrowset.RowSet) error {
	for i, in := range inputs {
		added := in.DeletedSnapshot()
		added.AndNot(snaps[i])

		it := added.Iterator()
		for it.HasNext() {
			key, err := in.KeyAt(ctx, it.Next())
			if err != nil {
				return fmt.Errorf("tablet: replay delete from %s: %w", in, err)
			}
			if err := out.Delete(ctx, key); err != nil && !errors.Is(err, rowset.ErrNotFound) {
				return fmt.Errorf("tablet: replay delete on %s: %w", out, err)
			}
		}
	}
	return nil
}

// mergeRowSets feeds the live rows of all inputs to add in ascending key order.
func mergeRowSets(ctx context.Context, inputs []*diskrowset.RowSet, snaps []*roaring.Bitmap, add func(key, value []byte) error) error {
	h := make(iterHeap, 0, len(inputs))
	for i, in := range inputs {
		it := in.NewIterator(snaps[i])
		if it.Next(ctx) {
			h = append(h, it)
		} else if err := it.Err(); err != nil {
			return err
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		it := h[0]
		if err := add(it.Key(), it.Value()); err != nil {
			return err
		}
		if it.Next(ctx) {
			heap.Fix(&h, 0)
			continue
		}
		if err := it.Err(); err != nil {
			return err
		}
		heap.Pop(&h)
	}
	return nil
}

type iterHeap []*diskrowset.Iterator

func (h iterHeap) Len() int           { return len(h) }
func (h iterHeap) Less(i, j int) bool { return bytes.Compare(h[i].Key(), h[j].Key()) < 0 }
func (h iterHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *iterHeap) Push(x any)        { *h = append(*h, x.(*diskrowset.Iterator)) }
func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
