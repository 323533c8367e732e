// Package tabletdb provides an embedded sorted key/value store built on a
// tablet of rowsets.
//
// Writes go to an in-memory memrowset. Once it grows past the flush threshold
// it is frozen and written to an immutable disk rowset. Compaction merges disk
// rowsets and drops deleted rows. A range index over the key bounds of all
// rowsets decides which rowsets a lookup or a scan has to read, so the cost of a
// query depends on how many rowsets overlap its key range and not on how many
// rowsets exist.
//
// # Quick Start
//
// Local mode:
//
//	ctx := context.Background()
//	db, _ := tabletdb.Open(ctx, "./data")
//	defer db.Close(ctx)
//
//	_ = db.Insert(ctx, []byte("user/42"), []byte(`{"name":"ada"}`))
//	v, _ := db.Get(ctx, []byte("user/42"))
//	rows, _ := db.Scan(ctx, []byte("user/"), []byte("user/~"), 100)
//
// Cloud mode:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("tablets/t1/"))
//	db, _ := tabletdb.OpenRemote(ctx, store)
//
// # Durability Model
//
// There is no write-ahead log. Rows become durable when the memrowset holding
// them is flushed:
//
//	db.Insert(ctx, k, v)  // buffered in memory
//	db.Flush(ctx)         // durable after this
//
// Close flushes. Deletes of flushed rows are kept in per-rowset delete bitmaps
// and persisted on every flush.
//
// # Inspecting Overlap
//
// Stats reports the maximum and average number of disk rowsets covering a key.
// High values mean lookups touch many rowsets and compaction is due:
//
//	st, _ := db.Stats()
//	if st.MaxOverlapDepth > 4 {
//	    _ = db.CompactAll(ctx)
//	}
package tabletdb
