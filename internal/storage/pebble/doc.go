// Package pebblestore is the durable key-value store behind the pebble
// storage backend. It applies one fsync policy to every commit, exposes
// prefix scans and range deletes for namespace purges, and reports
// latencies through an optional MetricsHook.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Update(ctx, func(b pebblestore.Batch) error {
//	    if err := b.Set([]byte("k1"), []byte("v1")); err != nil {
//	        return err
//	    }
//	    return b.Delete([]byte("k0"))
//	})
//	_ = db.DeletePrefix(ctx, []byte("mprtcl-v4_wt1/"))
package pebblestore
