// Package pebblestore wraps Pebble with the fsync policy, batch helpers,
// and prefix-scan primitives the queue engine is built on.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic multi-key updates
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
//	// Point ops
//	_ = db.Set([]byte("k2"), []byte("v2"))
//	v, _ := db.Get([]byte("k2"))
//
//	// Ordered prefix scans
//	err = db.ScanPrefix([]byte("mq/ow/"), func(k, v []byte) (bool, error) {
//	    return true, nil // continue
//	})
package pebblestore
