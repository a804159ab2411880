// Package snapfs implements the snapshot and subvolume layer of a
// copy-on-write B-tree filesystem: a persisted forest of snapshot
// nodes tagging every key in the snapshot-aware keyed stores, cheap
// branching and deletion of subvolumes, and a background garbage
// collector that reclaims storage from dead branches while the
// filesystem keeps serving reads and writes.
package snapfs

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"snapfs/internal/base"
	"snapfs/internal/gc"
	"snapfs/internal/keyed"
	"snapfs/internal/tree"
)

// SnapID identifies a node in the snapshot tree.
type SnapID = base.SnapID

// SubvolID identifies a subvolume.
type SubvolID = base.SubvolID

// FS is one mounted filesystem instance: the keyed stores, the derived
// snapshot index, the subvolume lookup cache, and the garbage
// collector. All methods are safe for concurrent use.
type FS struct {
	log   Logger
	db    *keyed.DB
	index *tree.Index
	gc    *gc.Collector

	// subvolCache avoids a transactional lookup on the hot
	// subvolume-to-snapshot path. Invalidated whenever the subvolume
	// record changes.
	subvolCache *freelru.SyncedLRU[uint32, uint32]

	// inconsistent is sticky: once a structural defect is observed,
	// every subsequent operation fails until the tree is repaired.
	inconsistent atomic.Bool
	closed       atomic.Bool
}

// Open mounts a fresh filesystem instance: it rebuilds the derived
// index from the persisted snapshot tree, resolves equivalence classes
// once, and if any node is found already marked deleted, restarts the
// garbage collector to catch up after an unclean shutdown.
func Open(options ...Option) (*FS, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return open(keyed.NewDB(opts.txRetries), opts)
}

func open(db *keyed.DB, opts Options) (*FS, error) {
	cache, err := freelru.NewSynced[uint32, uint32](uint32(opts.subvolCacheSize), hashSubvolID)
	if err != nil {
		return nil, err
	}

	fs := &FS{
		log:         opts.logger,
		db:          db,
		index:       tree.NewIndex(),
		subvolCache: cache,
	}
	fs.gc = gc.New(db, fs.index, fs.log, fs.markInconsistent)

	var haveDeleted bool
	if err := db.View(func(tx *keyed.Tx) error {
		var rerr error
		haveDeleted, rerr = tree.Resolve(tx, fs.index)
		return rerr
	}); err != nil {
		fs.gc.Stop()
		return nil, err
	}

	if haveDeleted && opts.startupGC {
		fs.log.Info("restarting deletion of dead snapshots")
		fs.gc.Trigger()
	}
	return fs, nil
}

// Close unmounts the filesystem: stops the collector, waits for any
// in-flight pass to release its writes reference, and releases the
// derived index. Safe to call more than once.
func (fs *FS) Close() error {
	if fs.closed.Swap(true) {
		return nil
	}
	fs.gc.Stop()
	fs.db.Writes().Close()
	fs.subvolCache.Purge()
	fs.index.Reset()
	return nil
}

// check gates every public operation on lifecycle and consistency
// state.
func (fs *FS) check() error {
	if fs.closed.Load() {
		return ErrClosed
	}
	if fs.inconsistent.Load() {
		return ErrInconsistent
	}
	return nil
}

func (fs *FS) markInconsistent(msg string, args ...any) {
	fs.inconsistent.Store(true)
	fs.log.Error(msg, args...)
}

// Inconsistent reports whether a structural defect has been observed.
func (fs *FS) Inconsistent() bool {
	return fs.inconsistent.Load()
}

// Equiv returns the equivalence class for a snapshot id: the canonical
// id this snapshot's data should be attributed to after accounting for
// collapsed branches. Coherent up to the last completed resolve pass.
func (fs *FS) Equiv(id SnapID) SnapID {
	return fs.index.Equiv(id)
}

// GC runs a full garbage-collection pass synchronously. Returns nil
// without running if a shutdown is in progress.
func (fs *FS) GC() error {
	if err := fs.check(); err != nil {
		return err
	}
	return fs.gc.RunOnce()
}

// Check validates the snapshot tree and subvolume table, logging every
// violation found. A failed check marks the filesystem inconsistent.
func (fs *FS) Check() error {
	if fs.closed.Load() {
		return ErrClosed
	}
	err := fs.db.View(func(tx *keyed.Tx) error {
		return tree.Check(tx, fs.log)
	})
	if err != nil {
		fs.inconsistent.Store(true)
	}
	return err
}

func hashSubvolID(id uint32) uint32 {
	var b [4]byte
	b[0] = byte(id >> 24)
	b[1] = byte(id >> 16)
	b[2] = byte(id >> 8)
	b[3] = byte(id)
	return uint32(xxhash.Sum64(b[:]))
}
