// Package keyed implements the ordered keyed stores and the optimistic
// transaction engine the snapshot layer runs on. Each data category
// lives in its own store; stores flagged snapshot-aware tag every key
// with a snapshot id and participate in garbage collection.
package keyed

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"snapfs/internal/lifecycle"
)

// StoreID names one keyed store.
type StoreID uint8

const (
	StoreSnapshots StoreID = iota
	StoreSubvolumes
	StoreInodes
	StoreDirents
	StoreXattrs
	StoreExtents

	storeCount
)

func (s StoreID) String() string {
	switch s {
	case StoreSnapshots:
		return "snapshots"
	case StoreSubvolumes:
		return "subvolumes"
	case StoreInodes:
		return "inodes"
	case StoreDirents:
		return "dirents"
	case StoreXattrs:
		return "xattrs"
	case StoreExtents:
		return "extents"
	}
	return "unknown"
}

// SnapshotAware reports whether keys in this store are tagged with
// snapshot ids and therefore swept by the garbage collector.
func (s StoreID) SnapshotAware() bool {
	switch s {
	case StoreInodes, StoreDirents, StoreXattrs, StoreExtents:
		return true
	}
	return false
}

// Stores lists every store id.
func Stores() []StoreID {
	ids := make([]StoreID, 0, storeCount)
	for s := StoreID(0); s < storeCount; s++ {
		ids = append(ids, s)
	}
	return ids
}

// Key addresses one entry in a store: a logical position plus the
// snapshot id the entry was written under. Stores that are not
// snapshot-aware use Snap 0. Ordering is (Pos, Snap) ascending.
type Key struct {
	Pos  uint64
	Snap uint32
}

// Less orders keys by position, then snapshot id.
func (k Key) Less(o Key) bool {
	if k.Pos != o.Pos {
		return k.Pos < o.Pos
	}
	return k.Snap < o.Snap
}

// item is one committed entry. ver is the transaction id of the last
// writer, used to validate optimistic reads at commit.
type item struct {
	key Key
	val []byte
	ver uint64
}

func lessItem(a, b item) bool { return a.key.Less(b.key) }

const defaultTxRetries = 32

// DB owns the keyed stores and hands out transactions. All commits
// serialize through mu; reads run against copy-on-write clones taken
// at Begin, so they never block writers.
type DB struct {
	mu      sync.Mutex
	stores  [storeCount]*btree.BTreeG[item]
	nextTx  atomic.Uint64
	writes  *lifecycle.WritesRef
	retries int
}

// NewDB creates an empty set of stores. retries bounds the transparent
// conflict-retry loop in Update; 0 selects the default.
func NewDB(retries int) *DB {
	if retries <= 0 {
		retries = defaultTxRetries
	}
	db := &DB{
		writes:  lifecycle.NewWritesRef(),
		retries: retries,
	}
	for i := range db.stores {
		db.stores[i] = btree.NewG[item](16, lessItem)
	}
	return db
}

// Writes returns the reference that gates background mutation against
// shutdown.
func (db *DB) Writes() *lifecycle.WritesRef { return db.writes }

// Begin starts a transaction against a consistent snapshot of every
// store. The returned Tx is not safe for concurrent use.
func (db *DB) Begin() *Tx {
	tx := &Tx{
		db:     db,
		reads:  make(map[txKey]uint64),
		staged: make(map[txKey]writeOp),
	}
	db.mu.Lock()
	for i := range db.stores {
		tx.view[i] = db.stores[i].Clone()
	}
	db.mu.Unlock()
	return tx
}

// View executes fn in a read-only transaction. The transaction is
// always rolled back.
func (db *DB) View(fn func(*Tx) error) error {
	tx := db.Begin()
	defer tx.Rollback()
	return fn(tx)
}

// Update executes fn in a read-write transaction, committing on nil
// return. Conflicts with concurrent writers retry fn from the start
// with a fresh snapshot, up to the configured bound; exhausting it
// returns ErrTxRetriesExceeded. fn must stage all effects through the
// transaction so a retried attempt starts clean.
func (db *DB) Update(fn func(*Tx) error) error {
	for i := 0; i < db.retries; i++ {
		tx := db.Begin()
		err := fn(tx)
		if errors.Is(err, ErrTxConflict) {
			tx.Rollback()
			continue
		}
		if err != nil {
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if errors.Is(err, ErrTxConflict) {
			continue
		}
		return err
	}
	return ErrTxRetriesExceeded
}
