package snapfs

import (
	"snapfs/internal/keyed"
)

// Store identifies one of the snapshot-aware keyed stores exposed to
// file-level operations. The snapshot and subvolume stores themselves
// are managed internally and are not addressable here.
type Store uint8

const (
	StoreInodes  = Store(keyed.StoreInodes)
	StoreDirents = Store(keyed.StoreDirents)
	StoreXattrs  = Store(keyed.StoreXattrs)
	StoreExtents = Store(keyed.StoreExtents)
)

// Tx is a transaction over the snapshot-aware keyed stores. Every key
// carries the snapshot id it was written under; the garbage collector
// later deduplicates versions per logical position by equivalence
// class.
//
// CONCURRENCY: a Tx must only be used by a single goroutine.
type Tx struct {
	fs    *FS
	inner *keyed.Tx
}

// Get returns the value stored at exactly (pos, snap).
// Returns ErrKeyNotFound if no such version exists.
func (tx *Tx) Get(st Store, pos uint64, snap SnapID) ([]byte, error) {
	return tx.inner.Get(keyed.StoreID(st), keyed.Key{Pos: pos, Snap: uint32(snap)})
}

// GetVisible resolves the version of pos visible through snapshot
// snap: the version at this position whose snapshot collapses to the
// same equivalence class. This is how data written before a branch
// stays readable through the surviving side after the other side dies,
// without being physically rewritten.
func (tx *Tx) GetVisible(st Store, pos uint64, snap SnapID) ([]byte, error) {
	want := tx.fs.Equiv(snap)
	var found []byte
	tx.inner.Ascend(keyed.StoreID(st), keyed.Key{Pos: pos}, func(k keyed.Key, val []byte) bool {
		if k.Pos != pos {
			return false
		}
		if tx.fs.Equiv(SnapID(k.Snap)) == want {
			found = val
			return false
		}
		return true
	})
	if found == nil {
		return nil, ErrKeyNotFound
	}
	return found, nil
}

// Put writes a value at (pos, snap). The value is retained by
// reference; callers must not modify it afterwards.
func (tx *Tx) Put(st Store, pos uint64, snap SnapID, val []byte) {
	tx.inner.Put(keyed.StoreID(st), keyed.Key{Pos: pos, Snap: uint32(snap)}, val)
}

// Delete removes the version at exactly (pos, snap). Idempotent.
func (tx *Tx) Delete(st Store, pos uint64, snap SnapID) {
	tx.inner.Delete(keyed.StoreID(st), keyed.Key{Pos: pos, Snap: uint32(snap)})
}

// AscendAll iterates every snapshot version of every key in the store
// in ascending (position, snapshot) order, until fn returns false.
func (tx *Tx) AscendAll(st Store, fn func(pos uint64, snap SnapID, val []byte) bool) {
	tx.inner.Ascend(keyed.StoreID(st), keyed.Key{}, func(k keyed.Key, val []byte) bool {
		return fn(k.Pos, SnapID(k.Snap), val)
	})
}

// View executes fn within a read-only transaction.
func (fs *FS) View(fn func(*Tx) error) error {
	if err := fs.check(); err != nil {
		return err
	}
	return fs.db.View(func(inner *keyed.Tx) error {
		return fn(&Tx{fs: fs, inner: inner})
	})
}

// Update executes fn within a read-write transaction, committing on
// nil return. Conflicts with concurrent writers rerun fn from the
// start; fn must be side-effect free until commit.
func (fs *FS) Update(fn func(*Tx) error) error {
	if err := fs.check(); err != nil {
		return err
	}
	return fs.db.Update(func(inner *keyed.Tx) error {
		return fn(&Tx{fs: fs, inner: inner})
	})
}
