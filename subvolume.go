package snapfs

import (
	"errors"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
	"snapfs/internal/tree"
)

// Subvolume is the persisted record for one subvolume.
type Subvolume = base.Subvolume

// ExpectVariant constrains DeleteSubvolume to a particular kind of
// subvolume. A mismatch fails with ErrSubvolumeNotFound, which lets a
// caller that only wants to delete snapshots race safely against
// regular subvolume deletion and vice versa.
type ExpectVariant int

const (
	// ExpectAny deletes the subvolume regardless of how it was created.
	ExpectAny ExpectVariant = iota
	// ExpectSnapshot requires a subvolume created as a snapshot.
	ExpectSnapshot
	// ExpectPlain requires a subvolume created fresh, not as a snapshot.
	ExpectPlain
)

// CreateSubvolume creates a new subvolume rooted at inode. With src 0
// a standalone subvolume is created with a single root snapshot node.
// With a non-zero src the new subvolume is a snapshot of src: two
// fresh nodes are allocated under src's current head, one keeping
// src's identity going forward and one for the new subvolume, and the
// old head becomes a purely internal node.
//
// Returns the new subvolume id and its head snapshot id. Conflicting
// concurrent writers are retried transparently.
func (fs *FS) CreateSubvolume(inode uint64, src SubvolID, readOnly bool) (SubvolID, SnapID, error) {
	if err := fs.check(); err != nil {
		return 0, 0, err
	}

	var (
		newID   SubvolID
		newSnap SnapID
	)
	err := fs.db.Update(func(tx *keyed.Tx) error {
		id, err := tree.FreeSubvolID(tx)
		if err != nil {
			return err
		}

		parent := SnapID(0)
		subvols := []SubvolID{id}
		var srcSub Subvolume
		if src != 0 {
			srcSub, err = tree.LookupSubvolume(tx, src)
			if err != nil {
				return err
			}
			parent = srcSub.Snapshot
			subvols = append(subvols, src)
		}

		ids, err := tree.CreateNodes(tx, fs.index, parent, subvols)
		if err != nil {
			return err
		}

		if src != 0 {
			// The source keeps its identity under a fresh node; its
			// cached head snapshot is stale once this commits.
			srcSub.Snapshot = ids[1]
			tree.PutSubvolume(tx, src, srcSub)
			srcID := uint32(src)
			tx.OnCommit(func() { fs.subvolCache.Remove(srcID) })
		}

		tree.PutSubvolume(tx, id, Subvolume{
			Snapshot: ids[0],
			Inode:    inode,
			ReadOnly: readOnly,
			Snap:     src != 0,
		})

		newID, newSnap = id, ids[0]
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return newID, newSnap, nil
}

// DeleteSubvolume removes the subvolume record and marks its head
// snapshot node dead, all in one transaction. Physical reclamation is
// deferred: a garbage-collection pass is triggered through a
// post-commit hook so the sweep never runs inside the deleting
// transaction.
func (fs *FS) DeleteSubvolume(id SubvolID, expect ExpectVariant) error {
	if err := fs.check(); err != nil {
		return err
	}

	return fs.db.Update(func(tx *keyed.Tx) error {
		sub, err := tree.LookupSubvolume(tx, id)
		if errors.Is(err, ErrSubvolumeNotFound) {
			fs.markInconsistent("missing subvolume", "subvol", id)
			return ErrInconsistent
		}
		if err != nil {
			return err
		}

		if (expect == ExpectSnapshot && !sub.Snap) ||
			(expect == ExpectPlain && sub.Snap) {
			return ErrSubvolumeNotFound
		}

		tree.DeleteSubvolumeRecord(tx, id)

		if err := tree.SetDeleted(tx, fs.index, sub.Snapshot); err != nil {
			if errors.Is(err, ErrSnapshotNotFound) {
				fs.markInconsistent("missing snapshot node", "id", sub.Snapshot)
				return ErrInconsistent
			}
			return err
		}

		cached := uint32(id)
		tx.OnCommit(func() {
			fs.subvolCache.Remove(cached)
			fs.gc.Trigger()
		})
		return nil
	})
}

// SnapshotOf returns the current head snapshot id of a subvolume.
// Callers are expected to hold the subvolume's existence invariant, so
// a missing record flags the filesystem inconsistent in addition to
// failing with ErrSubvolumeNotFound.
func (fs *FS) SnapshotOf(id SubvolID) (SnapID, error) {
	if err := fs.check(); err != nil {
		return 0, err
	}

	if snap, ok := fs.subvolCache.Get(uint32(id)); ok {
		return SnapID(snap), nil
	}

	var snap SnapID
	err := fs.db.View(func(tx *keyed.Tx) error {
		sub, err := tree.LookupSubvolume(tx, id)
		if errors.Is(err, ErrSubvolumeNotFound) {
			fs.markInconsistent("missing subvolume", "subvol", id)
			return err
		}
		if err != nil {
			return err
		}
		snap = sub.Snapshot
		return nil
	})
	if err != nil {
		return 0, err
	}

	fs.subvolCache.Add(uint32(id), uint32(snap))
	return snap, nil
}

// SubvolumeInfo looks up a subvolume record without holding any
// existence expectation: a missing record is a plain
// ErrSubvolumeNotFound, never an inconsistency.
func (fs *FS) SubvolumeInfo(id SubvolID) (Subvolume, error) {
	if err := fs.check(); err != nil {
		return Subvolume{}, err
	}
	var sub Subvolume
	err := fs.db.View(func(tx *keyed.Tx) error {
		var lerr error
		sub, lerr = tree.LookupSubvolume(tx, id)
		return lerr
	})
	return sub, err
}
