package tree

import (
	"errors"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

func nodeKey(id base.SnapID) keyed.Key {
	return keyed.Key{Pos: uint64(id)}
}

// LookupNode reads and decodes the persisted node for id.
// Returns base.ErrSnapshotNotFound if no node exists at id.
func LookupNode(tx *keyed.Tx, id base.SnapID) (base.SnapshotNode, error) {
	val, err := tx.Get(keyed.StoreSnapshots, nodeKey(id))
	if errors.Is(err, keyed.ErrKeyNotFound) {
		return base.SnapshotNode{}, base.ErrSnapshotNotFound
	}
	if err != nil {
		return base.SnapshotNode{}, err
	}
	return base.DecodeSnapshotNode(val)
}

// putNode validates and stages a node write. Every write path goes
// through here so invalid records never reach the store.
func putNode(tx *keyed.Tx, id base.SnapID, n base.SnapshotNode) error {
	if err := n.Validate(id); err != nil {
		return err
	}
	tx.Put(keyed.StoreSnapshots, nodeKey(id), n.Encode())
	return nil
}

// Live reports whether id refers to an existing node not marked
// deleted. id 0 is never live. A missing node is surfaced as
// base.ErrSnapshotNotFound; the caller decides whether that is a
// structural inconsistency.
func Live(tx *keyed.Tx, id base.SnapID) (bool, error) {
	if id == 0 {
		return false, nil
	}
	n, err := LookupNode(tx, id)
	if err != nil {
		return false, err
	}
	return !n.Deleted, nil
}

// CreateNodes allocates fresh snapshot ids and writes one node per
// requested owning subvolume, all inside tx.
//
// IDs are dense-packed from the top of the id space, so allocation
// just takes the next smaller unused id below the current minimum.
// With two subvols the first id belongs to the subvolume keeping its
// identity and the second to the newly created one; both ids are
// returned in allocation order, which keeps the parent's children
// normalized without an explicit sort.
//
// A non-zero parent must exist and must not already have children: a
// node is branched at most once, then becomes purely internal and
// stops being a subvolume head.
func CreateNodes(tx *keyed.Tx, ix *Index, parent base.SnapID, subvols []base.SubvolID) ([]base.SnapID, error) {
	next := base.MaxSnapID
	tx.Ascend(keyed.StoreSnapshots, keyed.Key{}, func(k keyed.Key, _ []byte) bool {
		next = base.SnapID(k.Pos)
		return false
	})

	ids := make([]base.SnapID, len(subvols))
	for i, sv := range subvols {
		next--
		if next == 0 {
			return nil, base.ErrNoSnapshotIDs
		}
		// The absent id joins the read set, so a concurrent
		// allocation of the same id conflicts at commit.
		if _, err := tx.Get(keyed.StoreSnapshots, nodeKey(next)); !errors.Is(err, keyed.ErrKeyNotFound) {
			if err != nil {
				return nil, err
			}
			return nil, keyed.ErrTxConflict
		}
		n := base.SnapshotNode{
			Parent:     parent,
			Subvol:     sv,
			SubvolRoot: true,
		}
		if err := putNode(tx, next, n); err != nil {
			return nil, err
		}
		ids[i] = next
		id, node := next, n
		tx.OnCommit(func() { ix.Mark(id, node) })
	}

	if parent != 0 {
		p, err := LookupNode(tx, parent)
		if err != nil {
			return nil, err
		}
		if p.Children[0] != 0 || p.Children[1] != 0 {
			return nil, base.ErrAlreadyBranched
		}
		p.Children[0] = ids[0]
		if len(ids) > 1 {
			p.Children[1] = ids[1]
		}
		p.SubvolRoot = false
		if err := putNode(tx, parent, p); err != nil {
			return nil, err
		}
		pid, pn := parent, p
		tx.OnCommit(func() { ix.Mark(pid, pn) })
	}

	return ids, nil
}

// SetDeleted marks a node logically dead for future cleanup by the
// garbage collector. Marking an already-deleted node is a no-op.
func SetDeleted(tx *keyed.Tx, ix *Index, id base.SnapID) error {
	n, err := LookupNode(tx, id)
	if err != nil {
		return err
	}
	if n.Deleted {
		return nil
	}
	n.Deleted = true
	if err := putNode(tx, id, n); err != nil {
		return err
	}
	node := n
	tx.OnCommit(func() { ix.Mark(id, node) })
	return nil
}

// DeleteNode physically removes a dead node: clears the matching child
// slot in its parent, re-normalizes the parent's children, then deletes
// the node's own key. A parent without the expected child pointer is
// logged as an inconsistency, but the orphaned deletion still proceeds.
// A missing node or parent is surfaced as base.ErrSnapshotNotFound for
// the caller to report as fatal.
func DeleteNode(tx *keyed.Tx, ix *Index, log base.Logger, id base.SnapID) error {
	n, err := LookupNode(tx, id)
	if err != nil {
		return err
	}

	if n.Parent != 0 {
		p, err := LookupNode(tx, n.Parent)
		if err != nil {
			return err
		}

		slot := -1
		for i, c := range p.Children {
			if c == id {
				slot = i
				break
			}
		}
		if slot < 0 {
			log.Error("snapshot node missing child pointer",
				"parent", n.Parent, "child", id)
		} else {
			p.Children[slot] = 0
		}
		if p.Children[0] < p.Children[1] {
			p.Children[0], p.Children[1] = p.Children[1], p.Children[0]
		}
		if err := putNode(tx, n.Parent, p); err != nil {
			return err
		}
		pid, pn := n.Parent, p
		tx.OnCommit(func() { ix.Mark(pid, pn) })
	}

	tx.Delete(keyed.StoreSnapshots, nodeKey(id))
	tx.OnCommit(func() { ix.Drop(id) })
	return nil
}
