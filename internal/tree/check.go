package tree

import (
	"errors"
	"fmt"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

// Check runs the read-only consistency pass over the snapshot tree and
// the subvolume table. Every violation is logged with the offending
// ids; the pass keeps going past non-fatal mismatches to report as many
// as possible, then returns an error wrapping base.ErrInconsistent so
// callers know validation failed.
func Check(tx *keyed.Tx, log base.Logger) error {
	violations := 0
	var err error

	tx.Ascend(keyed.StoreSnapshots, keyed.Key{}, func(k keyed.Key, val []byte) bool {
		id := base.SnapID(k.Pos)

		n, derr := base.DecodeSnapshotNode(val)
		if derr != nil {
			log.Error("undecodable snapshot node", "id", id, "err", derr)
			violations++
			return true
		}
		if verr := n.Validate(id); verr != nil {
			log.Error("invalid snapshot node", "id", id, "err", verr)
			violations++
		}

		if n.SubvolRoot {
			sub, serr := LookupSubvolume(tx, n.Subvol)
			switch {
			case errors.Is(serr, base.ErrSubvolumeNotFound):
				log.Error("snapshot node has nonexistent subvolume",
					"id", id, "subvol", n.Subvol)
				violations++
			case serr != nil:
				err = serr
				return false
			case sub.Snapshot != id:
				log.Error("snapshot node not referenced by its subvolume",
					"id", id, "subvol", n.Subvol, "subvol_snapshot", sub.Snapshot)
				violations++
			}
		}

		if n.Parent != 0 {
			p, perr := LookupNode(tx, n.Parent)
			switch {
			case errors.Is(perr, base.ErrSnapshotNotFound):
				log.Error("snapshot node has nonexistent parent",
					"id", id, "parent", n.Parent)
				violations++
			case perr != nil:
				err = perr
				return false
			case p.Children[0] != id && p.Children[1] != id:
				log.Error("snapshot parent missing pointer to child",
					"parent", n.Parent, "child", id)
				violations++
			}
		}

		for _, c := range n.Children {
			if c == 0 {
				continue
			}
			cn, cerr := LookupNode(tx, c)
			switch {
			case errors.Is(cerr, base.ErrSnapshotNotFound):
				log.Error("snapshot node has nonexistent child",
					"id", id, "child", c)
				violations++
			case cerr != nil:
				err = cerr
				return false
			case cn.Parent != id:
				log.Error("snapshot child has wrong parent",
					"child", c, "got", cn.Parent, "should", id)
				violations++
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	tx.Ascend(keyed.StoreSubvolumes, keyed.Key{}, func(k keyed.Key, val []byte) bool {
		id := base.SubvolID(k.Pos)

		s, derr := base.DecodeSubvolume(val)
		if derr != nil {
			log.Error("undecodable subvolume", "subvol", id, "err", derr)
			violations++
			return true
		}
		if _, serr := LookupNode(tx, s.Snapshot); errors.Is(serr, base.ErrSnapshotNotFound) {
			log.Error("subvolume points to nonexistent snapshot",
				"subvol", id, "snapshot", s.Snapshot)
			violations++
		} else if serr != nil {
			err = serr
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	if violations > 0 {
		return fmt.Errorf("%w: %d violations", base.ErrInconsistent, violations)
	}
	return nil
}
