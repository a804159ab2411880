package tree

import (
	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

// Resolve recomputes the equivalence class of every snapshot node and
// refreshes the derived index along the way. A node whose subtree has
// collapsed to a single live branch becomes transparent: its class is
// the live child's class, so data tagged with the dead branch's
// ancestor is still found through the live descendant.
//
// The scan runs in ascending id order. Because every child id is
// strictly smaller than its parent's, each child's class is final
// before the parent is processed; chains of single-live-child nodes
// therefore collapse all the way down in one pass. This ordering is a
// correctness requirement, not an optimization.
//
// Returns whether any node was found already marked deleted, so the
// caller can schedule collection after an unclean shutdown.
func Resolve(tx *keyed.Tx, ix *Index) (haveDeleted bool, err error) {
	tx.Ascend(keyed.StoreSnapshots, keyed.Key{}, func(k keyed.Key, val []byte) bool {
		id := base.SnapID(k.Pos)

		n, derr := base.DecodeSnapshotNode(val)
		if derr != nil {
			err = derr
			return false
		}
		ix.Mark(id, n)
		if n.Deleted {
			haveDeleted = true
		}

		// Liveness here is the node's own flag only; cascading of
		// deletion down dead branches is the collector's job.
		nrLive := 0
		var liveChild base.SnapID
		for _, c := range n.Children {
			live, lerr := Live(tx, c)
			if lerr != nil {
				err = lerr
				return false
			}
			if live {
				nrLive++
				liveChild = c
			}
		}

		if nrLive == 1 {
			ix.setEquiv(id, ix.Equiv(liveChild))
		} else {
			ix.setEquiv(id, id)
		}
		return true
	})
	return haveDeleted, err
}
