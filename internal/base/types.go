package base

import "fmt"

// SnapID identifies a node in the snapshot tree. IDs are allocated
// downward from MaxSnapID, so every node's parent has a strictly larger
// ID than the node itself. This lets a single ascending scan visit
// children before parents without any backward references.
type SnapID uint32

// SubvolID identifies a subvolume.
type SubvolID uint32

const (
	// MaxSnapID is the exclusive upper bound of the snapshot ID space.
	// Valid snapshot IDs lie in [1, MaxSnapID).
	MaxSnapID SnapID = 1<<32 - 1

	// MaxSubvolID is the largest valid subvolume ID.
	MaxSubvolID SubvolID = 1<<32 - 1
)

// SnapshotNode flag bits, packed into the record's flags word.
const (
	snapshotDeleted uint32 = 1 << iota
	snapshotSubvolRoot
)

// SnapshotNode is the persisted record for one node of the snapshot
// tree, keyed by its SnapID. The persisted record is authoritative;
// the in-memory index is derived from it.
type SnapshotNode struct {
	Parent     SnapID    // 0 for a root node
	Children   [2]SnapID // normalized: Children[0] >= Children[1], 0 = empty slot
	Subvol     SubvolID  // owning subvolume, meaningful only when SubvolRoot is set
	Deleted    bool      // logically dead, pending physical removal
	SubvolRoot bool      // live head of a subvolume, not an internal node
}

func (n SnapshotNode) String() string {
	return fmt.Sprintf("is_subvol %v deleted %v parent %d children %d %d subvol %d",
		n.SubvolRoot, n.Deleted, n.Parent, n.Children[0], n.Children[1], n.Subvol)
}

// Validate checks the static single-node invariants for a node stored
// at id. These are enforced on every write; they hold independent of
// the rest of the tree.
func (n SnapshotNode) Validate(id SnapID) error {
	if id < 1 || id >= MaxSnapID {
		return ErrBadSnapshotPos
	}
	if n.Parent != 0 && n.Parent <= id {
		return ErrBadParentNode
	}
	if n.Children[0] < n.Children[1] {
		return ErrChildrenNotNormalized
	}
	if n.Children[0] != 0 && n.Children[0] == n.Children[1] {
		return ErrDuplicateChildren
	}
	for _, c := range n.Children {
		if c >= id {
			return ErrBadChildNode
		}
	}
	return nil
}

// Subvolume flag bits.
const (
	subvolReadOnly uint32 = 1 << iota
	subvolSnap
)

// Subvolume is the persisted record mapping a subvolume to its root
// inode and current head snapshot.
type Subvolume struct {
	Snapshot SnapID
	Inode    uint64
	ReadOnly bool
	Snap     bool // created as a snapshot of another subvolume
}

func (s Subvolume) String() string {
	return fmt.Sprintf("root %d snapshot id %d", s.Inode, s.Snapshot)
}
