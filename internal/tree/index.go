// Package tree maintains the persisted snapshot forest and its derived
// in-memory index: node creation, deletion marking, physical removal,
// equivalence resolution, and the read-only consistency check.
package tree

import (
	"sync"

	"snapfs/internal/base"
)

// Entry is the derived, in-memory view of one snapshot node. It exists
// so readers can resolve snapshot visibility without a transactional
// lookup per key. It is a cache, coherent only up to the last completed
// resolve pass; structural decisions always re-read the persisted node.
type Entry struct {
	Parent   base.SnapID
	Children [2]base.SnapID
	Subvol   base.SubvolID
	Equiv    base.SnapID
}

// Index is the id-indexed arena of derived entries. Written by the
// resolver and the garbage collector, read by anyone resolving a key's
// snapshot visibility.
type Index struct {
	mu    sync.RWMutex
	nodes map[base.SnapID]Entry
}

func NewIndex() *Index {
	return &Index{nodes: make(map[base.SnapID]Entry)}
}

// Mark installs or refreshes the entry for id from its persisted node.
// Equivalence is preserved until the next resolve pass; a brand new
// entry starts self-representative.
func (ix *Index) Mark(id base.SnapID, n base.SnapshotNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.nodes[id]
	e.Parent = n.Parent
	e.Children = n.Children
	if n.SubvolRoot {
		e.Subvol = n.Subvol
	} else {
		e.Subvol = 0
	}
	if e.Equiv == 0 {
		e.Equiv = id
	}
	ix.nodes[id] = e
}

// Drop removes the entry for a physically deleted node.
func (ix *Index) Drop(id base.SnapID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.nodes, id)
}

// Lookup returns the derived entry for id.
func (ix *Index) Lookup(id base.SnapID) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.nodes[id]
	return e, ok
}

// Equiv returns the equivalence class for id. Unknown ids are their
// own class.
func (ix *Index) Equiv(id base.SnapID) base.SnapID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if e, ok := ix.nodes[id]; ok && e.Equiv != 0 {
		return e.Equiv
	}
	return id
}

func (ix *Index) setEquiv(id, equiv base.SnapID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e := ix.nodes[id]
	e.Equiv = equiv
	ix.nodes[id] = e
}

// Len reports the number of indexed nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Reset drops every entry. Used on unmount.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = make(map[base.SnapID]Entry)
}
