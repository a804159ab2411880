package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

func resolve(t *testing.T, db *keyed.DB, ix *Index) bool {
	t.Helper()
	var have bool
	require.NoError(t, db.View(func(tx *keyed.Tx) error {
		var err error
		have, err = Resolve(tx, ix)
		return err
	}))
	return have
}

func TestResolveAllLive(t *testing.T) {
	t.Parallel()

	db, ix := setup(t)
	seedNode(t, db, ix, 100, base.SnapshotNode{Children: [2]base.SnapID{90, 80}})
	seedNode(t, db, ix, 90, base.SnapshotNode{Parent: 100, Subvol: 1, SubvolRoot: true})
	seedNode(t, db, ix, 80, base.SnapshotNode{Parent: 100, Subvol: 2, SubvolRoot: true})

	have := resolve(t, db, ix)
	assert.False(t, have)

	// Both children live, so nothing collapses.
	assert.Equal(t, base.SnapID(100), ix.Equiv(100))
	assert.Equal(t, base.SnapID(90), ix.Equiv(90))
	assert.Equal(t, base.SnapID(80), ix.Equiv(80))
}

func TestResolveCollapsesDeadBranch(t *testing.T) {
	t.Parallel()

	db, ix := setup(t)
	seedNode(t, db, ix, 100, base.SnapshotNode{Children: [2]base.SnapID{90, 80}})
	seedNode(t, db, ix, 90, base.SnapshotNode{Parent: 100, Subvol: 1, SubvolRoot: true, Deleted: true})
	seedNode(t, db, ix, 80, base.SnapshotNode{Parent: 100, Subvol: 2, SubvolRoot: true})

	have := resolve(t, db, ix)
	assert.True(t, have, "deleted node must be reported for catch-up collection")

	assert.Equal(t, base.SnapID(80), ix.Equiv(100),
		"single live branch makes the parent transparent")
	assert.Equal(t, base.SnapID(80), ix.Equiv(80))
}

func TestResolveCollapsesChains(t *testing.T) {
	t.Parallel()

	db, ix := setup(t)
	// 100 -> (90 dead, 80); 80 -> (70 dead, 60). Ascending-id order
	// finalizes 80's class before 100 is visited, so 100 resolves all
	// the way down to 60.
	seedNode(t, db, ix, 100, base.SnapshotNode{Children: [2]base.SnapID{90, 80}})
	seedNode(t, db, ix, 90, base.SnapshotNode{Parent: 100, Subvol: 1, SubvolRoot: true, Deleted: true})
	seedNode(t, db, ix, 80, base.SnapshotNode{Parent: 100, Children: [2]base.SnapID{70, 60}})
	seedNode(t, db, ix, 70, base.SnapshotNode{Parent: 80, Subvol: 2, SubvolRoot: true, Deleted: true})
	seedNode(t, db, ix, 60, base.SnapshotNode{Parent: 80, Subvol: 3, SubvolRoot: true})

	resolve(t, db, ix)

	assert.Equal(t, base.SnapID(60), ix.Equiv(60))
	assert.Equal(t, base.SnapID(60), ix.Equiv(80))
	assert.Equal(t, base.SnapID(60), ix.Equiv(100))
}

func TestResolveIdempotent(t *testing.T) {
	t.Parallel()

	db, ix := setup(t)
	seedNode(t, db, ix, 100, base.SnapshotNode{Children: [2]base.SnapID{90, 0}})
	seedNode(t, db, ix, 90, base.SnapshotNode{Parent: 100, Subvol: 1, SubvolRoot: true})

	resolve(t, db, ix)
	first := map[base.SnapID]base.SnapID{
		100: ix.Equiv(100),
		90:  ix.Equiv(90),
	}
	resolve(t, db, ix)
	assert.Equal(t, first[100], ix.Equiv(100))
	assert.Equal(t, first[90], ix.Equiv(90))
	assert.Equal(t, base.SnapID(90), ix.Equiv(100),
		"one live child collapses even without a deletion")
}
