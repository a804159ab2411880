package snapfs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
	"snapfs/internal/tree"
)

func setup(t *testing.T, options ...Option) *FS {
	t.Helper()
	fs, err := Open(options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

// captureLogger records log lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Error(msg string, args ...any) { l.record(msg) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record(msg) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record(msg) }

func (l *captureLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *captureLogger) logged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func nodeGone(fs *FS, id SnapID) func() bool {
	return func() bool {
		exists := false
		_ = fs.db.View(func(tx *keyed.Tx) error {
			_, err := tree.LookupNode(tx, id)
			exists = err == nil
			return nil
		})
		return !exists
	}
}

func TestTxPutGet(t *testing.T) {
	t.Parallel()

	fs := setup(t)
	_, snap, err := fs.CreateSubvolume(1, 0, false)
	require.NoError(t, err)

	require.NoError(t, fs.Update(func(tx *Tx) error {
		tx.Put(StoreExtents, 10, snap, []byte("hello"))
		return nil
	}))

	require.NoError(t, fs.View(func(tx *Tx) error {
		val, err := tx.Get(StoreExtents, 10, snap)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), val)

		_, err = tx.Get(StoreExtents, 11, snap)
		assert.ErrorIs(t, err, ErrKeyNotFound)
		return nil
	}))

	require.NoError(t, fs.Update(func(tx *Tx) error {
		tx.Delete(StoreExtents, 10, snap)
		return nil
	}))
	require.NoError(t, fs.View(func(tx *Tx) error {
		_, err := tx.Get(StoreExtents, 10, snap)
		assert.ErrorIs(t, err, ErrKeyNotFound)
		return nil
	}))
}

func TestGetVisibleAcrossBranch(t *testing.T) {
	t.Parallel()

	fs := setup(t)
	src, oldHead, err := fs.CreateSubvolume(1, 0, false)
	require.NoError(t, err)

	// Data written before the branch point.
	require.NoError(t, fs.Update(func(tx *Tx) error {
		tx.Put(StoreExtents, 10, oldHead, []byte("before branch"))
		return nil
	}))

	_, snapHead, err := fs.CreateSubvolume(2, src, true)
	require.NoError(t, err)
	srcHead, err := fs.SnapshotOf(src)
	require.NoError(t, err)

	// Post-branch writes land under each side's own head.
	require.NoError(t, fs.Update(func(tx *Tx) error {
		tx.Put(StoreExtents, 20, srcHead, []byte("src only"))
		tx.Put(StoreExtents, 20, snapHead, []byte("snap only"))
		return nil
	}))

	require.NoError(t, fs.View(func(tx *Tx) error {
		// Both heads are live, so the shared ancestor keeps its own
		// class and pre-branch data is not visible through either head.
		for _, head := range []SnapID{srcHead, snapHead} {
			_, err := tx.GetVisible(StoreExtents, 10, head)
			assert.ErrorIs(t, err, ErrKeyNotFound)
		}

		val, err := tx.GetVisible(StoreExtents, 20, srcHead)
		require.NoError(t, err)
		assert.Equal(t, []byte("src only"), val)

		val, err = tx.GetVisible(StoreExtents, 20, snapHead)
		require.NoError(t, err)
		assert.Equal(t, []byte("snap only"), val)
		return nil
	}))
}

func TestGetVisibleAfterBranchCollapse(t *testing.T) {
	t.Parallel()

	fs := setup(t)
	src, oldHead, err := fs.CreateSubvolume(1, 0, false)
	require.NoError(t, err)

	require.NoError(t, fs.Update(func(tx *Tx) error {
		tx.Put(StoreExtents, 10, oldHead, []byte("shared history"))
		return nil
	}))

	snapID, snapHead, err := fs.CreateSubvolume(2, src, true)
	require.NoError(t, err)

	require.NoError(t, fs.DeleteSubvolume(snapID, ExpectSnapshot))
	require.Eventually(t, nodeGone(fs, snapHead), 5*time.Second, 10*time.Millisecond)

	// With the snapshot branch dead, the old head collapses into the
	// source's class and the pre-branch data becomes visible again.
	srcHead, err := fs.SnapshotOf(src)
	require.NoError(t, err)
	assert.Equal(t, srcHead, fs.Equiv(oldHead))

	require.NoError(t, fs.View(func(tx *Tx) error {
		val, err := tx.GetVisible(StoreExtents, 10, srcHead)
		require.NoError(t, err)
		assert.Equal(t, []byte("shared history"), val)
		return nil
	}))
}

func TestStartupCatchUp(t *testing.T) {
	t.Parallel()

	// Persisted state as an unclean shutdown leaves it: a branch marked
	// dead but never swept.
	db := keyed.NewDB(0)
	seed := func(id base.SnapID, n base.SnapshotNode) {
		require.NoError(t, db.Update(func(tx *keyed.Tx) error {
			tx.Put(keyed.StoreSnapshots, keyed.Key{Pos: uint64(id)}, n.Encode())
			return nil
		}))
	}
	seed(100, base.SnapshotNode{Children: [2]base.SnapID{90, 80}})
	seed(90, base.SnapshotNode{Parent: 100, Subvol: 2, SubvolRoot: true, Deleted: true})
	seed(80, base.SnapshotNode{Parent: 100, Subvol: 1, SubvolRoot: true})
	require.NoError(t, db.Update(func(tx *keyed.Tx) error {
		tree.PutSubvolume(tx, 1, Subvolume{Snapshot: 80, Inode: 1})
		return nil
	}))

	log := &captureLogger{}
	opts := defaultOptions()
	opts.logger = log

	fs, err := open(db, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	assert.Contains(t, log.logged(), "restarting deletion of dead snapshots")
	assert.Eventually(t, nodeGone(fs, 90), 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return fs.Equiv(100) == 80
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartupCatchUpDisabled(t *testing.T) {
	t.Parallel()

	db := keyed.NewDB(0)
	require.NoError(t, db.Update(func(tx *keyed.Tx) error {
		n := base.SnapshotNode{Subvol: 1, SubvolRoot: true, Deleted: true}
		tx.Put(keyed.StoreSnapshots, keyed.Key{Pos: 100}, n.Encode())
		return nil
	}))

	opts := defaultOptions()
	opts.startupGC = false

	fs, err := open(db, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	// No pass runs without an explicit trigger.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, nodeGone(fs, 100)())

	require.NoError(t, fs.GC())
	assert.True(t, nodeGone(fs, 100)())
}

func TestCheckDetectsDamage(t *testing.T) {
	t.Parallel()

	log := &captureLogger{}
	fs := setup(t, WithLogger(log))
	id, _, err := fs.CreateSubvolume(1, 0, false)
	require.NoError(t, err)

	require.NoError(t, fs.Check())

	// Drop the subvolume record out from under its head node.
	require.NoError(t, fs.db.Update(func(tx *keyed.Tx) error {
		tree.DeleteSubvolumeRecord(tx, id)
		return nil
	}))

	err = fs.Check()
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.Contains(t, log.logged(), "snapshot node has nonexistent subvolume")
	assert.True(t, fs.Inconsistent())

	// The defect is sticky.
	assert.ErrorIs(t, fs.View(func(tx *Tx) error { return nil }), ErrInconsistent)
	_, _, err = fs.CreateSubvolume(2, 0, false)
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestCloseIsSticky(t *testing.T) {
	t.Parallel()

	fs, err := Open()
	require.NoError(t, err)
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())

	_, _, err = fs.CreateSubvolume(1, 0, false)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, fs.View(func(tx *Tx) error { return nil }), ErrClosed)
	assert.ErrorIs(t, fs.GC(), ErrClosed)
	assert.ErrorIs(t, fs.Check(), ErrClosed)
}

func TestEquivUnknownID(t *testing.T) {
	t.Parallel()

	fs := setup(t)
	assert.Equal(t, SnapID(12345), fs.Equiv(12345))
}
