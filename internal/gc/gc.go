// Package gc implements the background garbage collector that reclaims
// dead snapshot branches: it marks childless internal nodes dead,
// re-resolves equivalence classes, sweeps redundant keys out of every
// snapshot-aware store, and finally removes the dead tree nodes
// themselves.
package gc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
	"snapfs/internal/tree"
)

// State identifies the phase a collection pass is in.
type State int32

const (
	Idle State = iota
	Marking
	Resolving
	SweepingKeys
	SweepingNodes
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Marking:
		return "marking"
	case Resolving:
		return "resolving"
	case SweepingKeys:
		return "sweeping-keys"
	case SweepingNodes:
		return "sweeping-nodes"
	}
	return "unknown"
}

// Collector runs collection passes as a single background task. At
// most one pass is active at a time; triggers arriving while a pass is
// running or pending coalesce into one. Each pass holds the writes
// reference for its whole duration so shutdown waits for it, and a
// trigger that lands after shutdown has begun is dropped silently.
type Collector struct {
	db  *keyed.DB
	ix  *tree.Index
	log base.Logger

	// inconsistent reports a fatal structural violation to the
	// filesystem. Passes do not retry past one: a persisted defect
	// cannot be fixed by rerunning.
	inconsistent func(msg string, args ...any)

	state    atomic.Int32
	triggerC chan struct{}
	stopC    chan struct{}
	wg       sync.WaitGroup
}

// New creates a collector and starts its background worker.
func New(db *keyed.DB, ix *tree.Index, log base.Logger, inconsistent func(string, ...any)) *Collector {
	c := &Collector{
		db:           db,
		ix:           ix,
		log:          log,
		inconsistent: inconsistent,
		triggerC:     make(chan struct{}, 1),
		stopC:        make(chan struct{}),
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

// Trigger schedules a collection pass. Non-blocking; a pass already
// pending absorbs the request.
func (c *Collector) Trigger() {
	select {
	case c.triggerC <- struct{}{}:
	default:
	}
}

// Stop shuts down the background worker. Any running pass finishes
// first via the writes reference, which the filesystem closes after
// calling Stop.
func (c *Collector) Stop() {
	close(c.stopC)
	c.wg.Wait()
}

// State reports the phase of the current pass, Idle if none.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Collector) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.triggerC:
			if err := c.RunOnce(); err != nil {
				c.log.Error("snapshot deletion pass failed", "err", err)
			}
		case <-c.stopC:
			return
		}
	}
}

// RunOnce executes one full collection pass synchronously. It is a
// no-op if the filesystem is shutting down. The pass is idempotent
// given the persisted state, so an aborted pass is safe to rerun from
// scratch on the next trigger.
func (c *Collector) RunOnce() error {
	if !c.db.Writes().TryHold() {
		return nil
	}
	defer c.db.Writes().Release()
	defer c.setState(Idle)
	return c.run()
}

func (c *Collector) run() error {
	// For every node that is neither dead already nor a subvolume
	// head: if neither child is live, mark it deleted. Nodes still
	// owning a subvolume are only ever marked by explicit subvolume
	// deletion.
	c.setState(Marking)
	var mark []base.SnapID
	err := c.db.View(func(tx *keyed.Tx) error {
		var werr error
		tx.Ascend(keyed.StoreSnapshots, keyed.Key{}, func(k keyed.Key, val []byte) bool {
			id := base.SnapID(k.Pos)
			n, derr := base.DecodeSnapshotNode(val)
			if derr != nil {
				werr = derr
				return false
			}
			if n.Deleted || n.SubvolRoot {
				return true
			}
			anyLive := false
			for _, child := range n.Children {
				live, lerr := tree.Live(tx, child)
				if errors.Is(lerr, base.ErrSnapshotNotFound) {
					c.inconsistent("snapshot node not found", "id", child)
					werr = lerr
					return false
				}
				if lerr != nil {
					werr = lerr
					return false
				}
				if live {
					anyLive = true
				}
			}
			if !anyLive {
				mark = append(mark, id)
			}
			return true
		})
		return werr
	})
	if err != nil {
		return fmt.Errorf("walking snapshots: %w", err)
	}
	for _, id := range mark {
		err := c.db.Update(func(tx *keyed.Tx) error {
			return tree.SetDeleted(tx, c.ix, id)
		})
		if errors.Is(err, base.ErrSnapshotNotFound) {
			c.inconsistent("missing snapshot node", "id", id)
			return err
		}
		if err != nil {
			return fmt.Errorf("deleting snapshot %d: %w", id, err)
		}
	}

	c.setState(Resolving)
	if err := c.resolve(); err != nil {
		return err
	}

	// The set of dead ids drives both sweeps. Collected once so the
	// key sweep and the node sweep agree on what is dead.
	var deleted []base.SnapID
	dead := make(map[base.SnapID]struct{})
	err = c.db.View(func(tx *keyed.Tx) error {
		var werr error
		tx.Ascend(keyed.StoreSnapshots, keyed.Key{}, func(k keyed.Key, val []byte) bool {
			n, derr := base.DecodeSnapshotNode(val)
			if derr != nil {
				werr = derr
				return false
			}
			if n.Deleted {
				id := base.SnapID(k.Pos)
				deleted = append(deleted, id)
				dead[id] = struct{}{}
			}
			return true
		})
		return werr
	})
	if err != nil {
		return fmt.Errorf("walking snapshots: %w", err)
	}

	c.setState(SweepingKeys)
	for _, st := range keyed.Stores() {
		if !st.SnapshotAware() {
			continue
		}
		if err := c.sweepKeys(st, dead); err != nil {
			return fmt.Errorf("deleting snapshot keys in %s: %w", st, err)
		}
	}

	// Dead ids ascend, and every parent id is larger than its
	// children's, so children are always unlinked before their parent
	// is removed.
	c.setState(SweepingNodes)
	for _, id := range deleted {
		err := c.db.Update(func(tx *keyed.Tx) error {
			return tree.DeleteNode(tx, c.ix, c.log, id)
		})
		if errors.Is(err, base.ErrSnapshotNotFound) {
			c.inconsistent("missing snapshot node", "id", id)
			return err
		}
		if err != nil {
			return fmt.Errorf("deleting snapshot %d: %w", id, err)
		}
	}

	// Refresh the derived index now that the structure changed.
	return c.resolve()
}

func (c *Collector) resolve() error {
	return c.db.View(func(tx *keyed.Tx) error {
		_, err := tree.Resolve(tx, c.ix)
		return err
	})
}

// sweepKeys deletes dead and redundant keys from one snapshot-aware
// store. Keys are visited in ascending (position, snapshot) order with
// a seen-equivalence set that resets at every new position: a key whose
// equivalence class was already seen at this position is a shadow copy
// rendered redundant by collapse. Each doomed key is deleted in its own
// transaction so a conflict retries just that key, not the whole sweep.
func (c *Collector) sweepKeys(st keyed.StoreID, dead map[base.SnapID]struct{}) error {
	var doomed []keyed.Key
	err := c.db.View(func(tx *keyed.Tx) error {
		var lastPos uint64
		seen := make(map[base.SnapID]struct{})
		tx.Ascend(st, keyed.Key{}, func(k keyed.Key, _ []byte) bool {
			if k.Pos != lastPos {
				seen = make(map[base.SnapID]struct{})
				lastPos = k.Pos
			}
			equiv := c.ix.Equiv(base.SnapID(k.Snap))
			if _, isDead := dead[base.SnapID(k.Snap)]; isDead {
				doomed = append(doomed, k)
				return true
			}
			if _, dup := seen[equiv]; dup {
				doomed = append(doomed, k)
				return true
			}
			seen[equiv] = struct{}{}
			return true
		})
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range doomed {
		key := k
		err := c.db.Update(func(tx *keyed.Tx) error {
			if _, err := tx.Get(st, key); errors.Is(err, keyed.ErrKeyNotFound) {
				return nil
			}
			tx.Delete(st, key)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
