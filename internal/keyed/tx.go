package keyed

import "github.com/google/btree"

// txKey addresses a key across stores for read/write tracking.
type txKey struct {
	store StoreID
	key   Key
}

type writeOp struct {
	val []byte
	del bool
}

// Tx is an optimistic multi-store transaction.
//
// CONCURRENCY: a Tx must only be used by a single goroutine. Reads see
// the snapshot taken at Begin plus this transaction's own staged
// writes; nothing is applied to the stores until Commit succeeds.
// Every key read is validated against the committed state at Commit,
// and any intervening write fails the commit with ErrTxConflict.
type Tx struct {
	db     *DB
	view   [storeCount]*btree.BTreeG[item]
	reads  map[txKey]uint64 // key -> version seen (0 = absent)
	staged map[txKey]writeOp
	hooks  []func()
	done   bool
}

// Get returns the value for a key, checking staged writes first.
// Returns ErrKeyNotFound if the key does not exist.
func (tx *Tx) Get(st StoreID, k Key) ([]byte, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if op, ok := tx.staged[txKey{st, k}]; ok {
		if op.del {
			return nil, ErrKeyNotFound
		}
		return op.val, nil
	}
	it, ok := tx.view[st].Get(item{key: k})
	if ok {
		tx.reads[txKey{st, k}] = it.ver
		return it.val, nil
	}
	tx.reads[txKey{st, k}] = 0
	return nil, ErrKeyNotFound
}

// Put stages an insert or update. The value is retained by reference;
// callers must not modify it afterwards.
func (tx *Tx) Put(st StoreID, k Key, val []byte) {
	if tx.done {
		return
	}
	tx.staged[txKey{st, k}] = writeOp{val: val}
}

// Delete stages a key removal. Idempotent; deleting an absent key is
// not an error.
func (tx *Tx) Delete(st StoreID, k Key) {
	if tx.done {
		return
	}
	tx.staged[txKey{st, k}] = writeOp{del: true}
}

// Ascend iterates committed keys in ascending (Pos, Snap) order
// starting at from, until fn returns false. Iteration runs over the
// snapshot taken at Begin; this transaction's staged writes are not
// merged in. Each visited key joins the read set.
func (tx *Tx) Ascend(st StoreID, from Key, fn func(k Key, val []byte) bool) {
	if tx.done {
		return
	}
	tx.view[st].AscendGreaterOrEqual(item{key: from}, func(it item) bool {
		tx.reads[txKey{st, it.key}] = it.ver
		return fn(it.key, it.val)
	})
}

// OnCommit queues fn to run after this transaction has durably
// committed. Hooks never run on rollback or conflict, which makes them
// the safe place for side effects that must not repeat on retry.
func (tx *Tx) OnCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

// Commit validates the read set against the current committed state
// and applies staged writes atomically. Returns ErrTxConflict if any
// key read by this transaction was modified concurrently; the caller
// must rerun the whole transaction.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	db := tx.db
	db.mu.Lock()
	for rk, seen := range tx.reads {
		var cur uint64
		if it, ok := db.stores[rk.store].Get(item{key: rk.key}); ok {
			cur = it.ver
		}
		if cur != seen {
			db.mu.Unlock()
			return ErrTxConflict
		}
	}
	ver := db.nextTx.Add(1)
	for wk, op := range tx.staged {
		if op.del {
			db.stores[wk.store].Delete(item{key: wk.key})
		} else {
			db.stores[wk.store].ReplaceOrInsert(item{key: wk.key, val: op.val, ver: ver})
		}
	}
	db.mu.Unlock()

	for _, h := range tx.hooks {
		h()
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit
// (becomes a no-op) and safe to call multiple times.
func (tx *Tx) Rollback() {
	tx.done = true
}
