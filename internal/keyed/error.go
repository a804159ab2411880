package keyed

import "errors"

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrTxDone      = errors.New("transaction has been committed or rolled back")

	// ErrTxConflict aborts a transaction that read a key a concurrent
	// writer modified. Update retries these transparently.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrTxRetriesExceeded is a transient-unavailable condition: the
	// conflict-retry bound was exhausted. Safe to retry at a higher
	// level; never a sign of corruption.
	ErrTxRetriesExceeded = errors.New("transaction retries exceeded")
)
