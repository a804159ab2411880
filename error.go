package snapfs

import (
	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrClosed       = base.ErrClosed
	ErrInconsistent = base.ErrInconsistent

	ErrSnapshotNotFound  = base.ErrSnapshotNotFound
	ErrSubvolumeNotFound = base.ErrSubvolumeNotFound
	ErrNoSnapshotIDs     = base.ErrNoSnapshotIDs
	ErrNoSubvolumeSlots  = base.ErrNoSubvolumeSlots
	ErrAlreadyBranched   = base.ErrAlreadyBranched

	ErrBadParentNode         = base.ErrBadParentNode
	ErrChildrenNotNormalized = base.ErrChildrenNotNormalized
	ErrDuplicateChildren     = base.ErrDuplicateChildren
	ErrBadChildNode          = base.ErrBadChildNode
	ErrInvalidChecksum       = base.ErrInvalidChecksum

	ErrKeyNotFound       = keyed.ErrKeyNotFound
	ErrTxDone            = keyed.ErrTxDone
	ErrTxConflict        = keyed.ErrTxConflict
	ErrTxRetriesExceeded = keyed.ErrTxRetriesExceeded
)
