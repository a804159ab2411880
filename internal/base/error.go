package base

import "errors"

var (
	// Record validation failures. These are static defects in a single
	// persisted record, caught before the record is interpreted.
	ErrBadSnapshotPos        = errors.New("snapshot id out of range")
	ErrBadValSize            = errors.New("bad record size")
	ErrInvalidChecksum       = errors.New("record checksum mismatch")
	ErrBadParentNode         = errors.New("bad parent node")
	ErrChildrenNotNormalized = errors.New("children not normalized")
	ErrDuplicateChildren     = errors.New("duplicate child nodes")
	ErrBadChildNode          = errors.New("bad child node")

	// Lookup and allocation failures surfaced to callers.
	ErrSnapshotNotFound  = errors.New("snapshot node not found")
	ErrSubvolumeNotFound = errors.New("subvolume not found")
	ErrNoSnapshotIDs     = errors.New("no snapshot ids available")
	ErrNoSubvolumeSlots  = errors.New("no subvolume slots available")
	ErrAlreadyBranched   = errors.New("snapshot node already has children")

	// ErrInconsistent marks a structural defect in the persisted tree.
	// Once raised the filesystem stays inconsistent until repaired.
	ErrInconsistent = errors.New("filesystem inconsistent")

	// ErrClosed is returned by operations on a closed filesystem.
	ErrClosed = errors.New("filesystem is closed")
)
