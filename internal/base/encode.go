package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Record encodings are fixed-size big-endian payloads followed by a
// 64-bit xxhash of the payload. Decode rejects wrong sizes and
// checksum mismatches before any field is interpreted.
const (
	snapshotNodePayload = 20
	subvolumePayload    = 16

	// SnapshotNodeSize is the exact encoded size of a SnapshotNode.
	SnapshotNodeSize = snapshotNodePayload + 8

	// SubvolumeSize is the exact encoded size of a Subvolume.
	SubvolumeSize = subvolumePayload + 8
)

// Encode serializes the node with a trailing checksum.
func (n SnapshotNode) Encode() []byte {
	buf := make([]byte, SnapshotNodeSize)
	var flags uint32
	if n.Deleted {
		flags |= snapshotDeleted
	}
	if n.SubvolRoot {
		flags |= snapshotSubvolRoot
	}
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(n.Parent))
	binary.BigEndian.PutUint32(buf[8:12], uint32(n.Children[0]))
	binary.BigEndian.PutUint32(buf[12:16], uint32(n.Children[1]))
	binary.BigEndian.PutUint32(buf[16:20], uint32(n.Subvol))
	binary.BigEndian.PutUint64(buf[snapshotNodePayload:], xxhash.Sum64(buf[:snapshotNodePayload]))
	return buf
}

// DecodeSnapshotNode parses an encoded SnapshotNode, verifying size
// and checksum.
func DecodeSnapshotNode(val []byte) (SnapshotNode, error) {
	if len(val) != SnapshotNodeSize {
		return SnapshotNode{}, ErrBadValSize
	}
	if binary.BigEndian.Uint64(val[snapshotNodePayload:]) != xxhash.Sum64(val[:snapshotNodePayload]) {
		return SnapshotNode{}, ErrInvalidChecksum
	}
	flags := binary.BigEndian.Uint32(val[0:4])
	return SnapshotNode{
		Parent: SnapID(binary.BigEndian.Uint32(val[4:8])),
		Children: [2]SnapID{
			SnapID(binary.BigEndian.Uint32(val[8:12])),
			SnapID(binary.BigEndian.Uint32(val[12:16])),
		},
		Subvol:     SubvolID(binary.BigEndian.Uint32(val[16:20])),
		Deleted:    flags&snapshotDeleted != 0,
		SubvolRoot: flags&snapshotSubvolRoot != 0,
	}, nil
}

// Encode serializes the subvolume with a trailing checksum.
func (s Subvolume) Encode() []byte {
	buf := make([]byte, SubvolumeSize)
	var flags uint32
	if s.ReadOnly {
		flags |= subvolReadOnly
	}
	if s.Snap {
		flags |= subvolSnap
	}
	binary.BigEndian.PutUint32(buf[0:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(s.Snapshot))
	binary.BigEndian.PutUint64(buf[8:16], s.Inode)
	binary.BigEndian.PutUint64(buf[subvolumePayload:], xxhash.Sum64(buf[:subvolumePayload]))
	return buf
}

// DecodeSubvolume parses an encoded Subvolume, verifying size and
// checksum.
func DecodeSubvolume(val []byte) (Subvolume, error) {
	if len(val) != SubvolumeSize {
		return Subvolume{}, ErrBadValSize
	}
	if binary.BigEndian.Uint64(val[subvolumePayload:]) != xxhash.Sum64(val[:subvolumePayload]) {
		return Subvolume{}, ErrInvalidChecksum
	}
	flags := binary.BigEndian.Uint32(val[0:4])
	return Subvolume{
		Snapshot: SnapID(binary.BigEndian.Uint32(val[4:8])),
		Inode:    binary.BigEndian.Uint64(val[8:16]),
		ReadOnly: flags&subvolReadOnly != 0,
		Snap:     flags&subvolSnap != 0,
	}, nil
}
