package tree

import (
	"errors"

	"snapfs/internal/base"
	"snapfs/internal/keyed"
)

func subvolKey(id base.SubvolID) keyed.Key {
	return keyed.Key{Pos: uint64(id)}
}

// LookupSubvolume reads and decodes the persisted subvolume record.
// Returns base.ErrSubvolumeNotFound if no record exists.
func LookupSubvolume(tx *keyed.Tx, id base.SubvolID) (base.Subvolume, error) {
	val, err := tx.Get(keyed.StoreSubvolumes, subvolKey(id))
	if errors.Is(err, keyed.ErrKeyNotFound) {
		return base.Subvolume{}, base.ErrSubvolumeNotFound
	}
	if err != nil {
		return base.Subvolume{}, err
	}
	return base.DecodeSubvolume(val)
}

// PutSubvolume stages a subvolume record write.
func PutSubvolume(tx *keyed.Tx, id base.SubvolID, s base.Subvolume) {
	tx.Put(keyed.StoreSubvolumes, subvolKey(id), s.Encode())
}

// DeleteSubvolumeRecord stages removal of the subvolume record. The
// snapshot node branch is torn down separately by the collector.
func DeleteSubvolumeRecord(tx *keyed.Tx, id base.SubvolID) {
	tx.Delete(keyed.StoreSubvolumes, subvolKey(id))
}

// FreeSubvolID finds the lowest unused subvolume id. Returns
// base.ErrNoSubvolumeSlots when the id space is exhausted.
func FreeSubvolID(tx *keyed.Tx) (base.SubvolID, error) {
	next := base.SubvolID(1)
	full := false
	tx.Ascend(keyed.StoreSubvolumes, subvolKey(1), func(k keyed.Key, _ []byte) bool {
		if base.SubvolID(k.Pos) != next {
			return false
		}
		if next == base.MaxSubvolID {
			full = true
			return false
		}
		next++
		return true
	})
	if full {
		return 0, base.ErrNoSubvolumeSlots
	}
	// The free slot joins the read set, so concurrent callers handed
	// the same id conflict at commit.
	if _, err := tx.Get(keyed.StoreSubvolumes, subvolKey(next)); !errors.Is(err, keyed.ErrKeyNotFound) {
		if err != nil {
			return 0, err
		}
		return 0, keyed.ErrTxConflict
	}
	return next, nil
}
