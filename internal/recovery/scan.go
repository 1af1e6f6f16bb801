// Package recovery implements the two recoverable-artifact sources: a scan
// of unallocated cells for nk/vk signatures the allocator hasn't overwritten
// yet, and a pre/post-log diff that flags entries a transaction log replay
// deleted or modified.
package recovery

import (
	"bytes"

	"github.com/regforensics/hivescan/internal/format"
)

// Provenance tags a recovered or changed item with how it was found.
type Provenance int

const (
	// Allocated means the item came from the normal, in-use tree walk.
	Allocated Provenance = iota
	// Deleted means the item was recovered from an unallocated cell.
	Deleted
	// Modified means the item exists in both the pre-log and post-log
	// trees but at least one attribute differs.
	Modified
	// DeletedPrimaryFile means the item was present before transaction-log
	// replay and absent afterward.
	DeletedPrimaryFile
)

func (p Provenance) String() string {
	switch p {
	case Allocated:
		return "allocated"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case DeletedPrimaryFile:
		return "deleted-primary-file"
	default:
		return "unknown"
	}
}

// RecoveredCell is one nk or vk cell found in unallocated space that
// decoded cleanly (and, for nk, passed nkOffsetsPlausible).
type RecoveredCell struct {
	Offset     int // offset of the cell header within the hive-bins region
	Kind       string // "nk" or "vk"
	Provenance Provenance
	NK         *format.NKRecord
	VK         *format.VKRecord
}

// ScanUnallocated walks every hive bin in hiveBins (the bytes following the
// 4096-byte base block) and attempts to reinterpret each free cell as an nk
// or vk record. An nk candidate is kept only when its parent, subkey-list and
// value-list offsets are InvalidOffset or fall within the bounds of hiveBins;
// a vk candidate is kept whenever it decodes, with its data offset unchecked.
// Offsets are not required to stay in the candidate's own hive bin, and the
// cells they point to are not decoded.
func ScanUnallocated(hiveBins []byte) []RecoveredCell {
	var found []RecoveredCell

	off := 0
	for off < len(hiveBins) {
		hbin, next, err := format.NextHBIN(hiveBins, off)
		if err != nil {
			break
		}
		found = append(found, scanHBINCells(hiveBins, hbin, off)...)
		off = next
	}
	return found
}

func scanHBINCells(hiveBins []byte, hbin format.HBIN, hbinOff int) []RecoveredCell {
	var found []RecoveredCell
	cellOff := hbinOff + format.HBINHeaderSize
	for cellOff < hbinOff+int(hbin.Size) {
		cell, next, err := format.NextCell(hiveBins, hbin, cellOff)
		if err != nil {
			break
		}
		if cell.Free && len(cell.Data) >= format.SignatureSize {
			if rc, ok := tryDecodeFreeCell(hiveBins, cell); ok {
				found = append(found, rc)
			}
		}
		cellOff = next
	}
	return found
}

func tryDecodeFreeCell(hiveBins []byte, cell format.Cell) (RecoveredCell, bool) {
	switch {
	case bytes.Equal(cell.Data[:format.SignatureSize], format.NKSignature):
		nk, err := format.DecodeNK(cell.Data)
		if err != nil {
			return RecoveredCell{}, false
		}
		if !nkOffsetsPlausible(hiveBins, nk) {
			return RecoveredCell{}, false
		}
		return RecoveredCell{Offset: cell.Offset, Kind: "nk", Provenance: Deleted, NK: &nk}, true

	case bytes.Equal(cell.Data[:format.SignatureSize], format.VKSignature):
		vk, err := format.DecodeVK(cell.Data)
		if err != nil {
			return RecoveredCell{}, false
		}
		return RecoveredCell{Offset: cell.Offset, Kind: "vk", Provenance: Deleted, VK: &vk}, true
	}
	return RecoveredCell{}, false
}

// nkOffsetsPlausible checks that an NK record recovered from free space
// points to offsets that at least lie within the hive-bins region; it does
// not require the target cell to currently be allocated, since a deleted
// key's subkey list may itself live in freed space.
func nkOffsetsPlausible(hiveBins []byte, nk format.NKRecord) bool {
	inBounds := func(o uint32) bool {
		return o == format.InvalidOffset || int(o) < len(hiveBins)
	}
	return inBounds(nk.ParentOffset) && inBounds(nk.SubkeyListOffset) && inBounds(nk.ValueListOffset)
}
