package format

import "github.com/regforensics/hivescan/internal/buf"

// Byte-level sanity ceilings applied while decoding a single cell, distinct
// from the higher-level, count-based types.Limits used by tree-walking
// consumers. These exist purely to reject absurd field values (a corrupt or
// adversarially crafted hive) before they turn into a huge allocation or an
// out-of-bounds read; a well-formed hive never approaches them.
const (
	// MaxSubkeyCount bounds NK.SubkeyCount. Windows never issues anywhere
	// near this many direct subkeys; it exists to catch a torn/garbage field.
	MaxSubkeyCount = 1 << 24

	// MaxValueCount bounds NK.ValueCount for the same reason.
	MaxValueCount = 1 << 24

	// MaxNameLen bounds NK/VK name length in bytes (UTF-16LE or ASCII).
	MaxNameLen = 1 << 16

	// MaxClassLen bounds NK class-name length in bytes.
	MaxClassLen = 1 << 16

	// MaxValueDataLen bounds a VK's declared (non-inline) data length.
	// Big-data values chain through db records in DBChunkSize increments,
	// so this is generous enough to admit the largest practical value.
	MaxValueDataLen = 1 << 30
)

// CheckedReadU16 reads a little-endian uint16 at off, bounds-checked.
func CheckedReadU16(b []byte, off int) (uint16, error) {
	end, ok := buf.AddOverflowSafe(off, 2)
	if !ok || end > len(b) {
		return 0, ErrTruncated
	}
	return buf.U16LE(b[off:end]), nil
}

// CheckedReadU32 reads a little-endian uint32 at off, bounds-checked.
func CheckedReadU32(b []byte, off int) (uint32, error) {
	end, ok := buf.AddOverflowSafe(off, 4)
	if !ok || end > len(b) {
		return 0, ErrTruncated
	}
	return buf.U32LE(b[off:end]), nil
}

// CheckedReadU64 reads a little-endian uint64 at off, bounds-checked.
func CheckedReadU64(b []byte, off int) (uint64, error) {
	end, ok := buf.AddOverflowSafe(off, 8)
	if !ok || end > len(b) {
		return 0, ErrTruncated
	}
	return buf.U64LE(b[off:end]), nil
}
