package hive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regforensics/hivescan/internal/format"
	"github.com/regforensics/hivescan/pkg/filter"
)

// writeNK writes a minimal NK record (no subkeys, no values) at cellOff
// within buf, with totalSize bytes allocated for the cell (negative-size
// header, signalling an in-use cell).
func writeNK(buf []byte, cellOff int, name string, parentOff uint32) {
	cellSize := format.Align8(4 + format.NKFixedHeaderSize + len(name))
	format.PutI32(buf, cellOff, -int32(cellSize))
	payload := cellOff + 4
	copy(buf[payload+format.NKSignatureOffset:], format.NKSignature)
	format.PutU32(buf, payload+format.NKParentOffset, parentOff)
	format.PutU32(buf, payload+format.NKSubkeyListOffset, format.InvalidOffset)
	format.PutU32(buf, payload+format.NKValueListOffset, format.InvalidOffset)
	format.PutU32(buf, payload+format.NKSecurityOffset, format.InvalidOffset)
	format.PutU32(buf, payload+format.NKClassNameOffset, format.InvalidOffset)
	format.PutU16(buf, payload+format.NKNameLenOffset, uint16(len(name)))
	copy(buf[payload+format.NKNameOffset:], name)
}

// writeMinimalHive builds a one-HBIN hive containing a root key named
// "root" with no subkeys or values and writes it to path.
func writeMinimalHive(t *testing.T, path string) {
	t.Helper()
	buf := make([]byte, format.HeaderSize+format.HBINAlignment)

	copy(buf[format.REGFSignatureOffset:], format.REGFSignature)
	format.PutU32(buf, format.REGFPrimarySeqOffset, 1)
	format.PutU32(buf, format.REGFSecondarySeqOffset, 1)
	format.PutU32(buf, format.REGFRootCellOffset, 0x20)
	format.PutU32(buf, format.REGFDataSizeOffset, uint32(format.HBINAlignment))
	format.PutU32(buf, format.REGFMajorVersionOffset, 1)
	format.PutU32(buf, format.REGFMinorVersionOffset, 5)

	hbinOff := format.HeaderSize
	copy(buf[hbinOff:], format.HBINSignature)
	format.PutU32(buf, hbinOff+format.HBINFileOffsetField, 0)
	format.PutU32(buf, hbinOff+format.HBINSizeOffset, uint32(format.HBINAlignment))

	writeNK(buf, hbinOff+0x20, "root", format.InvalidOffset)

	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestSessionOpenResolvesRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.hiv")
	writeMinimalHive(t, path)

	sess, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	root, err := sess.Root()
	require.NoError(t, err)
	require.Equal(t, "root", root.Name)
	require.Empty(t, root.Values)
}

func TestSessionIterateWithoutFilterVisitsRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.hiv")
	writeMinimalHive(t, path)

	sess, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	it := sess.Iterate(nil)
	var names []string
	for it.Next() {
		names = append(names, it.Node().Name)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"root"}, names)
}

func TestSessionIterateWithFilterPrunesNonMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.hiv")
	writeMinimalHive(t, path)

	sess, err := Open(path, OpenOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	q := filter.FromKey(`nonexistent`).KeyPathHasRoot(true).Build()
	it := sess.Iterate(filter.FromQuery(q))
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

// hiveBuilder assembles a one-HBIN synthetic hive out of a bump allocator,
// letting a test declare a tree of NK/VK cells without pre-computing every
// cell's final offset by hand: a parent is allocated (with placeholder
// InvalidOffset list fields) before its children exist, then patched once
// the children's offsets are known.
type hiveBuilder struct {
	t   *testing.T
	buf []byte
	pos int // next free relative (hive-bins-region) offset
}

func newHiveBuilder(t *testing.T, size int) *hiveBuilder {
	t.Helper()
	buf := make([]byte, format.HeaderSize+size)
	copy(buf[format.HeaderSize:], format.HBINSignature)
	format.PutU32(buf, format.HeaderSize+format.HBINFileOffsetField, 0)
	format.PutU32(buf, format.HeaderSize+format.HBINSizeOffset, uint32(size))
	return &hiveBuilder{t: t, buf: buf, pos: format.HBINHeaderSize}
}

// alloc reserves size bytes (8-byte aligned) for an in-use cell and returns
// its relative offset (for NK/VK cross-references) and the absolute offset
// of its payload (just past the 4-byte cell-size header).
func (b *hiveBuilder) alloc(size int) (rel uint32, payload int) {
	cellSize := format.Align8(size)
	rel = uint32(b.pos)
	abs := format.HeaderSize + b.pos
	format.PutI32(b.buf, abs, -int32(cellSize))
	payload = abs + 4
	b.pos += cellSize
	return rel, payload
}

func (b *hiveBuilder) addNK(name string, parent uint32, subkeyCount, valueCount int) uint32 {
	rel, payload := b.alloc(4 + format.NKFixedHeaderSize + len(name))
	copy(b.buf[payload+format.NKSignatureOffset:], format.NKSignature)
	format.PutU32(b.buf, payload+format.NKParentOffset, parent)
	format.PutU32(b.buf, payload+format.NKSubkeyListOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKValueListOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKSecurityOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKClassNameOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKSubkeyCountOffset, uint32(subkeyCount))
	format.PutU32(b.buf, payload+format.NKValueCountOffset, uint32(valueCount))
	format.PutU16(b.buf, payload+format.NKNameLenOffset, uint16(len(name)))
	copy(b.buf[payload+format.NKNameOffset:], name)
	return rel
}

func (b *hiveBuilder) payloadOf(rel uint32) int {
	return format.HeaderSize + int(rel) + 4
}

func (b *hiveBuilder) setSubkeyList(nk uint32, listRel uint32) {
	format.PutU32(b.buf, b.payloadOf(nk)+format.NKSubkeyListOffset, listRel)
}

func (b *hiveBuilder) setValueList(nk uint32, listRel uint32) {
	format.PutU32(b.buf, b.payloadOf(nk)+format.NKValueListOffset, listRel)
}

// addLFList writes an "lf" subkey list cell referencing children, each
// entry carrying a 4-byte hash the reader ignores (names are compared by
// decoding the target NK directly).
func (b *hiveBuilder) addLFList(children []uint32) uint32 {
	rel, payload := b.alloc(4 + format.ListHeaderSize + len(children)*format.LFEntrySize)
	copy(b.buf[payload:], format.LFSignature)
	format.PutU16(b.buf, payload+format.SignatureSize, uint16(len(children)))
	for i, c := range children {
		format.PutU32(b.buf, payload+format.ListHeaderSize+i*format.LFEntrySize, c)
	}
	return rel
}

// addValueList writes a bare array of VK offsets (no signature/header).
func (b *hiveBuilder) addValueList(values []uint32) uint32 {
	rel, payload := b.alloc(4 + len(values)*format.OffsetFieldSize)
	for i, v := range values {
		format.PutU32(b.buf, payload+i*format.OffsetFieldSize, v)
	}
	return rel
}

// addVKDwordInline writes a VK record whose 4-byte value is stored inline
// in the DataOffset field itself, matching how the reader's value decoder
// reconstructs inline data: the DataOffset field's raw little-endian bytes
// *are* the value, truncated to DataLength.
func (b *hiveBuilder) addVKDwordInline(name string, value uint32) uint32 {
	rel, payload := b.alloc(4 + format.VKFixedHeaderSize + len(name))
	copy(b.buf[payload+format.VKSignatureOffset:], format.VKSignature)
	format.PutU16(b.buf, payload+format.VKNameLenOffset, uint16(len(name)))
	format.PutU32(b.buf, payload+format.VKDataLenOffset, uint32(4)|format.VKDataInlineBit)
	format.PutU32(b.buf, payload+format.VKDataOffOffset, value)
	format.PutU32(b.buf, payload+format.VKTypeOffset, uint32(REG_DWORD))
	format.PutU16(b.buf, payload+format.VKFlagsOffset, format.VKFlagASCIIName)
	copy(b.buf[payload+format.VKNameOffset:], name)
	return rel
}

// fillTrailingFreeNK consumes every remaining byte in the HBIN as a single
// free cell shaped like an NK record, so ScanUnallocated's sequential cell
// walk reaches it without tripping over an unformatted (zero-length) gap.
func (b *hiveBuilder) fillTrailingFreeNK(name string) {
	size := len(b.buf) - format.HeaderSize - b.pos
	b.t.Helper()
	require.GreaterOrEqual(b.t, size, 4+format.NKFixedHeaderSize+len(name))
	abs := format.HeaderSize + b.pos
	format.PutI32(b.buf, abs, int32(size)) // positive => free
	payload := abs + 4
	copy(b.buf[payload+format.NKSignatureOffset:], format.NKSignature)
	format.PutU32(b.buf, payload+format.NKParentOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKSubkeyListOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKValueListOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKSecurityOffset, format.InvalidOffset)
	format.PutU32(b.buf, payload+format.NKClassNameOffset, format.InvalidOffset)
	format.PutU16(b.buf, payload+format.NKNameLenOffset, uint16(len(name)))
	copy(b.buf[payload+format.NKNameOffset:], name)
	b.pos = len(b.buf) - format.HeaderSize
}

func (b *hiveBuilder) finish(path string) {
	b.t.Helper()
	copy(b.buf[format.REGFSignatureOffset:], format.REGFSignature)
	format.PutU32(b.buf, format.REGFPrimarySeqOffset, 1)
	format.PutU32(b.buf, format.REGFSecondarySeqOffset, 1)
	format.PutU32(b.buf, format.REGFDataSizeOffset, uint32(len(b.buf)-format.HeaderSize))
	format.PutU32(b.buf, format.REGFMajorVersionOffset, 1)
	format.PutU32(b.buf, format.REGFMinorVersionOffset, 5)
	require.NoError(b.t, os.WriteFile(path, b.buf, 0o644))
}

// buildLayeredHive constructs:
//
//	root
//	 +-- Software
//	 |    +-- Vendor (value "Version"=DWORD 7)
//	 +-- Hardware
//	      +-- Description
//
// and writes it to path. rootRel is recorded in
// format.REGFRootCellOffset.
func buildLayeredHive(t *testing.T, path string) {
	t.Helper()
	b := newHiveBuilder(t, 8*format.HBINAlignment)

	root := b.addNK("root", format.InvalidOffset, 2, 0)
	software := b.addNK("Software", root, 1, 0)
	hardware := b.addNK("Hardware", root, 1, 0)
	vendor := b.addNK("Vendor", software, 0, 1)
	description := b.addNK("Description", hardware, 0, 0)

	version := b.addVKDwordInline("Version", 7)
	vendorValues := b.addValueList([]uint32{version})
	b.setValueList(vendor, vendorValues)

	softwareChildren := b.addLFList([]uint32{vendor})
	b.setSubkeyList(software, softwareChildren)

	hardwareChildren := b.addLFList([]uint32{description})
	b.setSubkeyList(hardware, hardwareChildren)

	rootChildren := b.addLFList([]uint32{software, hardware})
	b.setSubkeyList(root, rootChildren)

	format.PutU32(b.buf, format.REGFRootCellOffset, root)
	b.finish(path)
}

func openLayeredHive(t *testing.T, opts OpenOptions) *Session {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "layered.hiv")
	buildLayeredHive(t, path)
	sess, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionIterateMatchesNonRootAnchoredQueryAtDepth(t *testing.T) {
	sess := openLayeredHive(t, OpenOptions{})

	q := filter.FromKey(`Software\Vendor`).KeyPathHasRoot(false).Build()
	it := sess.Iterate(filter.FromQuery(q))

	var matched []string
	for it.Next() {
		matched = append(matched, it.Node().Path)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{`\root\Software\Vendor`}, matched)
}

func TestSessionIterateReturnChildKeysEmitsMatchedChildren(t *testing.T) {
	sess := openLayeredHive(t, OpenOptions{})

	q := filter.FromKey(`Software`).KeyPathHasRoot(false).ReturnChildKeys(true).Build()
	it := sess.Iterate(filter.FromQuery(q))

	var paths []string
	for it.Next() {
		paths = append(paths, it.Node().Path)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{`\root\Software`, `\root\Software\Vendor`}, paths)
}

func TestSessionIterateWithoutReturnChildKeysStopsAtMatch(t *testing.T) {
	sess := openLayeredHive(t, OpenOptions{})

	q := filter.FromKey(`Software`).KeyPathHasRoot(false).Build()
	it := sess.Iterate(filter.FromQuery(q))

	var paths []string
	for it.Next() {
		paths = append(paths, it.Node().Path)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{`\root\Software`}, paths)
}

func TestSessionIterateRegexOnTopLevelSegment(t *testing.T) {
	sess := openLayeredHive(t, OpenOptions{})

	q := filter.FromKey(`placeholder`).WithRegex(0, "^(soft|hard)ware$").KeyPathHasRoot(false).Build()
	it := sess.Iterate(filter.FromQuery(q))

	var paths []string
	for it.Next() {
		paths = append(paths, it.Node().Path)
	}
	require.NoError(t, it.Err())
	require.ElementsMatch(t, []string{`\root\Software`, `\root\Hardware`}, paths)
}

func TestSessionKeyDecodesInlineDwordValue(t *testing.T) {
	sess := openLayeredHive(t, OpenOptions{})

	node, err := sess.Key(`root\Software\Vendor`, true)
	require.NoError(t, err)
	require.Len(t, node.Values, 1)
	require.Equal(t, "Version", node.Values[0].Name)
	require.Equal(t, REG_DWORD, node.Values[0].Type)
	require.Equal(t, []byte{7, 0, 0, 0}, node.Values[0].Data)
}

func TestSessionRecoverDeletedSurfacesCellsAfterAllocatedWalk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layered-with-orphan.hiv")

	b := newHiveBuilder(t, 8*format.HBINAlignment)
	root := b.addNK("root", format.InvalidOffset, 2, 0)
	software := b.addNK("Software", root, 1, 0)
	hardware := b.addNK("Hardware", root, 1, 0)
	vendor := b.addNK("Vendor", software, 0, 1)
	description := b.addNK("Description", hardware, 0, 0)

	version := b.addVKDwordInline("Version", 7)
	vendorValues := b.addValueList([]uint32{version})
	b.setValueList(vendor, vendorValues)

	softwareChildren := b.addLFList([]uint32{vendor})
	b.setSubkeyList(software, softwareChildren)
	hardwareChildren := b.addLFList([]uint32{description})
	b.setSubkeyList(hardware, hardwareChildren)
	rootChildren := b.addLFList([]uint32{software, hardware})
	b.setSubkeyList(root, rootChildren)
	format.PutU32(b.buf, format.REGFRootCellOffset, root)

	// Consume the rest of the HBIN as a single free cell shaped like an
	// orphaned NK: ScanUnallocated should pick it up once the allocated
	// walk is exhausted.
	b.fillTrailingFreeNK("Orphan")
	b.finish(path)

	sess, err := Open(path, OpenOptions{RecoverDeleted: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	it := sess.Iterate(nil)
	var names []string
	var provenances []string
	for it.Next() {
		names = append(names, it.Node().Name)
		provenances = append(provenances, it.Node().Provenance)
	}
	require.NoError(t, it.Err())

	require.Contains(t, names, "Orphan")
	orphanIdx := -1
	for i, n := range names {
		if n == "Orphan" {
			orphanIdx = i
		}
	}
	require.Greater(t, orphanIdx, 0, "recovered cell should be emitted after the allocated walk")
	require.Equal(t, "deleted", provenances[orphanIdx])

	// The allocated keys must all precede the recovered one and keep
	// their own "allocated" provenance.
	for i := 0; i < orphanIdx; i++ {
		require.Equal(t, "allocated", provenances[i])
	}
}

func TestSessionTransactionLogReconciliationAppliesDirtyPage(t *testing.T) {
	dir := t.TempDir()
	primaryPath := filepath.Join(dir, "layered.hiv")
	buildLayeredHive(t, primaryPath)

	primary, err := os.ReadFile(primaryPath)
	require.NoError(t, err)

	// Flip the primary's own sequence numbers so reconciliation sees work
	// to do, then record the single HBIN page (offset 0 in the hive-bins
	// region) as a log entry that advances "Hardware"'s last-write time,
	// leaving its name (and so its path) unchanged.
	format.PutU32(primary, format.REGFPrimarySeqOffset, 2)
	format.PutU32(primary, format.REGFSecondarySeqOffset, 1)
	require.NoError(t, os.WriteFile(primaryPath, primary, 0o644))

	page := append([]byte(nil), primary[format.HeaderSize:format.HeaderSize+format.HBINAlignment]...)
	hardwareNK := findNKPayload(t, page, "Hardware")
	format.PutU64(page, hardwareNK+format.NKLastWriteOffset, 0x01D8000000000000)

	log := buildSingleEntryLog(t, primary, page)

	sess, err := Open(primaryPath, OpenOptions{RecoverDeleted: true, TransactionLogs: [][]byte{log}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	root, err := sess.Root()
	require.NoError(t, err)
	require.Len(t, root.PriorVersions, 0) // root itself is untouched by the log

	node, err := sess.Key(`root\Hardware`, false)
	require.NoError(t, err)
	require.Equal(t, "modified", node.Provenance)
	require.Len(t, node.PriorVersions, 1)
	require.NotEqual(t, node.LastWrite, node.PriorVersions[0].LastWrite)
}

// findNKPayload locates the payload offset (relative to page's own start)
// of the NK cell named name within a single HBIN page.
func findNKPayload(t *testing.T, page []byte, name string) int {
	t.Helper()
	off := format.HBINHeaderSize
	for off+4 <= len(page) {
		size := int(int32(format.ReadU32(page, off)))
		cellSize := size
		if cellSize < 0 {
			cellSize = -cellSize
		}
		payload := off + 4
		if payload+format.NKNameOffset <= len(page) {
			nameLen := int(format.ReadU16(page, payload+format.NKNameLenOffset))
			if payload+format.NKNameOffset+nameLen <= len(page) {
				if string(page[payload+format.NKNameOffset:payload+format.NKNameOffset+nameLen]) == name {
					return payload
				}
			}
		}
		if cellSize == 0 {
			break
		}
		off += cellSize
	}
	t.Fatalf("NK %q not found in page", name)
	return 0
}

// buildSingleEntryLog constructs a minimal .LOG1 file: a REGF-shaped base
// block (primary sequence one ahead of the primary's secondary sequence)
// followed by one HvLE entry carrying a single dirty page.
func buildSingleEntryLog(t *testing.T, primary []byte, page []byte) []byte {
	t.Helper()
	hdr := make([]byte, format.HeaderSize)
	copy(hdr[format.REGFSignatureOffset:], format.REGFSignature)
	format.PutU32(hdr, format.REGFPrimarySeqOffset, 2)
	format.PutU32(hdr, format.REGFSecondarySeqOffset, 1)
	format.PutU32(hdr, format.REGFTypeOffset, uint32(format.FileTypeTransactionLog))

	entryHeaderSize := 32
	entry := make([]byte, entryHeaderSize+4+len(page))
	copy(entry[0:4], "HvLE")
	format.PutU32(entry, 4, uint32(len(entry)))
	format.PutU32(entry, 12, 2) // sequence this entry brings the primary to
	format.PutU32(entry, 20, 1) // page count
	format.PutU32(entry, entryHeaderSize, 0)
	copy(entry[entryHeaderSize+4:], page)

	return append(hdr, entry...)
}
