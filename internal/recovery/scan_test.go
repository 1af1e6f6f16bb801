package recovery

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regforensics/hivescan/internal/format"
)

func buildFreeNKCell(totalSize int) []byte {
	cell := make([]byte, totalSize)
	binary.LittleEndian.PutUint32(cell[0:], uint32(totalSize)) // positive => free
	copy(cell[4:], format.NKSignature)
	binary.LittleEndian.PutUint32(cell[4+format.NKParentOffset:], format.InvalidOffset)
	binary.LittleEndian.PutUint32(cell[4+format.NKSubkeyListOffset:], format.InvalidOffset)
	binary.LittleEndian.PutUint32(cell[4+format.NKValueListOffset:], format.InvalidOffset)
	name := []byte("Deleted")
	binary.LittleEndian.PutUint16(cell[4+format.NKNameLenOffset:], uint16(len(name)))
	copy(cell[4+format.NKNameOffset:], name)
	return cell
}

func buildHBINWithFreeNK() []byte {
	const hbinSize = 0x1000
	hbin := make([]byte, hbinSize)
	copy(hbin, format.HBINSignature)
	binary.LittleEndian.PutUint32(hbin[format.HBINFileOffsetField:], 0)
	binary.LittleEndian.PutUint32(hbin[format.HBINSizeOffset:], hbinSize)

	cell := buildFreeNKCell(hbinSize - format.HBINHeaderSize)
	copy(hbin[format.HBINHeaderSize:], cell)
	return hbin
}

func TestScanUnallocatedRecoversFreeNK(t *testing.T) {
	hiveBins := buildHBINWithFreeNK()

	found := ScanUnallocated(hiveBins)
	require.Len(t, found, 1)
	assert.Equal(t, "nk", found[0].Kind)
	assert.Equal(t, Deleted, found[0].Provenance)
	require.NotNil(t, found[0].NK)
	assert.Equal(t, "Deleted", string(found[0].NK.NameRaw))
}

func TestScanUnallocatedSkipsAllocatedCells(t *testing.T) {
	const hbinSize = 0x1000
	hbin := make([]byte, hbinSize)
	copy(hbin, format.HBINSignature)
	binary.LittleEndian.PutUint32(hbin[format.HBINSizeOffset:], hbinSize)

	cellSize := hbinSize - format.HBINHeaderSize
	binary.LittleEndian.PutUint32(hbin[format.HBINHeaderSize:], uint32(-int32(cellSize))) // negative => allocated
	copy(hbin[format.HBINHeaderSize+4:], format.NKSignature)

	found := ScanUnallocated(hbin)
	assert.Empty(t, found)
}
