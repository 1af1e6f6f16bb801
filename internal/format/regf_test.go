package format

import (
	"encoding/binary"
	"testing"
)

func TestParseHeaderSuccess(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, REGFSignature)
	binary.LittleEndian.PutUint32(buf[REGFPrimarySeqOffset:], 1)
	binary.LittleEndian.PutUint32(buf[REGFSecondarySeqOffset:], 2)
	binary.LittleEndian.PutUint64(buf[REGFTimeStampOffset:], 123456789)
	binary.LittleEndian.PutUint32(buf[REGFMajorVersionOffset:], 5)
	binary.LittleEndian.PutUint32(buf[REGFMinorVersionOffset:], 6)
	binary.LittleEndian.PutUint32(buf[REGFTypeOffset:], 7)
	binary.LittleEndian.PutUint32(buf[REGFRootCellOffset:], 0x200)
	binary.LittleEndian.PutUint32(buf[REGFDataSizeOffset:], 0x3000)
	binary.LittleEndian.PutUint32(buf[REGFClusterOffset:], 1)

	hdr, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.PrimarySequence != 1 || hdr.SecondarySequence != 2 {
		t.Fatalf("sequence mismatch: %+v", hdr)
	}
	if hdr.RootCellOffset != 0x200 {
		t.Fatalf("root offset mismatch: %+v", hdr)
	}
	if hdr.HiveBinsDataSize != 0x3000 {
		t.Fatalf("data size mismatch: %+v", hdr)
	}
}

// TestHeaderChecksumReferenceVector pins the XOR-32 algorithm to a known-good
// SYSTEM hive base block: the stored checksum at offset 0x1FC is 0xCC62CA20.
func TestHeaderChecksumReferenceVector(t *testing.T) {
	b := []byte{
		0x72, 0x65, 0x67, 0x66, 0xd8, 0x00, 0x00, 0x00, 0xd8, 0x00, 0x00, 0x00,
		0xa2, 0x18, 0x01, 0x35, 0x47, 0x9f, 0xce, 0x01, 0x01, 0x00, 0x00, 0x00,
		0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00, 0x00, 0x30, 0x71, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x53, 0x00, 0x59, 0x00, 0x53, 0x00, 0x54, 0x00, 0x45, 0x00, 0x4d, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x9d, 0xae, 0x86, 0x7e, 0xae, 0xe3, 0x11,
		0x80, 0xba, 0x00, 0x26, 0xb9, 0x56, 0xc9, 0x68, 0x00, 0x9d, 0xae, 0x86,
		0x7e, 0xae, 0xe3, 0x11, 0x80, 0xba, 0x00, 0x26, 0xb9, 0x56, 0xc9, 0x68,
		0x01, 0x00, 0x00, 0x00, 0x01, 0x9d, 0xae, 0x86, 0x7e, 0xae, 0xe3, 0x11,
		0x80, 0xba, 0x00, 0x26, 0xb9, 0x56, 0xc9, 0x68, 0x72, 0x6d, 0x74, 0x6d,
		0xf9, 0x49, 0xdb, 0x2b, 0x1a, 0xe3, 0xd0, 0x01, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x20, 0xca, 0x62, 0xcc, 0x00,
	}
	got := HeaderChecksum(b)
	if got != 0xCC62CA20 {
		t.Fatalf("checksum mismatch: got 0x%08X, want 0xCC62CA20", got)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := ParseHeader(buf[:10]); err == nil {
		t.Fatalf("expected truncation error")
	}
	copy(buf, []byte{'B', 'A', 'D', '!'})
	if _, err := ParseHeader(buf); err == nil {
		t.Fatalf("expected signature error")
	}
}
