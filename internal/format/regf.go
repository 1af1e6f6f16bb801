package format

import (
	"bytes"
	"fmt"
	"unicode/utf16"

	"github.com/regforensics/hivescan/internal/buf"
)

// FileType distinguishes a primary hive from a transaction log.
type FileType uint32

const (
	FileTypePrimary                 FileType = 0
	FileTypeTransactionLog          FileType = 1
	FileTypeTransactionLogNewFormat FileType = 6
	FileTypeUnknown                 FileType = 0x0fffffff
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case FileTypePrimary:
		return "Primary"
	case FileTypeTransactionLog:
		return "TransactionLog"
	case FileTypeTransactionLogNewFormat:
		return "TransactionLogNewFormat"
	default:
		return "Unknown"
	}
}

func fileTypeFromValue(v uint32) FileType {
	switch v {
	case uint32(FileTypePrimary), uint32(FileTypeTransactionLog), uint32(FileTypeTransactionLogNewFormat):
		return FileType(v)
	default:
		return FileTypeUnknown
	}
}

// FileFormat describes how the hive bins area was produced.
type FileFormat uint32

const (
	FileFormatDirectMemoryLoad FileFormat = 1
	FileFormatUnknown         FileFormat = 0x0fffffff
)

func fileFormatFromValue(v uint32) FileFormat {
	if v == uint32(FileFormatDirectMemoryLoad) {
		return FileFormatDirectMemoryLoad
	}
	return FileFormatUnknown
}

// BaseBlockReservedFlags are the flags at offset 0x90 of the reserved region.
type BaseBlockReservedFlags uint32

const (
	ReservedFlagsNone          BaseBlockReservedFlags = 0
	ReservedFlagsKtmLockedHive BaseBlockReservedFlags = 1
	ReservedFlagsKtm2          BaseBlockReservedFlags = 2
)

// GUID is a raw 16-byte Windows GUID, kept as bytes rather than decoded into
// its canonical string form; forensic consumers that need the textual form
// can format it themselves.
type GUID [GUIDSize]byte

// Header captures the full REGF base block: the fields every consumer needs
// (sequence numbers, root offset, hive-bins size) plus the extended region
// (GUIDs, flags, embedded filename, boot fields) that only full-field-info
// forensic consumers inspect.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x000   4    'r' 'e' 'g' 'f'
//	 0x004   4    Primary sequence number
//	 0x008   4    Secondary sequence number
//	 0x00C   8    Last write timestamp (FILETIME)
//	 0x014   4    Major version
//	 0x018   4    Minor version
//	 0x01C   4    File type (0=primary, 1=log, 6=log new format)
//	 0x020   4    File format (1=direct memory load)
//	 0x024   4    Offset (relative to first HBIN) of the root cell (NK)
//	 0x028   4    Total size of HBIN data
//	 0x02C   4    Clustering factor (rarely used)
//	 0x030  64    Embedded UTF-16LE filename
//	 0x070  16    Resource-manager GUID
//	 0x080  16    Log GUID
//	 0x090   4    Reserved flags (KtmLockedHive=1, Ktm2=2)
//	 0x094  16    Transaction-manager GUID
//	 0x0A4   4    Inner signature ('rmtm' when present)
//	 0x0A8   8    Last-reorganized FILETIME
//	 0x1FC   4    XOR-32 checksum of bytes 0x000..0x1FB
//	 0xFF8   4    Boot type
//	 0xFFC   4    Boot recover
//
// Windows stores the header in little-endian form.
type Header struct {
	PrimarySequence   uint32
	SecondarySequence uint32
	LastWriteRaw      uint64
	MajorVersion      uint32
	MinorVersion      uint32
	Type              uint32 // raw value, kept for backward-compatible callers
	FileType          FileType
	FileFormat        FileFormat
	RootCellOffset    uint32
	HiveBinsDataSize  uint32
	ClusteringFactor  uint32

	FileName string // embedded UTF-16LE filename, best-effort decoded

	ResourceManagerGUID     GUID
	LogGUID                 GUID
	ReservedFlags           BaseBlockReservedFlags
	TransactionManagerGUID  GUID
	InnerSignatureValid     bool // true when bytes at 0x0A4 read "rmtm"
	LastReorganizedRaw      uint64
	BootType                uint32
	BootRecover             uint32

	Checksum         uint32
	ComputedChecksum uint32
}

// ChecksumValid reports whether the stored checksum matches the computed one.
func (h Header) ChecksumValid() bool {
	return h.Checksum == h.ComputedChecksum
}

// innerSignature is the 'rmtm' marker found at offset 0x0A4 on hives that
// carry a transaction-manager GUID.
var innerSignature = []byte{'r', 'm', 't', 'm'}

// ParseHeader validates and extracts all fields from a REGF base block.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("regf header: %w", ErrTruncated)
	}
	if !bytes.Equal(b[:REGFSignatureSize], REGFSignature) {
		return Header{}, fmt.Errorf("regf header: %w", ErrSignatureMismatch)
	}

	hType := buf.U32LE(b[REGFTypeOffset:])
	hFormat := buf.U32LE(b[REGFFormatOffset:])

	h := Header{
		PrimarySequence:        buf.U32LE(b[REGFPrimarySeqOffset:]),
		SecondarySequence:      buf.U32LE(b[REGFSecondarySeqOffset:]),
		LastWriteRaw:           buf.U64LE(b[REGFTimeStampOffset:]),
		MajorVersion:           buf.U32LE(b[REGFMajorVersionOffset:]),
		MinorVersion:           buf.U32LE(b[REGFMinorVersionOffset:]),
		Type:                   hType,
		FileType:               fileTypeFromValue(hType),
		FileFormat:             fileFormatFromValue(hFormat),
		RootCellOffset:         buf.U32LE(b[REGFRootCellOffset:]),
		HiveBinsDataSize:       buf.U32LE(b[REGFDataSizeOffset:]),
		ClusteringFactor:       buf.U32LE(b[REGFClusterOffset:]),
		FileName:               decodeEmbeddedFileName(b[REGFFileNameOffset : REGFFileNameOffset+REGFFileNameSize]),
		ReservedFlags:          BaseBlockReservedFlags(buf.U32LE(b[REGFFlagsOffset:])),
		LastReorganizedRaw:     buf.U64LE(b[REGFLastReorgTimeOffset:]),
		BootType:               buf.U32LE(b[REGFBootTypeOffset:]),
		BootRecover:            buf.U32LE(b[REGFBootRecovOffset:]),
		Checksum:               buf.U32LE(b[REGFCheckSumOffset:]),
	}
	copy(h.ResourceManagerGUID[:], b[REGFRmIDOffset:REGFRmIDOffset+GUIDSize])
	copy(h.LogGUID[:], b[REGFLogIDOffset:REGFLogIDOffset+GUIDSize])
	copy(h.TransactionManagerGUID[:], b[REGFTmIDOffset:REGFTmIDOffset+GUIDSize])
	h.InnerSignatureValid = bytes.Equal(b[REGFGuidSigOffset:REGFGuidSigOffset+4], innerSignature)
	h.ComputedChecksum = HeaderChecksum(b)

	return h, nil
}

// HeaderChecksum computes the XOR-32 checksum Windows stores at
// REGFCheckSumOffset: the XOR of the 127 little-endian uint32 words covering
// bytes 0x000..0x1FB. Two XOR results are remapped (0 and 0xFFFFFFFF are not
// valid stored checksums, since a stored checksum of 0 could be confused with
// "not yet computed").
func HeaderChecksum(b []byte) uint32 {
	var xsum uint32
	for i := 0; i < REGFChecksumDwords; i++ {
		off := i * 4
		xsum ^= buf.U32LE(b[off : off+4])
	}
	switch xsum {
	case 0:
		return 1
	case 0xFFFFFFFF:
		return 0xFFFFFFFE
	default:
		return xsum
	}
}

// decodeEmbeddedFileName decodes the 64-byte UTF-16LE filename field,
// stopping at the first NUL code unit.
func decodeEmbeddedFileName(raw []byte) string {
	units := len(raw) / 2
	out := make([]uint16, 0, units)
	for i := 0; i < units; i++ {
		u := uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
		if u == 0 {
			break
		}
		out = append(out, u)
	}
	return string(utf16.Decode(out))
}
