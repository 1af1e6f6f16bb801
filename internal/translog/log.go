// Package translog reconciles a primary hive image with its .LOG1/.LOG2
// transaction log files, producing a page-offset-keyed overlay the byte
// reader can compose with the immutable base image.
package translog

import (
	"fmt"
	"sort"

	"github.com/regforensics/hivescan/internal/buf"
	"github.com/regforensics/hivescan/internal/format"
)

const (
	// PageSize is the dirty-page granularity transaction logs record.
	PageSize = 4096

	entrySignatureSize = 4
	entryHeaderSize    = 32
)

var entrySignature = []byte("HvLE")

// Entry is one dirty-page record from a transaction log: the sequence
// number the primary reaches once this entry is applied, and the set of
// 4096-byte pages it replaces, keyed by their offset into the hive-bins
// data region (i.e. relative to the end of the 4096-byte base block).
type Entry struct {
	Sequence uint32
	Pages    map[uint32][]byte
}

// Log is one parsed .LOG1/.LOG2 file.
type Log struct {
	Header  format.Header
	Entries []Entry
}

// Parse decodes a transaction log file: its REGF-shaped base block followed
// by a sequence of HvLE dirty-page entries. Parsing is tolerant of a
// truncated final entry (a log can be caught mid-write); it simply stops and
// returns what was decoded so far.
func Parse(data []byte) (*Log, error) {
	if len(data) < format.HeaderSize {
		return nil, fmt.Errorf("translog: %w", format.ErrTruncated)
	}
	hdr, err := format.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("translog: header: %w", err)
	}
	if hdr.FileType != format.FileTypeTransactionLog && hdr.FileType != format.FileTypeTransactionLogNewFormat {
		return nil, fmt.Errorf("translog: file_type %d is not a transaction log", hdr.FileType)
	}

	log := &Log{Header: hdr}
	off := format.HeaderSize
	for off+entryHeaderSize <= len(data) {
		entry, consumed, ok := parseEntry(data[off:])
		if !ok {
			break
		}
		log.Entries = append(log.Entries, entry)
		off += consumed
	}
	return log, nil
}

// parseEntry decodes one HvLE record starting at b[0]. It returns false
// when b doesn't start with a valid signature (end of log) or declares a
// size that would run past the buffer (truncated write).
func parseEntry(b []byte) (Entry, int, bool) {
	if len(b) < entryHeaderSize || string(b[:entrySignatureSize]) != string(entrySignature) {
		return Entry{}, 0, false
	}
	size := buf.U32LE(b[4:])
	sequence := buf.U32LE(b[12:])
	pageCount := buf.U32LE(b[20:])

	if size < entryHeaderSize || uint64(size) > uint64(len(b)) {
		return Entry{}, 0, false
	}

	offsetArrayStart := entryHeaderSize
	offsetArrayLen := int(pageCount) * 4
	pagesStart := offsetArrayStart + offsetArrayLen
	if pagesStart > len(b) {
		return Entry{}, 0, false
	}

	entry := Entry{Sequence: sequence, Pages: make(map[uint32][]byte, pageCount)}
	for i := 0; i < int(pageCount); i++ {
		pageOffset := buf.U32LE(b[offsetArrayStart+i*4:])
		start := pagesStart + i*PageSize
		end := start + PageSize
		if end > len(b) {
			// torn write mid-page: keep the pages decoded so far.
			return entry, int(size), true
		}
		entry.Pages[pageOffset] = append([]byte(nil), b[start:end]...)
	}
	return entry, int(size), true
}

// Overlay is the composed view of dirty pages to splice over a base image.
type Overlay struct {
	Pages map[uint32][]byte
}

// Apply returns a copy of base with every recorded page that fits inside it
// spliced in at its offset (relative to the end of the 4096-byte base block);
// a page that would run past the end of base is skipped. With no pages, base
// itself is returned. base itself is never mutated.
func (o *Overlay) Apply(base []byte) []byte {
	if o == nil || len(o.Pages) == 0 {
		return base
	}
	out := append([]byte(nil), base...)
	for pageOffset, page := range o.Pages {
		start := format.HeaderSize + int(pageOffset)
		end := start + len(page)
		if start < 0 || end > len(out) {
			continue
		}
		copy(out[start:end], page)
	}
	return out
}

// Reconciliation reports the outcome of applying a set of logs to a primary
// header: the resulting overlay, the final reconciled sequence number, and
// any warnings produced along the way (e.g. a torn write or sequence gap).
type Reconciliation struct {
	Overlay       *Overlay
	FinalSequence uint32
	Applied       int
	Warnings      []string
}

// Reconcile implements the primary/secondary sequence-number reconciliation
// algorithm: logs are sorted by their own primary sequence number, and
// applied in order as long as each one's sequence picks up exactly where
// the previous reconciled state left off. A gap or torn write halts
// application and is recorded as a warning rather than an error — the
// caller still gets everything that could be safely reconciled.
func Reconcile(primary format.Header, logs []*Log) Reconciliation {
	result := Reconciliation{
		Overlay:       &Overlay{Pages: map[uint32][]byte{}},
		FinalSequence: primary.SecondarySequence,
	}

	if primary.PrimarySequence == primary.SecondarySequence {
		return result
	}

	sorted := make([]*Log, len(logs))
	copy(sorted, logs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Header.PrimarySequence < sorted[j].Header.PrimarySequence
	})

	expected := primary.SecondarySequence + 1
	for _, lg := range sorted {
		if lg.Header.PrimarySequence != expected {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"translog: expected log with primary sequence %d, found %d; stopping reconciliation",
				expected, lg.Header.PrimarySequence))
			break
		}
		gapped := false
		for _, entry := range lg.Entries {
			if entry.Sequence != expected {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"translog: torn write detected at sequence %d (expected %d); retaining pages applied so far",
					entry.Sequence, expected))
				gapped = true
				break
			}
			for pageOffset, page := range entry.Pages {
				result.Overlay.Pages[pageOffset] = page
			}
			result.Applied++
			expected++
		}
		if gapped {
			break
		}
	}

	result.FinalSequence = expected - 1
	return result
}

// Applier adapts Reconcile/Overlay.Apply to the narrower
// Apply(base, logs...) ([]byte, error) seam for callers that only want the
// composed image and don't need the per-log warnings Reconcile exposes.
type Applier struct{}

func (Applier) Apply(base []byte, logs ...[]byte) ([]byte, error) {
	hdr, err := format.ParseHeader(base)
	if err != nil {
		return nil, fmt.Errorf("translog: %w", err)
	}
	var parsed []*Log
	for i, raw := range logs {
		lg, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("translog: log %d: %w", i, err)
		}
		parsed = append(parsed, lg)
	}
	rec := Reconcile(hdr, parsed)
	return rec.Overlay.Apply(base), nil
}
