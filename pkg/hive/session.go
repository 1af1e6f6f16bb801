package hive

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/regforensics/hivescan/internal/format"
	"github.com/regforensics/hivescan/internal/reader"
	"github.com/regforensics/hivescan/internal/recovery"
	"github.com/regforensics/hivescan/internal/translog"
	"github.com/regforensics/hivescan/pkg/filter"
	"github.com/regforensics/hivescan/pkg/types"
)

// KeyValue is one value attached to an emitted KeyNode.
type KeyValue struct {
	Name       string
	Type       RegType
	Data       []byte
	Provenance string

	// PriorData holds the value's pre-log content when a transaction-log
	// diff found it changed; nil unless Provenance is "modified".
	PriorData []byte

	// Offset and Length are populated only when OpenOptions.FullFieldInfo
	// is set. Offset is the data cell's offset relative to the start of the
	// hive-bins region (0 for data stored inline in the value record).
	Offset uint32
	Length int
}

// KeyNode is the unit a Session emits: a fully resolved key plus (when
// requested) its values, carrying enough context for forensic reporting
// without requiring the caller to hold a live Reader.
type KeyNode struct {
	Path       string
	Name       string
	LastWrite  time.Time
	Flags      uint16
	Provenance string
	Values     []KeyValue

	// PriorVersions holds earlier snapshots of this key recovered from a
	// pre-log/post-log diff, oldest first.
	PriorVersions []KeyNode

	id NodeID
}

// Session is the consumer-facing, read-only handle onto a reconciled hive
// image: the primary file with any supplied transaction logs replayed.
type Session struct {
	r           Reader
	opts        OpenOptions
	recovery    []recovery.RecoveredCell
	logWarnings []string

	// keyDiff and valueDiff index internal/recovery.LogDiff's output by the
	// full path of the key (or its containing key, for a value) they
	// describe, so resolveMeta/resolve can attach prior versions without
	// re-running the diff per lookup. deleted holds the subset of diff
	// entries for items the log replay removed outright - items that, by
	// definition, the normal tree walk below can never reach.
	keyDiff   map[string][]recovery.DiffEntry
	valueDiff map[string][]recovery.DiffEntry
	deleted   []recovery.DiffEntry
}

// NewLogApplier returns a LogApplier backed by internal/translog's
// reconciliation algorithm, for callers that only want the composed bytes
// without Session's Key/Iterate navigation layer on top.
func NewLogApplier() LogApplier { return translog.Applier{} }

// LogWarnings reports any non-fatal issue encountered reconciling the
// transaction logs supplied via OpenOptions.TransactionLogs (a sequence
// gap or torn write stops replay early but never fails the open).
func (s *Session) LogWarnings() []string { return s.logWarnings }

// RecoveredCells reports the unallocated-cell scan results gathered when
// OpenOptions.RecoverDeleted is set; empty otherwise. Session.Iterate
// surfaces the same cells inline, after the allocated walk; this accessor
// remains for callers that want the raw scan without driving an iterator.
func (s *Session) RecoveredCells() []recovery.RecoveredCell { return s.recovery }

// Open reads a primary hive file from disk, reconciling it against
// opts.TransactionLogs if any were supplied, and returns a Session over the
// result.
func Open(primaryPath string, opts OpenOptions) (*Session, error) {
	data, err := os.ReadFile(primaryPath)
	if err != nil {
		return nil, fmt.Errorf("hive: read %s: %w", primaryPath, err)
	}
	return newSession(data, opts)
}

// OpenStream reads a primary hive of the given size from primary, and each
// supplied log, reconciling them the same way Open does.
func OpenStream(primary io.ReaderAt, size int64, logs []io.ReaderAt, opts OpenOptions) (*Session, error) {
	data := make([]byte, size)
	if _, err := primary.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("hive: read primary: %w", err)
	}
	for _, lg := range logs {
		logData, err := io.ReadAll(io.NewSectionReader(lg, 0, 1<<34))
		if err != nil {
			return nil, fmt.Errorf("hive: read log: %w", err)
		}
		opts.TransactionLogs = append(opts.TransactionLogs, logData)
	}
	return newSession(data, opts)
}

func newSession(primaryData []byte, opts OpenOptions) (*Session, error) {
	hdr, err := format.ParseHeader(primaryData)
	if err != nil {
		return nil, fmt.Errorf("hive: %w", err)
	}

	composed := primaryData
	var warnings []string
	if len(opts.TransactionLogs) > 0 {
		var logs []*translog.Log
		for i, raw := range opts.TransactionLogs {
			lg, parseErr := translog.Parse(raw)
			if parseErr != nil {
				warnings = append(warnings, fmt.Sprintf("hive: log %d: %v", i, parseErr))
				continue
			}
			logs = append(logs, lg)
		}
		rec := translog.Reconcile(hdr, logs)
		warnings = append(warnings, rec.Warnings...)
		composed = rec.Overlay.Apply(primaryData)
	}

	r, err := reader.OpenBytes(composed, types.OpenOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("hive: %w", err)
	}

	sess := &Session{r: r, opts: opts, logWarnings: warnings}
	if opts.RecoverDeleted && len(composed) > format.HeaderSize {
		sess.recovery = recovery.ScanUnallocated(composed[format.HeaderSize:])
	}

	// When logs were applied, diff the pre-log image against the
	// reconciled one so deleted/modified entries can be attributed a
	// provenance, per the log-diff recovery source. Gated on
	// RecoverDeleted alongside the unallocated-cell scan above: both are
	// the same opt-in recovery pass over and above the normal tree walk.
	if opts.RecoverDeleted && len(opts.TransactionLogs) > 0 && !bytesEqual(composed, primaryData) {
		preReader, preErr := reader.OpenBytes(primaryData, types.OpenOptions(opts))
		if preErr != nil {
			sess.logWarnings = append(sess.logWarnings, fmt.Sprintf("hive: log diff: open pre-log image: %v", preErr))
		} else {
			diffs, diffErr := recovery.LogDiff(preReader, r)
			_ = preReader.Close()
			if diffErr != nil {
				sess.logWarnings = append(sess.logWarnings, fmt.Sprintf("hive: log diff: %v", diffErr))
			} else {
				sess.indexLogDiff(diffs)
			}
		}
	}

	return sess, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Session) indexLogDiff(diffs []recovery.DiffEntry) {
	s.keyDiff = map[string][]recovery.DiffEntry{}
	s.valueDiff = map[string][]recovery.DiffEntry{}
	for _, d := range diffs {
		switch {
		case d.Provenance == recovery.DeletedPrimaryFile:
			s.deleted = append(s.deleted, d)
		case d.IsValue:
			s.valueDiff[d.ParentPath+"\x00"+d.Name] = append(s.valueDiff[d.ParentPath+"\x00"+d.Name], d)
		default:
			s.keyDiff[d.ParentPath+`\`+d.Name] = append(s.keyDiff[d.ParentPath+`\`+d.Name], d)
		}
	}
}

// Root returns the hive's root key, fully resolved.
func (s *Session) Root() (*KeyNode, error) {
	root, err := s.r.Root()
	if err != nil {
		return nil, err
	}
	return s.resolve(root, "")
}

// Key resolves a Windows-style path ("HKLM\\SYSTEM\\...") to a KeyNode. If
// resolveValues is false, the returned node's Values field is left empty,
// saving a decode pass when only structural information is needed.
func (s *Session) Key(path string, resolveValues bool) (*KeyNode, error) {
	id, err := s.r.Find(path)
	if err != nil {
		return nil, err
	}
	if !resolveValues {
		return s.resolveMeta(id, path)
	}
	return s.resolve(id, "")
}

// ParentOf returns the parent of node, or ErrNotFound if node is the root.
func (s *Session) ParentOf(node *KeyNode) (*KeyNode, error) {
	parent, err := s.r.Parent(node.id)
	if err != nil {
		return nil, err
	}
	return s.resolve(parent, "")
}

// Close releases the resources backing the session.
func (s *Session) Close() error { return s.r.Close() }

// KeyIterator drives a filter-aware, cycle-safe pre-order walk of a Session,
// yielding one resolved KeyNode per call to Next. Once the allocated tree is
// exhausted, it falls through to items the recovery layer found: first
// deleted-primary-file entries from the transaction-log diff, then
// unallocated-cell scan candidates - giving callers a stable
// (allocated..., recovered...) sequence per Session.
type KeyIterator struct {
	sess    *Session
	filter  *filter.Filter
	pending []pendingNode
	seen    map[uint32]bool
	current *KeyNode
	err     error

	deletedIdx   int
	recoveredIdx int
}

type pendingNode struct {
	id     NodeID
	path   string
	forced bool // true once an ancestor matched with ReturnChildKeys set
}

// Iterate returns a KeyIterator starting at the hive root, pre-order,
// pruning subtrees that f reports as NoMatch. A nil or invalid f matches
// and emits every key.
func (s *Session) Iterate(f *filter.Filter) *KeyIterator {
	it := &KeyIterator{sess: s, filter: f, seen: map[uint32]bool{}}
	root, err := s.r.Root()
	if err != nil {
		it.err = err
		return it
	}
	it.pending = []pendingNode{{id: root, path: ""}}
	return it
}

// Next advances the iterator, resolving the next matching key. It returns
// false once the traversal is exhausted or an error occurred; check Err to
// distinguish the two.
func (it *KeyIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.pending) > 0 {
		n := it.pending[0]
		it.pending = it.pending[1:]

		offset := uint32(n.id)
		if it.seen[offset] {
			continue
		}
		it.seen[offset] = true

		meta, err := it.sess.r.StatKey(n.id)
		if err != nil {
			it.err = err
			return false
		}
		path := n.path + `\` + meta.Name
		isRoot := n.path == ""

		// A node reached through a ReturnChildKeys descent already
		// satisfies the query by virtue of its ancestor's match; it is
		// never re-evaluated against the filter, since by construction it
		// runs deeper than the compiled query and would otherwise score
		// NoMatch.
		var flags filter.Flags
		if n.forced {
			flags = filter.IterateKeys | filter.KeyMatch
		} else {
			flags = it.effectiveFilter().Check(trimRoot(path), isRoot, rootPathOffset(path))
		}
		if flags.Has(filter.NoMatch) {
			continue
		}

		descendForced := n.forced || (flags.Has(filter.KeyMatch) && it.effectiveFilter().ReturnChildKeys())
		if flags.Has(filter.IterateKeys) || descendForced {
			children, err := it.sess.r.Subkeys(n.id)
			if err != nil {
				it.err = err
				return false
			}
			// Children go ahead of the remaining siblings so the walk stays
			// pre-order (depth-first), keeping subkey-list order among them.
			kids := make([]pendingNode, 0, len(children)+len(it.pending))
			for _, c := range children {
				kids = append(kids, pendingNode{id: c, path: path, forced: descendForced})
			}
			it.pending = append(kids, it.pending...)
		}

		if !n.forced && !flags.Has(filter.KeyMatch) && it.filter != nil && it.filter.IsValid() {
			continue
		}

		node, err := it.sess.resolve(n.id, "")
		if err != nil {
			it.err = err
			return false
		}
		node.Path = path
		it.current = node
		return true
	}
	return it.nextRecovered()
}

// trimRoot strips the leading separator fullPath always produces, giving
// pkg/filter the bare, backslash-separated path it expects.
func trimRoot(path string) string {
	return strings.TrimPrefix(path, `\`)
}

// rootPathOffset returns the index into the trimmed path at which the
// segment following the hive root key name begins - the offset
// pkg/filter.Check needs to evaluate a query that doesn't itself name the
// root (the normal case), so it compares against "Software\Vendor" rather
// than "root\Software\Vendor".
func rootPathOffset(path string) int {
	trimmed := trimRoot(path)
	if idx := strings.IndexByte(trimmed, '\\'); idx >= 0 {
		return idx + 1
	}
	return 0
}

func (it *KeyIterator) nextRecovered() bool {
	for it.deletedIdx < len(it.sess.deleted) {
		d := it.sess.deleted[it.deletedIdx]
		it.deletedIdx++
		it.current = deletedDiffNode(d)
		return true
	}
	for it.recoveredIdx < len(it.sess.recovery) {
		rc := it.sess.recovery[it.recoveredIdx]
		it.recoveredIdx++
		node, ok := recoveredCellNode(rc)
		if !ok {
			continue
		}
		it.current = node
		return true
	}
	return false
}

func (it *KeyIterator) effectiveFilter() *filter.Filter {
	if it.filter == nil {
		return filter.New()
	}
	return it.filter
}

// Node returns the key resolved by the most recent call to Next.
func (it *KeyIterator) Node() *KeyNode { return it.current }

// Err returns the error, if any, that stopped the traversal.
func (it *KeyIterator) Err() error { return it.err }

func (s *Session) resolveMeta(id NodeID, path string) (*KeyNode, error) {
	meta, err := s.r.StatKey(id)
	if err != nil {
		return nil, err
	}
	detail, err := s.r.DetailKey(id)
	if err != nil {
		return nil, err
	}
	node := &KeyNode{
		Path:       fullPath(s.r, id, meta.Name),
		Name:       meta.Name,
		LastWrite:  meta.LastWrite,
		Flags:      detail.Flags,
		Provenance: recovery.Allocated.String(),
		id:         id,
	}
	s.attachKeyProvenance(node)
	return node, nil
}

// attachKeyProvenance consults the pre-log/post-log diff for node's full
// path and, when it changed across log replay, records the pre-log
// snapshot as a prior version and relabels node's own provenance.
func (s *Session) attachKeyProvenance(node *KeyNode) {
	for _, d := range s.keyDiff[node.Path] {
		if d.Provenance != recovery.Modified {
			continue
		}
		node.Provenance = recovery.Modified.String()
		prior := *node
		prior.Provenance = recovery.Allocated.String()
		prior.PriorVersions = nil
		for _, c := range d.Changes {
			switch c.Field {
			case "last_write":
				if v, ok := c.Old.(time.Time); ok {
					prior.LastWrite = v
				}
			case "flags":
				if v, ok := c.Old.(uint16); ok {
					prior.Flags = v
				}
			}
		}
		node.PriorVersions = append(node.PriorVersions, prior)
	}
}

func (s *Session) attachValueProvenance(parentPath string, kv *KeyValue) {
	for _, d := range s.valueDiff[parentPath+"\x00"+kv.Name] {
		if d.Provenance != recovery.Modified {
			continue
		}
		kv.Provenance = recovery.Modified.String()
		for _, c := range d.Changes {
			if c.Field == "data" {
				if v, ok := c.Old.([]byte); ok {
					kv.PriorData = v
				}
			}
		}
	}
}

func (s *Session) resolve(id NodeID, _ string) (*KeyNode, error) {
	node, err := s.resolveMeta(id, "")
	if err != nil {
		return nil, err
	}
	valIDs, err := s.r.Values(id)
	if err != nil {
		return nil, err
	}
	node.Values = make([]KeyValue, 0, len(valIDs))
	for _, vid := range valIDs {
		vm, statErr := s.r.StatValue(vid)
		if statErr != nil {
			continue
		}
		data, readErr := s.r.ValueBytes(vid, types.ReadOptions{})
		if readErr != nil {
			continue
		}
		kv := KeyValue{Name: vm.Name, Type: vm.Type, Data: data, Provenance: recovery.Allocated.String()}
		if s.opts.FullFieldInfo {
			off, length, offErr := s.r.ValueDataCellOffset(vid)
			if offErr == nil {
				kv.Offset, kv.Length = off, length
			}
		}
		s.attachValueProvenance(node.Path, &kv)
		node.Values = append(node.Values, kv)
	}
	return node, nil
}

func fullPath(r Reader, id NodeID, name string) string {
	var segments []string
	cur := id
	for {
		meta, err := r.StatKey(cur)
		if err != nil {
			break
		}
		segments = append([]string{meta.Name}, segments...)
		parent, err := r.Parent(cur)
		if err != nil {
			break
		}
		if parent == cur {
			break
		}
		cur = parent
	}
	_ = name
	path := ""
	for _, seg := range segments {
		path += `\` + seg
	}
	if path == "" {
		path = `\`
	}
	return path
}

// recoveredCellNode converts one unallocated-cell scan candidate into a
// synthetic KeyNode. A recovered nk becomes a bare key (no reachable
// parent, so Path carries only its own name); a recovered vk becomes a key
// carrying a single value, since KeyIterator yields keys, not standalone
// values.
func recoveredCellNode(rc recovery.RecoveredCell) (*KeyNode, bool) {
	switch rc.Kind {
	case "nk":
		if rc.NK == nil {
			return nil, false
		}
		name, _ := reader.DecodeKeyName(*rc.NK)
		return &KeyNode{
			Path:       `\` + name,
			Name:       name,
			LastWrite:  format.FiletimeToTime(rc.NK.LastWriteRaw),
			Flags:      rc.NK.Flags,
			Provenance: rc.Provenance.String(),
		}, true
	case "vk":
		if rc.VK == nil {
			return nil, false
		}
		name, _ := reader.DecodeValueName(*rc.VK)
		kv := KeyValue{Name: name, Type: RegType(rc.VK.Type), Provenance: rc.Provenance.String()}
		if rc.VK.DataInline() {
			n := rc.VK.InlineLength()
			if n <= format.OffsetFieldSize {
				var raw [format.OffsetFieldSize]byte
				binary.LittleEndian.PutUint32(raw[:], rc.VK.DataOffset)
				kv.Data = append([]byte(nil), raw[:n]...)
			}
		}
		return &KeyNode{
			Path:       `\` + name,
			Name:       name,
			Provenance: rc.Provenance.String(),
			Values:     []KeyValue{kv},
		}, true
	default:
		return nil, false
	}
}

// deletedDiffNode converts one DeletedPrimaryFile log-diff entry - a key or
// value the log replay removed outright - into a synthetic KeyNode.
func deletedDiffNode(d recovery.DiffEntry) *KeyNode {
	if d.IsValue {
		kv := KeyValue{Name: d.Name, Provenance: d.Provenance.String()}
		for _, c := range d.Changes {
			switch c.Field {
			case "type":
				if v, ok := c.Old.(types.RegType); ok {
					kv.Type = v
				}
			case "data":
				if v, ok := c.Old.([]byte); ok {
					kv.Data = v
				}
			}
		}
		return &KeyNode{
			Path:       d.ParentPath,
			Name:       lastPathSegment(d.ParentPath),
			Provenance: d.Provenance.String(),
			Values:     []KeyValue{kv},
		}
	}

	node := &KeyNode{
		Path:       d.ParentPath + `\` + d.Name,
		Name:       d.Name,
		Provenance: d.Provenance.String(),
	}
	for _, c := range d.Changes {
		switch c.Field {
		case "last_write":
			if v, ok := c.Old.(time.Time); ok {
				node.LastWrite = v
			}
		case "flags":
			if v, ok := c.Old.(uint16); ok {
				node.Flags = v
			}
		}
	}
	return node
}

func lastPathSegment(path string) string {
	idx := strings.LastIndexByte(path, '\\')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
