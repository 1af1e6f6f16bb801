// Package filter implements the path/regex query evaluated against each key
// while a hive tree is iterated, letting a caller prune subtrees it has no
// interest in without paying the cost of decoding them.
package filter

import (
	"regexp"
	"strings"
)

// Flags reports the outcome of evaluating a Filter against one key path.
type Flags uint16

const (
	// NoMatch means the key (and, once pruning is wired in by the caller,
	// its subtree) does not satisfy the query.
	NoMatch Flags = 1 << iota
	// IterateKeys means traversal should continue into this key's children.
	IterateKeys
	// KeyMatch means this specific key satisfies the full query path.
	KeyMatch
)

// Has reports whether f carries all bits set in mask.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) String() string {
	var parts []string
	if f.Has(NoMatch) {
		parts = append(parts, "NO_MATCH")
	}
	if f.Has(IterateKeys) {
		parts = append(parts, "ITERATE_KEYS")
	}
	if f.Has(KeyMatch) {
		parts = append(parts, "KEY_MATCH")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Component is one segment of a compiled query path: either a literal,
// case-insensitive string or a compiled regular expression.
type Component interface {
	match(segment string) bool
	String() string
}

type literalComponent string

func (c literalComponent) match(segment string) bool { return string(c) == strings.ToLower(segment) }
func (c literalComponent) String() string            { return string(c) }

type regexComponent struct{ re *regexp.Regexp }

func (c regexComponent) match(segment string) bool { return c.re.MatchString(strings.ToLower(segment)) }
func (c regexComponent) String() string            { return c.re.String() }

// Query is a structured, compiled key-path filter.
type Query struct {
	segments       []Component
	keyPathHasRoot bool
	returnChildren bool
}

// Builder constructs a Query from a backslash-separated key path, one
// Component per segment.
type Builder struct {
	segments       []Component
	keyPathHasRoot bool
	returnChildren bool
}

// FromKey seeds a Builder from a literal key path ("Software\\Vendor\\App").
// Every segment is treated as a case-insensitive literal; use WithRegex to
// replace a specific segment with a compiled pattern.
func FromKey(keyPath string) *Builder {
	keyPath = strings.TrimSuffix(keyPath, `\`)
	keyPath = strings.ToLower(keyPath)
	var segs []Component
	for _, seg := range strings.Split(keyPath, `\`) {
		segs = append(segs, literalComponent(seg))
	}
	return &Builder{segments: segs}
}

// WithRegex replaces the segment at index i with a compiled regular
// expression component. Panics on an invalid pattern or out-of-range index,
// matching the intended use as a build-time, not a runtime, construct.
func (b *Builder) WithRegex(i int, pattern string) *Builder {
	if i < 0 || i >= len(b.segments) {
		panic("filter: regex segment index out of range")
	}
	b.segments[i] = regexComponent{re: regexp.MustCompile(pattern)}
	return b
}

// KeyPathHasRoot marks that the query's first segment names the hive root
// key, rather than a path relative to it.
func (b *Builder) KeyPathHasRoot(v bool) *Builder {
	b.keyPathHasRoot = v
	return b
}

// ReturnChildKeys controls whether a KeyMatch also requests that the
// matched key's children be emitted by the iterator.
func (b *Builder) ReturnChildKeys(v bool) *Builder {
	b.returnChildren = v
	return b
}

// Build finalizes the Query.
func (b *Builder) Build() *Query {
	return &Query{
		segments:       b.segments,
		keyPathHasRoot: b.keyPathHasRoot,
		returnChildren: b.returnChildren,
	}
}

// Filter wraps an optional Query. A nil or empty Filter matches everything
// and requests full iteration, mirroring the no-filter fast path.
type Filter struct {
	query *Query
}

// New returns an empty Filter that matches everything.
func New() *Filter { return &Filter{} }

// FromQuery wraps a compiled Query.
func FromQuery(q *Query) *Filter { return &Filter{query: q} }

// IsValid reports whether the filter carries a query to evaluate.
func (f *Filter) IsValid() bool { return f != nil && f.query != nil }

// ReturnChildKeys reports whether a matched key's children should still be
// emitted by the iterator even though the query itself was already satisfied.
func (f *Filter) ReturnChildKeys() bool {
	if !f.IsValid() {
		return false
	}
	return f.query.returnChildren
}

// Check evaluates the filter against one key's full path (backslash-separated,
// no leading separator, compared case-insensitively) and whether that key is the
// hive's root key. rootOffset is the index into keyPath at which the
// segment after the root key name begins; callers that don't track this
// may pass 0.
func (f *Filter) Check(keyPath string, isRoot bool, rootOffset int) Flags {
	if !f.IsValid() {
		return IterateKeys
	}
	if isRoot && !f.query.keyPathHasRoot {
		return IterateKeys
	}
	return f.query.checkMatch(keyPath, rootOffset)
}

func (q *Query) checkMatch(keyPath string, rootOffset int) Flags {
	if q.keyPathHasRoot {
		rootOffset = 0
	}
	if rootOffset < 0 || rootOffset > len(keyPath) {
		rootOffset = 0
	}
	pathSegments := strings.Split(keyPath[rootOffset:], `\`)
	segIdx := 0

	for _, seg := range pathSegments {
		if segIdx >= len(q.segments) {
			// the actual path runs deeper than the query: not a match.
			return NoMatch
		}
		if !q.segments[segIdx].match(seg) {
			return NoMatch
		}
		segIdx++
	}

	if segIdx == len(q.segments) {
		// every query segment was consumed by an actual path segment.
		return IterateKeys | KeyMatch
	}
	// the actual path is a strict prefix of the query: keep descending.
	return IterateKeys
}
