package types

// Severity classifies how serious a diagnostic issue is.
type Severity int

const (
	SevInfo     Severity = iota // Informational (unusual but valid)
	SevWarning                  // Non-critical issue, may affect performance
	SevError                    // Data loss or access failure, key/value inaccessible
	SevCritical                 // Structural corruption, prevents opening/parsing
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	case SevCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DiagCategory classifies the type of issue found.
type DiagCategory int

const (
	DiagStructure   DiagCategory = iota // REGF/HBIN/cell structure problems
	DiagData                            // Value data corruption or truncation
	DiagIntegrity                       // Checksums, links, references broken
	DiagPerformance                     // Fragmentation, inefficiency (info only)
)

// String implements fmt.Stringer.
func (c DiagCategory) String() string {
	switch c {
	case DiagStructure:
		return "structure"
	case DiagData:
		return "data"
	case DiagIntegrity:
		return "integrity"
	case DiagPerformance:
		return "performance"
	default:
		return "unknown"
	}
}

// RepairType describes what kind of fix a RepairAction would make, were the
// hive being rewritten. The core parser never applies repairs; this exists
// so a diagnostic can name what a write-capable consumer would do.
type RepairType int

const (
	RepairTruncate RepairType = iota // Reduce size to fit available data
	RepairRebuild                    // Reconstruct index or structure
	RepairRemove                     // Remove corrupt entry
	RepairReplace                    // Replace with corrected value
	RepairDefault                    // Use default/safe value
)

// RiskLevel indicates how dangerous a hypothetical repair action would be.
type RiskLevel int

const (
	RiskNone   RiskLevel = iota // No risk, purely metadata
	RiskLow                     // Minimal risk, easy to undo
	RiskMedium                  // Moderate risk, may lose data
	RiskHigh                    // High risk, significant data loss possible
)

// String implements fmt.Stringer.
func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// DiagContext carries the key/value path a Diagnostic was raised against.
type DiagContext struct {
	KeyPath    string
	ValueName  string
	CellOffset uint32
}

// RepairAction describes, for informational purposes only, how a
// write-capable tool could resolve a Diagnostic. The core parser never
// constructs a hive from a RepairAction; it is carried on diagnostics so a
// downstream consumer (outside this module's scope) has enough detail to
// act without re-deriving it.
type RepairAction struct {
	Type        RepairType
	Description string
	Confidence  float64
	Risk        RiskLevel
	AutoApply   bool
}

// Diagnostic represents a single issue found while parsing or scanning a
// hive. Diagnostics never abort parsing; they accumulate in a
// DiagnosticReport.
type Diagnostic struct {
	Severity  Severity
	Category  DiagCategory
	Offset    uint64
	Structure string
	Issue     string
	Expected  interface{}
	Actual    interface{}
	Context   *DiagContext
	Repair    *RepairAction
}
