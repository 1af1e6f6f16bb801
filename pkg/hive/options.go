package hive

import (
	"github.com/regforensics/hivescan/pkg/types"
)

// OpenOptions controls hive opening behavior.
// This is an alias to types.OpenOptions for convenience.
type OpenOptions = types.OpenOptions

// Limits defines registry constraints used to reject pathological or
// adversarially crafted structures while walking a hive.
type Limits = types.Limits

// DefaultLimits returns standard Windows registry limits.
//
// Limits:
//   - MaxSubkeys: 512 (Windows default)
//   - MaxValues: 16,384 (Windows hard limit)
//   - MaxValueSize: 1 MB
//   - MaxKeyNameLen: 255 characters
//   - MaxValueNameLen: 16,383 characters
//   - MaxTreeDepth: 512 levels
//   - MaxTotalSize: 2 GB
func DefaultLimits() Limits {
	return types.DefaultLimits()
}

// RelaxedLimits returns more permissive limits for oversized or unusual
// system hives.
//
// Limits:
//   - MaxSubkeys: 65,535 (absolute Windows maximum)
//   - MaxValues: 16,384 (same as default)
//   - MaxValueSize: 10 MB
//   - MaxTreeDepth: 1,024 levels
//   - MaxTotalSize: 4 GB
func RelaxedLimits() Limits {
	return types.RelaxedLimits()
}

// StrictLimits returns conservative limits for safety-critical or
// resource-constrained analysis environments.
//
// Limits:
//   - MaxSubkeys: 256
//   - MaxValues: 1,024
//   - MaxValueSize: 64 KB
//   - MaxTreeDepth: 128 levels
//   - MaxTotalSize: 100 MB
func StrictLimits() Limits {
	return types.StrictLimits()
}
