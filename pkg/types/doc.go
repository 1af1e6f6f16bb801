// Package types defines a high-performance, Go-idiomatic API for reading
// and querying Windows Registry hive ("regf") files. The API is read-only.
//
// This package only exposes interfaces and core types. The parsing
// implementation lives in internal/reader.
//
// Design goals:
//   - Zero-copy where safe; explicit copying where requested.
//   - Small, copyable handles (NodeID/ValueID) instead of large object graphs.
//   - Paranoid bounds checking; never panic on malformed input.
//   - Typed errors with stable categories (format/corrupt/unsupported/...).
//
// This package has no dependencies beyond the standard library.
package types
