/*
Package hive provides a high-level, read-only API for forensic analysis of
Windows registry hive files: the on-disk format backing HKLM\SYSTEM,
HKLM\SOFTWARE, NTUSER.DAT, and friends.

# Quick Start

	sess, err := hive.Open("SYSTEM", hive.OpenOptions{})
	if err != nil {
	    log.Fatal(err)
	}
	defer sess.Close()

	root, _ := sess.Root()
	fmt.Println(root.Name, len(root.Values), "values")

# Features

  - Zero-copy, bounds-checked decoding of NK/VK/SK/subkey-list cells
  - Transaction log (.LOG1/.LOG2) reconciliation onto the base image
  - Recovery scanning of unallocated cells for deleted keys/values
  - Path and regex-based filtering during tree iteration
  - Passive and on-demand structural diagnostics

# Basic Usage

Resolve a key by path and inspect its values:

	node, err := sess.Key(`HKLM\SYSTEM\CurrentControlSet\Services`, true)
	if err != nil {
	    log.Fatal(err)
	}
	for _, v := range node.Values {
	    fmt.Println(v.Name, v.Type)
	}

Iterate the tree under a filter, pruning subtrees the filter rejects:

	q := filter.FromKey(`Software\Microsoft`).ReturnChildKeys(true).Build()
	it := sess.Iterate(filter.FromQuery(q))
	for it.Next() {
	    fmt.Println(it.Node().Path)
	}
	if err := it.Err(); err != nil {
	    log.Fatal(err)
	}

Enable RecoverDeleted and supply transaction logs to surface deleted and
modified entries alongside the live tree:

	sess, err := hive.Open("SYSTEM", hive.OpenOptions{
	    RecoverDeleted:   true,
	    TransactionLogs:  [][]byte{log1Bytes, log2Bytes},
	})
	for _, rc := range sess.RecoveredCells() {
	    fmt.Println(rc.Kind, rc.Provenance)
	}

# Diagnostics

OpenOptions.Tolerant (off by default) lets reading continue past some forms
of corruption, such as value data truncated by the end of its cell, returning
what is there instead of an error. OpenOptions.CollectDiagnostics records
recoverable issues as diagnostics rather than aborting. For lower-level access to a
Reader (StatKey/Walk/Diagnose and friends) without a Session's log
reconciliation, use OpenReader/OpenReaderBytes directly.

# Scope

This package never writes to a hive file or repairs one in place; it only
decodes what is already on disk (including transaction-log reconciliation,
which is itself a read operation: it produces an in-memory composed view,
never a file write).
*/
package hive
