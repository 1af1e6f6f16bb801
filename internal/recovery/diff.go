package recovery

import (
	"bytes"
	"fmt"
	"time"

	"github.com/regforensics/hivescan/pkg/types"
)

// FieldChange is one (field_name, old_value, new_value) tuple attached to a
// Modified diff entry.
type FieldChange struct {
	Field string
	Old   interface{}
	New   interface{}
}

// DiffEntry describes one key or value whose presence or attributes differ
// between the pre-log and post-log logical trees.
type DiffEntry struct {
	ParentPath string
	Name       string
	IsValue    bool
	Provenance Provenance
	Changes    []FieldChange
}

// snapshotKey captures the attributes of one key compared across trees.
type snapshotKey struct {
	lastWrite time.Time
	flags     uint16
}

// snapshotValue captures the attributes of one value compared across trees.
type snapshotValue struct {
	regType types.RegType
	data    []byte
}

// valueKey keys a value snapshot on (parent_path, value_name), matching the
// keys snapshot's own (parent_path, key_name) keying.
type valueKey struct {
	parentPath string
	name       string
}

// LogDiff walks pre and post in pre-order, keying every key and value on
// (parent_path, name), and reports entries that disappeared or changed
// between the two. pre is the tree built from the base image alone; post is
// the tree built from the base image plus the transaction-log overlay.
func LogDiff(pre, post types.Reader) ([]DiffEntry, error) {
	preKeys := map[string]snapshotKey{}
	preValues := map[valueKey]snapshotValue{}
	if err := snapshotTree(pre, "", preKeys, preValues); err != nil {
		return nil, fmt.Errorf("recovery: snapshot pre-log tree: %w", err)
	}

	postKeys := map[string]snapshotKey{}
	postValues := map[valueKey]snapshotValue{}
	if err := snapshotTree(post, "", postKeys, postValues); err != nil {
		return nil, fmt.Errorf("recovery: snapshot post-log tree: %w", err)
	}

	var diffs []DiffEntry

	for path, before := range preKeys {
		parent, name := splitPath(path)
		after, ok := postKeys[path]
		if !ok {
			diffs = append(diffs, DiffEntry{
				ParentPath: parent,
				Name:       name,
				Provenance: DeletedPrimaryFile,
				Changes: []FieldChange{
					{Field: "last_write", Old: before.lastWrite},
					{Field: "flags", Old: before.flags},
				},
			})
			continue
		}
		var changes []FieldChange
		if !before.lastWrite.Equal(after.lastWrite) {
			changes = append(changes, FieldChange{Field: "last_write", Old: before.lastWrite, New: after.lastWrite})
		}
		if before.flags != after.flags {
			changes = append(changes, FieldChange{Field: "flags", Old: before.flags, New: after.flags})
		}
		if len(changes) > 0 {
			diffs = append(diffs, DiffEntry{ParentPath: parent, Name: name, Provenance: Modified, Changes: changes})
		}
	}

	for key, before := range preValues {
		after, ok := postValues[key]
		if !ok {
			diffs = append(diffs, DiffEntry{
				ParentPath: key.parentPath,
				Name:       key.name,
				IsValue:    true,
				Provenance: DeletedPrimaryFile,
				Changes: []FieldChange{
					{Field: "type", Old: before.regType},
					{Field: "data", Old: before.data},
				},
			})
			continue
		}
		var changes []FieldChange
		if before.regType != after.regType {
			changes = append(changes, FieldChange{Field: "type", Old: before.regType, New: after.regType})
		}
		if !bytes.Equal(before.data, after.data) {
			changes = append(changes, FieldChange{Field: "data", Old: before.data, New: after.data})
		}
		if len(changes) > 0 {
			diffs = append(diffs, DiffEntry{ParentPath: key.parentPath, Name: key.name, IsValue: true, Provenance: Modified, Changes: changes})
		}
	}

	return diffs, nil
}

func snapshotTree(r types.Reader, prefix string, keys map[string]snapshotKey, values map[valueKey]snapshotValue) error {
	root, err := r.Root()
	if err != nil {
		return err
	}
	return walkSnapshot(r, root, prefix, keys, values, map[uint32]bool{})
}

func walkSnapshot(r types.Reader, node types.NodeID, path string, keys map[string]snapshotKey, values map[valueKey]snapshotValue, seen map[uint32]bool) error {
	if seen[uint32(node)] {
		return nil
	}
	seen[uint32(node)] = true

	meta, err := r.StatKey(node)
	if err != nil {
		return err
	}
	detail, err := r.DetailKey(node)
	if err != nil {
		return err
	}
	keyPath := path + `\` + meta.Name
	keys[keyPath] = snapshotKey{lastWrite: meta.LastWrite, flags: detail.Flags}

	valIDs, err := r.Values(node)
	if err != nil {
		return err
	}
	for _, vid := range valIDs {
		vm, statErr := r.StatValue(vid)
		if statErr != nil {
			continue
		}
		data, readErr := r.ValueBytes(vid, types.ReadOptions{})
		if readErr != nil {
			continue
		}
		values[valueKey{parentPath: keyPath, name: vm.Name}] = snapshotValue{regType: vm.Type, data: data}
	}

	children, err := r.Subkeys(node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := walkSnapshot(r, child, keyPath, keys, values, seen); err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) (parent, name string) {
	idx := bytes.LastIndexByte([]byte(path), '\\')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
