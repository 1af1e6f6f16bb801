package hive

import (
	"fmt"
	"os"
	"strconv"

	"github.com/regforensics/hivescan/internal/reader"
)

// HiveStats returns coarse information about a hive file without building
// a full session: root key count and file size. Useful for a quick sanity
// check before committing to a full Open.
//
// Example:
//
//	info, err := hive.HiveStats("system.hive")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Root keys: %s\n", info["root_keys"])
func HiveStats(hivePath string) (map[string]string, error) {
	if !fileExists(hivePath) {
		return nil, fmt.Errorf("hive file not found: %s", hivePath)
	}

	hiveData, err := os.ReadFile(hivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read hive %s: %w", hivePath, err)
	}

	r, err := reader.OpenBytes(hiveData, OpenOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open hive %s: %w", hivePath, err)
	}
	defer r.Close()

	rootNode, err := r.Root()
	if err != nil {
		return nil, fmt.Errorf("failed to get root node: %w", err)
	}

	subkeys, err := r.Subkeys(rootNode)
	if err != nil {
		return nil, fmt.Errorf("failed to get subkeys: %w", err)
	}

	return map[string]string{
		"root_keys": strconv.Itoa(len(subkeys)),
		"file_size": strconv.Itoa(len(hiveData)),
	}, nil
}

// ValidateHive walks every key and value reachable from the root and
// reports the first structural error encountered, enforcing the supplied
// limits (subkey/value counts, key name length, value size, tree depth)
// along the way. MaxValueNameLen and MaxTotalSize are not checked.
// If limits is the zero value, DefaultLimits() is used.
func ValidateHive(hivePath string, limits Limits) error {
	if !fileExists(hivePath) {
		return fmt.Errorf("hive file not found: %s", hivePath)
	}
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}

	hiveData, err := os.ReadFile(hivePath)
	if err != nil {
		return fmt.Errorf("failed to read hive %s: %w", hivePath, err)
	}

	r, err := reader.OpenBytes(hiveData, OpenOptions{})
	if err != nil {
		return fmt.Errorf("failed to open hive %s: %w", hivePath, err)
	}
	defer r.Close()

	root, err := r.Root()
	if err != nil {
		return fmt.Errorf("failed to get root node: %w", err)
	}

	return validateSubtree(r, root, 0, limits)
}

func validateSubtree(r Reader, node NodeID, depth int, limits Limits) error {
	if depth > limits.MaxTreeDepth {
		return fmt.Errorf("tree depth %d exceeds limit %d", depth, limits.MaxTreeDepth)
	}
	meta, err := r.StatKey(node)
	if err != nil {
		return fmt.Errorf("stat key: %w", err)
	}
	if len(meta.Name) > limits.MaxKeyNameLen {
		return fmt.Errorf("key name %q exceeds max length %d", meta.Name, limits.MaxKeyNameLen)
	}
	if meta.SubkeyN > limits.MaxSubkeys {
		return fmt.Errorf("key %q has %d subkeys, exceeds limit %d", meta.Name, meta.SubkeyN, limits.MaxSubkeys)
	}
	if meta.ValueN > limits.MaxValues {
		return fmt.Errorf("key %q has %d values, exceeds limit %d", meta.Name, meta.ValueN, limits.MaxValues)
	}

	values, err := r.Values(node)
	if err != nil {
		return fmt.Errorf("list values: %w", err)
	}
	for _, v := range values {
		vm, statErr := r.StatValue(v)
		if statErr != nil {
			return fmt.Errorf("stat value: %w", statErr)
		}
		if vm.Size > limits.MaxValueSize {
			return fmt.Errorf("value %q size %d exceeds limit %d", vm.Name, vm.Size, limits.MaxValueSize)
		}
	}

	children, err := r.Subkeys(node)
	if err != nil {
		return fmt.Errorf("list subkeys: %w", err)
	}
	for _, child := range children {
		if err := validateSubtree(r, child, depth+1, limits); err != nil {
			return err
		}
	}
	return nil
}
