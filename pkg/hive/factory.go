package hive

import (
	"github.com/regforensics/hivescan/internal/reader"
)

// OpenReader opens a registry hive file for reading at the raw Reader level,
// without the transaction-log reconciliation or recovery scanning that
// Open/OpenStream provide. Most callers want Open instead; OpenReader is for
// callers that already have their own composed image.
// The caller must call Close() when done to release resources.
//
// Example:
//
//	r, err := hive.OpenReader("system.hive", hive.OpenOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
func OpenReader(path string, opts OpenOptions) (Reader, error) {
	return reader.Open(path, opts)
}

// OpenReaderBytes opens a registry hive from a byte slice at the raw Reader
// level. See OpenReader.
//
// Example:
//
//	data, _ := os.ReadFile("system.hive")
//	r, err := hive.OpenReaderBytes(data, hive.OpenOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
func OpenReaderBytes(buf []byte, opts OpenOptions) (Reader, error) {
	return reader.OpenBytes(buf, opts)
}
