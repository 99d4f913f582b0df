// Package storage implements Wax's single-file container: the two
// root pages, the embedded ring WAL, the linear payload region, the
// frame catalog, and the index manifest/staging protocol. Everything
// in this package operates on a single *os.File (or an in-memory
// StorageFile for tests) — no sidecar file is ever opened.
package storage

import (
	"hash/crc32"
)

// PageSize is the fixed size of a root page (one OS page). The file
// format reserves exactly two of these pages at offsets 0 and
// PageSize; everything past offset 2*PageSize is the WAL ring, then
// the payload region.
const PageSize = 4096

// rootPageCount is the number of root pages in the container (always
// 2 — used alternately, see RootHeader).
const rootPageCount = 2

// Magic is the fixed 16-byte identifier at the head of every root page.
var Magic = [16]byte{'W', 'A', 'X', '1', 'r', 'o', 'o', 't', 'p', 'a', 'g', 'e', 0, 0, 0, 0}

// FormatVersion is the on-disk format version written and read by
// this build.
const FormatVersion uint16 = 1

// castagnoliTable is the CRC32C (Castagnoli) polynomial table used for
// every checksum in the file format: root pages, WAL records, payload
// entries. CRC32C has no idiomatic third-party equivalent in
// this corpus (a fine stdlib primitive by nature); see DESIGN.md.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the CRC32C of b.
func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, castagnoliTable)
}

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}
