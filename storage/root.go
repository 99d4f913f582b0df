package storage

import (
	"encoding/binary"
	"errors"

	"github.com/waxdb/wax/waxerr"
)

var errNoValidRoot = errors.New("storage: neither root page is valid")

// RootHeader is the exact contents of a root page. Two copies live at
// offsets 0 and PageSize; the container's validated state is whichever
// of the two has the higher Epoch with a valid CRC. There is no
// separate "active" pointer in the file — a reader always chooses by
// epoch.
type RootHeader struct {
	Epoch uint64 // monotonically increasing; the highest valid epoch wins

	WALOffset   int64
	WALCapacity int64

	WALHeadSequence uint64
	WALTailSequence uint64
	WALCommittedSeq uint64

	PayloadRegionOffset int64
	PayloadRegionLength int64

	CatalogNextFrameID uint64
	CatalogRootOffset  int64 // offset of the catalog snapshot blob
	CatalogRootLength  int64

	ManifestRootOffset int64 // offset of the index manifest blob
	ManifestRootLength int64

	FileInstanceID [16]byte // google/uuid bytes, assigned once at creation
}

// rootHeaderEncodedSize is the fixed encoded size of a RootHeader,
// magic, version, fields, and trailing CRC32C included — always small
// enough to fit in one PageSize page.
const rootHeaderEncodedSize = 16 + 2 + 8 + 8*12 + 16 + 4 // magic+version+epoch+12 int64/uint64 fields+uuid+crc

func init() {
	if rootHeaderEncodedSize > PageSize {
		panic("storage: root header does not fit in one page")
	}
}

// Encode serializes h into a PageSize-length buffer ready to be
// written directly into one of the two root page slots.
func (h *RootHeader) Encode() []byte {
	buf := make([]byte, PageSize)
	copy(buf[0:16], Magic[:])
	binary.LittleEndian.PutUint16(buf[16:18], FormatVersion)
	off := 18
	binary.LittleEndian.PutUint64(buf[off:], h.Epoch)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.WALOffset))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.WALCapacity))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.WALHeadSequence)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.WALTailSequence)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.WALCommittedSeq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.PayloadRegionOffset))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.PayloadRegionLength))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.CatalogNextFrameID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.CatalogRootOffset))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.CatalogRootLength))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.ManifestRootOffset))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.ManifestRootLength))
	off += 8
	copy(buf[off:off+16], h.FileInstanceID[:])
	off += 16
	crc := crc32c(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// decodeRootHeader parses a root page, validating the magic, version,
// and CRC. It returns a Corruption-kind error on the slightest
// inconsistency — the caller (loadValidRoot) treats this as "this slot
// isn't valid" rather than a fatal condition, since the other slot may
// still be good.
func decodeRootHeader(buf []byte) (*RootHeader, error) {
	if len(buf) < rootHeaderEncodedSize {
		return nil, waxerr.Newf(waxerr.Corruption, "decode_root", "page truncated: %d bytes", len(buf))
	}
	if string(buf[0:16]) != string(Magic[:]) {
		return nil, waxerr.Newf(waxerr.Corruption, "decode_root", "bad magic")
	}
	version := binary.LittleEndian.Uint16(buf[16:18])
	if version != FormatVersion {
		return nil, waxerr.Newf(waxerr.Corruption, "decode_root", "unsupported format version %d", version)
	}

	off := 18
	h := &RootHeader{}
	h.Epoch = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.WALOffset = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.WALCapacity = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.WALHeadSequence = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.WALTailSequence = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.WALCommittedSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.PayloadRegionOffset = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.PayloadRegionLength = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.CatalogNextFrameID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.CatalogRootOffset = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.CatalogRootLength = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.ManifestRootOffset = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.ManifestRootLength = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	copy(h.FileInstanceID[:], buf[off:off+16])
	off += 16

	wantCRC := binary.LittleEndian.Uint32(buf[off : off+4])
	if crc32c(buf[:off]) != wantCRC {
		return nil, waxerr.Newf(waxerr.Corruption, "decode_root", "crc mismatch")
	}
	return h, nil
}

// rootSlotOffset returns the byte offset of root slot i (0 or 1).
func rootSlotOffset(i int) int64 {
	return int64(i) * PageSize
}

// loadValidRoot reads both root slots and returns whichever has the
// highest Epoch among the ones that decode successfully. If both fail,
// the container is unreadable and a Format error is returned with
// the op "no_valid_root" — there's no recovery beyond that point since
// both copies of the validated state are gone.
func loadValidRoot(f *file) (*RootHeader, int, error) {
	var best *RootHeader
	bestSlot := -1
	for i := 0; i < rootPageCount; i++ {
		buf := make([]byte, PageSize)
		if err := f.ReadExact(rootSlotOffset(i), buf); err != nil {
			continue
		}
		h, err := decodeRootHeader(buf)
		if err != nil {
			continue
		}
		if best == nil || h.Epoch > best.Epoch {
			best = h
			bestSlot = i
		}
	}
	if best == nil {
		return nil, -1, waxerr.New(waxerr.Format, "no_valid_root", errNoValidRoot)
	}
	return best, bestSlot, nil
}

// nextRootSlot returns the slot to write the next root to: whichever
// one does NOT hold the currently valid root, so the already-validated
// copy stays intact until the new write's fsync succeeds.
func nextRootSlot(currentSlot int) int {
	return (currentSlot + 1) % rootPageCount
}

// writeRoot writes h to slot then fsyncs, so a crash before fsync
// returns leaves the other slot as the only valid root.
func writeRoot(f *file, slot int, h *RootHeader) error {
	if err := f.WriteAll(rootSlotOffset(slot), h.Encode()); err != nil {
		return err
	}
	return f.Fsync()
}
