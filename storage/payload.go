package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/waxdb/wax/waxerr"
)

// PayloadEncoding identifies how the bytes following a payload header
// are encoded on disk.
type PayloadEncoding uint8

const (
	PayloadRaw PayloadEncoding = iota
	PayloadSnappy
	PayloadZstd
)

// payloadHeaderSize is the fixed header preceding every stored payload:
// u8 encoding | u32 rawLength | u32 storedLength | u32 crc32c(stored).
const payloadHeaderSize = 1 + 4 + 4 + 4

// payloadStore is the linear, append-only region of the container file
// that carries frame content, embedding vectors, and staged index
// blobs. Entries are addressed only by (offset, length) pairs kept in
// the frame catalog or the index manifest — the store itself holds no
// index of its own. Content is opportunistically snappy-compressed
// (kept only if it actually shrinks the size, following the pager's
// compressRecord convention); callers that want a better ratio for
// cold index blobs can explicitly request zstd.
type payloadStore struct {
	f      *file
	offset int64 // start of the payload region in the container
	length int64 // current high-water mark, relative to offset
}

func newPayloadStore(f *file, offset, length int64) *payloadStore {
	return &payloadStore{f: f, offset: offset, length: length}
}

// Append snappy-encodes raw bytes if that shrinks them, otherwise
// stores them uncompressed. Returns the region-relative offset and the
// total length occupied on disk (header + stored bytes, 8-byte
// aligned) so the caller can record both in a catalog or manifest
// entry.
func (p *payloadStore) Append(raw []byte) (offset int64, totalLen int64, encoding PayloadEncoding, err error) {
	stored := snappy.Encode(nil, raw)
	enc := PayloadSnappy
	if len(stored) >= len(raw) {
		stored = raw
		enc = PayloadRaw
	}
	return p.appendEncoded(raw, stored, enc)
}

// AppendZstd forces zstd compression, used for cold index manifest
// blobs where the compression ratio matters more than encoding
// latency.
func (p *payloadStore) AppendZstd(raw []byte) (offset int64, totalLen int64, encoding PayloadEncoding, err error) {
	enc, encErr := zstd.NewWriter(nil)
	if encErr != nil {
		return 0, 0, 0, waxerr.New(waxerr.Io, "append_zstd", encErr)
	}
	stored := enc.EncodeAll(raw, nil)
	_ = enc.Close()
	if len(stored) >= len(raw) {
		return p.appendEncoded(raw, raw, PayloadRaw)
	}
	return p.appendEncoded(raw, stored, PayloadZstd)
}

func (p *payloadStore) appendEncoded(raw, stored []byte, enc PayloadEncoding) (int64, int64, PayloadEncoding, error) {
	total := align8(payloadHeaderSize + len(stored))
	buf := make([]byte, total)
	buf[0] = byte(enc)
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(buf[5:], uint32(len(stored)))
	binary.LittleEndian.PutUint32(buf[9:], crc32c(stored))
	copy(buf[payloadHeaderSize:], stored)

	writeAt := p.offset + p.length
	if err := p.f.WriteAll(writeAt, buf); err != nil {
		return 0, 0, 0, err
	}
	entryOffset := p.length
	p.length += int64(total)
	return entryOffset, int64(total), enc, nil
}

// Read decodes the payload stored at the region-relative offset off,
// of on-disk length totalLen, validating its CRC and decompressing as
// needed.
func (p *payloadStore) Read(off, totalLen int64) ([]byte, error) {
	buf := make([]byte, totalLen)
	if err := p.f.ReadExact(p.offset+off, buf); err != nil {
		return nil, err
	}
	if len(buf) < payloadHeaderSize {
		return nil, waxerr.Newf(waxerr.Corruption, "payload_read", "entry shorter than header: %d bytes", len(buf))
	}
	enc := PayloadEncoding(buf[0])
	rawLen := binary.LittleEndian.Uint32(buf[1:])
	storedLen := binary.LittleEndian.Uint32(buf[5:])
	wantCRC := binary.LittleEndian.Uint32(buf[9:])

	if payloadHeaderSize+int(storedLen) > len(buf) {
		return nil, waxerr.Newf(waxerr.Corruption, "payload_read", "stored length exceeds entry: %d > %d", storedLen, len(buf)-payloadHeaderSize)
	}
	stored := buf[payloadHeaderSize : payloadHeaderSize+int(storedLen)]
	if crc32c(stored) != wantCRC {
		return nil, waxerr.Newf(waxerr.Corruption, "payload_read", "crc mismatch at offset %d", off)
	}

	switch enc {
	case PayloadRaw:
		out := make([]byte, len(stored))
		copy(out, stored)
		return out, nil
	case PayloadSnappy:
		out, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, waxerr.New(waxerr.Corruption, "payload_read", fmt.Errorf("snappy decode: %w", err))
		}
		return out, nil
	case PayloadZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, waxerr.New(waxerr.Io, "payload_read", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, waxerr.New(waxerr.Corruption, "payload_read", fmt.Errorf("zstd decode: %w", err))
		}
		return out, nil
	default:
		return nil, waxerr.Newf(waxerr.Corruption, "payload_read", "unknown encoding %d", enc)
	}
}

// Length reports the payload region's current high-water mark.
func (p *payloadStore) Length() int64 { return p.length }
