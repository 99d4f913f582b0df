package storage

import (
	"encoding/binary"
	"errors"
)

// WALRecordKind identifies the kind of operation carried by a WAL
// record. The set matches exactly the catalog/manifest/commit
// vocabulary: append-payload, catalog-put, supersede, delete,
// embedding-put, stage-lex-index, stage-vec-index, stage-kv-index,
// checkpoint-sentinel, wrap-sentinel, commit-marker.
type WALRecordKind uint8

const (
	WALAppendPayload WALRecordKind = iota + 1
	WALCatalogPut
	WALSupersede
	WALDelete
	WALEmbeddingPut
	WALStageLexIndex
	WALStageVecIndex
	WALStageKVIndex
	WALCheckpointSentinel
	WALWrapSentinel
	WALCommitMarker
)

func (k WALRecordKind) String() string {
	switch k {
	case WALAppendPayload:
		return "append-payload"
	case WALCatalogPut:
		return "catalog-put"
	case WALSupersede:
		return "supersede"
	case WALDelete:
		return "delete"
	case WALEmbeddingPut:
		return "embedding-put"
	case WALStageLexIndex:
		return "stage-lex-index"
	case WALStageVecIndex:
		return "stage-vec-index"
	case WALStageKVIndex:
		return "stage-kv-index"
	case WALCheckpointSentinel:
		return "checkpoint-sentinel"
	case WALWrapSentinel:
		return "wrap-sentinel"
	case WALCommitMarker:
		return "commit-marker"
	default:
		return "unknown"
	}
}

// walRecordHeaderSize is the fixed header preceding every record's
// payload: u32 length_with_header | u32 crc32c(payload) |
// u64 sequence | u8 kind | u8 flags | u16 reserved.
const walRecordHeaderSize = 4 + 4 + 8 + 1 + 1 + 2 // 20 bytes

var errRecordTooLarge = errors.New("storage: wal record larger than ring capacity")

// WALRecord is a decoded ring record.
type WALRecord struct {
	Seq     uint64
	Kind    WALRecordKind
	Flags   uint8
	Payload []byte
}

func encodeRecord(buf []byte, seq uint64, kind WALRecordKind, flags uint8, payload []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(walRecordHeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(buf[4:], crc32c(payload))
	binary.LittleEndian.PutUint64(buf[8:], seq)
	buf[16] = byte(kind)
	buf[17] = flags
	buf[18] = 0
	buf[19] = 0
	copy(buf[walRecordHeaderSize:], payload)
}

func decodeRecordHeader(buf []byte) (totalLen int, crc uint32, seq uint64, kind WALRecordKind, flags uint8) {
	totalLen = int(binary.LittleEndian.Uint32(buf[0:]))
	crc = binary.LittleEndian.Uint32(buf[4:])
	seq = binary.LittleEndian.Uint64(buf[8:])
	kind = WALRecordKind(buf[16])
	flags = buf[17]
	return
}

// walRing is the embedded WAL: a fixed-size contiguous region of the
// single container file. Records are appended at headPos (modulo
// capacity); a record that would overrun the physical end instead
// triggers a wrap-sentinel filling the remainder, and writing
// continues at physical offset 0 while the sequence number keeps
// climbing. This is the only WAL implementation — no sidecar file
// backs it.
type walRing struct {
	f        *file
	offset   int64 // offset in the container file where the ring begins
	capacity int64

	headSeq   uint64 // next sequence number to assign
	tailSeq   uint64 // oldest not-yet-reclaimed sequence (checkpoint frontier)
	commitSeq uint64 // last committed sequence

	headPos int64 // physical offset in the ring for the next write

	bytesSinceCommit int64
	bytesSinceTail   int64

	wrapCount       uint64
	autoCommitCount uint64
	sentinelCount   uint64
	checkpointCount uint64
}

// newWALRing initializes a fresh, empty ring over [offset, offset+capacity).
func newWALRing(f *file, offset, capacity int64) *walRing {
	return &walRing{
		f: f, offset: offset, capacity: capacity,
		headSeq: 1, tailSeq: 1, commitSeq: 0,
	}
}

// openWALRing attaches to an existing ring using the markers produced
// by replayWALRing at open time.
func openWALRing(f *file, offset, capacity int64, headSeq, tailSeq, commitSeq uint64, headPos int64) *walRing {
	return &walRing{
		f: f, offset: offset, capacity: capacity,
		headSeq: headSeq, tailSeq: tailSeq, commitSeq: commitSeq, headPos: headPos,
	}
}

// append writes a record and returns its sequence number. It does not
// fsync; durability is the commit coordinator's responsibility.
func (r *walRing) append(kind WALRecordKind, flags uint8, payload []byte) (uint64, error) {
	needed := align8(walRecordHeaderSize + len(payload))
	if int64(needed) > r.capacity {
		return 0, errRecordTooLarge
	}
	if r.headPos+int64(needed) > r.capacity {
		if err := r.writeWrapSentinel(); err != nil {
			return 0, err
		}
	}

	seq := r.headSeq
	buf := make([]byte, needed)
	encodeRecord(buf, seq, kind, flags, payload)
	if err := r.f.WriteAll(r.offset+r.headPos, buf); err != nil {
		return 0, err
	}
	r.headPos += int64(needed)
	r.headSeq++
	r.bytesSinceCommit += int64(needed)
	r.bytesSinceTail += int64(needed)
	return seq, nil
}

// writeWrapSentinel fills the rest of the ring with a sentinel record
// (if there's room for a header) and resets headPos to 0.
func (r *walRing) writeWrapSentinel() error {
	remaining := r.capacity - r.headPos
	if remaining >= walRecordHeaderSize {
		payloadLen := int(remaining) - walRecordHeaderSize
		buf := make([]byte, remaining)
		encodeRecord(buf, r.headSeq, WALWrapSentinel, 0, make([]byte, payloadLen))
		if err := r.f.WriteAll(r.offset+r.headPos, buf); err != nil {
			return err
		}
		r.sentinelCount++
		r.bytesSinceTail += remaining
	}
	r.headPos = 0
	r.wrapCount++
	return nil
}

// commit writes a commit-marker record and advances commitSeq to it,
// resetting the pending-bytes pressure counter. The caller fsyncs
// separately before treating the commit as durable.
func (r *walRing) commit() (uint64, error) {
	seq, err := r.append(WALCommitMarker, 0, nil)
	if err != nil {
		return 0, err
	}
	r.commitSeq = seq
	r.bytesSinceCommit = 0
	return seq, nil
}

func (r *walRing) pendingBytes() int64 { return r.bytesSinceCommit }

// shouldAutoCommit reports whether pending bytes have crossed the
// configured fraction of the ring's capacity.
func (r *walRing) shouldAutoCommit(thresholdPercent int) bool {
	if thresholdPercent <= 0 {
		return false
	}
	threshold := r.capacity * int64(thresholdPercent) / 100
	return r.bytesSinceCommit >= threshold
}

func (r *walRing) noteAutoCommit() { r.autoCommitCount++ }

// checkpointAdvance moves the tail to just past the last committed
// record, freeing the ring space the checkpoint absorbed into the
// payload/catalog region.
func (r *walRing) checkpointAdvance() {
	r.tailSeq = r.commitSeq + 1
	r.bytesSinceTail = 0
	r.checkpointCount++
}

// Stats gathers the WAL's pressure/operating counters exposed through
// the Store's observability surface.
type Stats struct {
	HeadSequence         uint64
	TailSequence         uint64
	LastCommittedSeq     uint64
	Capacity             int64
	PendingBytes         int64
	BytesSinceCheckpoint int64
	WrapCount            uint64
	AutoCommitCount      uint64
	SentinelWriteCount   uint64
	CheckpointCount      uint64
}

func (r *walRing) stats() Stats {
	return Stats{
		HeadSequence:         r.headSeq,
		TailSequence:         r.tailSeq,
		LastCommittedSeq:     r.commitSeq,
		Capacity:             r.capacity,
		PendingBytes:         r.bytesSinceCommit,
		BytesSinceCheckpoint: r.bytesSinceTail,
		WrapCount:            r.wrapCount,
		AutoCommitCount:      r.autoCommitCount,
		SentinelWriteCount:   r.sentinelCount,
		CheckpointCount:      r.checkpointCount,
	}
}

// readRecordAt decodes a record at the relative offset pos in the
// ring, validating its CRC. ok is false when no valid record begins
// there — either because the slot was never written, or because the
// write is truncated/corrupt. Either way, the caller has found the
// replay frontier.
func (r *walRing) readRecordAt(pos int64) (rec WALRecord, totalLen int, ok bool) {
	if pos < 0 || pos+walRecordHeaderSize > r.capacity {
		return WALRecord{}, 0, false
	}
	hdr := make([]byte, walRecordHeaderSize)
	if err := r.f.ReadExact(r.offset+pos, hdr); err != nil {
		return WALRecord{}, 0, false
	}
	length, crc, seq, kind, flags := decodeRecordHeader(hdr)
	if length < walRecordHeaderSize || pos+int64(align8(length)) > r.capacity {
		return WALRecord{}, 0, false
	}
	payloadLen := length - walRecordHeaderSize
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if err := r.f.ReadExact(r.offset+pos+walRecordHeaderSize, payload); err != nil {
			return WALRecord{}, 0, false
		}
	}
	if crc32c(payload) != crc {
		return WALRecord{}, 0, false
	}
	return WALRecord{Seq: seq, Kind: kind, Flags: flags, Payload: payload}, align8(length), true
}

// replayResult is the outcome of a single open-time pass over the ring.
type replayResult struct {
	committed []WALRecord
	pending   []WALRecord
	headPos   int64 // physical offset just past the last valid record found
	headSeq   uint64
}

// replayWALRing walks the ring once, anchoring on the record carrying
// tailSeq (found by an 8-byte-aligned CRC probe, since the bit-exact
// root page only records logical sequence markers, never physical ring
// offsets), then follows the chain forward via each record's
// length-with-header field, classifying valid records as committed
// (Seq <= commitSeq) or pending. The walk stops at the first CRC
// failure or sequence discontinuity — that point is the WAL's durable
// frontier.
func replayWALRing(f *file, offset, capacity int64, tailSeq, commitSeq uint64) (replayResult, error) {
	r := &walRing{f: f, offset: offset, capacity: capacity}
	res := replayResult{headSeq: tailSeq}

	if tailSeq == 0 {
		return res, nil
	}

	anchor, found := findAnchor(r, tailSeq)
	if !found {
		res.headSeq = tailSeq
		return res, nil
	}

	pos := anchor
	expectedSeq := tailSeq
	visited := int64(0)
	wrapped := false
	for visited < capacity {
		rec, length, ok := r.readRecordAt(pos)
		if !ok {
			break
		}
		if rec.Kind == WALWrapSentinel {
			if wrapped {
				break
			}
			wrapped = true
			pos = 0
			visited += int64(length)
			continue
		}
		if rec.Seq != expectedSeq {
			break
		}
		if rec.Kind != WALCommitMarker {
			if rec.Seq <= commitSeq {
				res.committed = append(res.committed, rec)
			} else {
				res.pending = append(res.pending, rec)
			}
		}
		expectedSeq++
		pos += int64(length)
		visited += int64(length)
		res.headPos = pos
		res.headSeq = expectedSeq
	}
	return res, nil
}

// findAnchor brute-force probes 8-byte-aligned offsets looking for the
// record whose sequence number equals seq and whose CRC is valid. On a
// healthy ring there is exactly one match; the first one found is
// returned.
func findAnchor(r *walRing, seq uint64) (int64, bool) {
	for pos := int64(0); pos+walRecordHeaderSize <= r.capacity; pos += 8 {
		rec, _, ok := r.readRecordAt(pos)
		if !ok || rec.Kind == WALWrapSentinel {
			continue
		}
		if rec.Seq == seq {
			return pos, true
		}
	}
	return 0, false
}
