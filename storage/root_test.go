package storage

import (
	"testing"
)

func sampleRoot(epoch uint64) *RootHeader {
	h := &RootHeader{
		Epoch:               epoch,
		WALOffset:           2 * PageSize,
		WALCapacity:         1 << 20,
		WALHeadSequence:     10,
		WALTailSequence:     1,
		WALCommittedSeq:     9,
		PayloadRegionOffset: 2*PageSize + (1 << 20),
		PayloadRegionLength: 1 << 24,
		CatalogNextFrameID:  42,
	}
	copy(h.FileInstanceID[:], []byte("0123456789abcdef"))
	return h
}

func TestRootHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleRoot(7)
	buf := h.Encode()
	if len(buf) != PageSize {
		t.Fatalf("encoded root must be exactly PageSize, got %d", len(buf))
	}
	got, err := decodeRootHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Epoch != h.Epoch || got.WALHeadSequence != h.WALHeadSequence || got.CatalogNextFrameID != h.CatalogNextFrameID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestRootHeaderDecodeRejectsBadMagic(t *testing.T) {
	h := sampleRoot(1)
	buf := h.Encode()
	buf[0] = 'X'
	if _, err := decodeRootHeader(buf); err == nil {
		t.Fatalf("expected error for corrupted magic")
	}
}

func TestRootHeaderDecodeRejectsBadCRC(t *testing.T) {
	h := sampleRoot(1)
	buf := h.Encode()
	buf[20] ^= 0xFF
	if _, err := decodeRootHeader(buf); err == nil {
		t.Fatalf("expected error for crc mismatch")
	}
}

func TestLoadValidRootPicksHigherEpoch(t *testing.T) {
	f := newFile(NewMemFile())
	if err := f.Truncate(2 * PageSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	old := sampleRoot(3)
	newer := sampleRoot(4)
	if err := writeRoot(f, 0, old); err != nil {
		t.Fatalf("write slot 0: %v", err)
	}
	if err := writeRoot(f, 1, newer); err != nil {
		t.Fatalf("write slot 1: %v", err)
	}

	got, slot, err := loadValidRoot(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Epoch != 4 || slot != 1 {
		t.Fatalf("expected epoch 4 in slot 1, got epoch %d in slot %d", got.Epoch, slot)
	}
}

func TestLoadValidRootFallsBackWhenOneSlotCorrupt(t *testing.T) {
	f := newFile(NewMemFile())
	if err := f.Truncate(2 * PageSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	good := sampleRoot(5)
	if err := writeRoot(f, 0, good); err != nil {
		t.Fatalf("write slot 0: %v", err)
	}
	// Slot 1 is left as all-zero bytes — fails magic check.

	got, slot, err := loadValidRoot(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Epoch != 5 || slot != 0 {
		t.Fatalf("expected fallback to slot 0, got epoch %d slot %d", got.Epoch, slot)
	}
}

func TestLoadValidRootFailsWhenBothSlotsInvalid(t *testing.T) {
	f := newFile(NewMemFile())
	if err := f.Truncate(2 * PageSize); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, _, err := loadValidRoot(f); err == nil {
		t.Fatalf("expected error when neither root slot is valid")
	}
}

func TestNextRootSlotAlternates(t *testing.T) {
	if nextRootSlot(0) != 1 {
		t.Fatalf("expected slot 1 after slot 0")
	}
	if nextRootSlot(1) != 0 {
		t.Fatalf("expected slot 0 after slot 1")
	}
}
