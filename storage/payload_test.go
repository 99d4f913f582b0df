package storage

import (
	"bytes"
	"testing"
)

func newTestPayloadStore(t *testing.T) *payloadStore {
	t.Helper()
	f := newFile(NewMemFile())
	if err := f.Truncate(1 << 20); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return newPayloadStore(f, 0, 0)
}

func TestPayloadStoreAppendAndReadRoundTrip(t *testing.T) {
	p := newTestPayloadStore(t)
	raw := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to make this compressible")

	off, total, _, err := p.Append(raw)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if total <= 0 {
		t.Fatalf("expected positive total length")
	}

	got, err := p.Read(off, total)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %q want %q", got, raw)
	}
}

func TestPayloadStoreFallsBackToRawWhenCompressionDoesNotShrink(t *testing.T) {
	p := newTestPayloadStore(t)
	raw := []byte{0x01, 0x02, 0x03} // too small to compress usefully

	off, total, enc, err := p.Append(raw)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if enc != PayloadRaw {
		t.Fatalf("expected PayloadRaw fallback for incompressible data, got %v", enc)
	}
	got, err := p.Read(off, total)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %v want %v", got, raw)
	}
}

func TestPayloadStoreZstdRoundTrip(t *testing.T) {
	p := newTestPayloadStore(t)
	raw := bytes.Repeat([]byte("wax payload compression test "), 200)

	off, total, enc, err := p.AppendZstd(raw)
	if err != nil {
		t.Fatalf("append zstd: %v", err)
	}
	if enc != PayloadZstd {
		t.Fatalf("expected PayloadZstd, got %v", enc)
	}
	got, err := p.Read(off, total)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("zstd round trip mismatch")
	}
}

func TestPayloadStoreDetectsCorruption(t *testing.T) {
	p := newTestPayloadStore(t)
	raw := []byte("corruption detection payload")
	off, total, _, err := p.Append(raw)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	flip := []byte{0xFF}
	if err := p.f.WriteAll(p.offset+off+payloadHeaderSize, flip); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := p.Read(off, total); err == nil {
		t.Fatalf("expected corruption error after flipping stored bytes")
	}
}

func TestPayloadStoreAppendsSequentially(t *testing.T) {
	p := newTestPayloadStore(t)
	off1, total1, _, err := p.Append([]byte("first"))
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	off2, _, _, err := p.Append([]byte("second"))
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if off2 != off1+total1 {
		t.Fatalf("expected second entry to follow first: off1=%d total1=%d off2=%d", off1, total1, off2)
	}
}
