package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/waxdb/wax/waxerr"
)

// StorageFile abstracts positioned I/O so the container can run on a
// real *os.File or an in-memory MemFile (tests, filesystem-less
// embedding). There is no shared cursor: every read and write is
// positioned.
type StorageFile interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
	Sync() error
	Close() error
	Size() (int64, error)
	Truncate(size int64) error
}

// osFile adapts *os.File to StorageFile.
type osFile struct {
	f *os.File
}

func openOSFile(path string, readOnly bool) (*osFile, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, waxerr.New(waxerr.Io, "open", err)
	}
	return &osFile{f: f}, nil
}

func (o *osFile) ReadAt(b []byte, off int64) (int, error)  { return o.f.ReadAt(b, off) }
func (o *osFile) WriteAt(b []byte, off int64) (int, error) { return o.f.WriteAt(b, off) }
func (o *osFile) Sync() error                              { return o.f.Sync() }
func (o *osFile) Close() error                              { return o.f.Close() }
func (o *osFile) Truncate(size int64) error                 { return o.f.Truncate(size) }

func (o *osFile) Size() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fd exposes the underlying descriptor for OS-level locking.
func (o *osFile) fd() uintptr { return o.f.Fd() }

// file is the actual file I/O layer: positioned reads/writes plus
// fsync, on top of a StorageFile. It never keeps a shared cursor, and
// every durability-sensitive write is followed by an explicit Fsync
// decided by the caller (the WAL ring and the commit coordinator decide
// the timing).
type file struct {
	sf StorageFile
}

func newFile(sf StorageFile) *file { return &file{sf: sf} }

// ReadExact reads exactly len(b) bytes at off, or returns an Io error.
func (f *file) ReadExact(off int64, b []byte) error {
	n, err := f.sf.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return waxerr.New(waxerr.Io, "read_exact", fmt.Errorf("at offset %d: %w", off, err))
}

// WriteAll writes all of b at off, or returns an Io error.
func (f *file) WriteAll(off int64, b []byte) error {
	n, err := f.sf.WriteAt(b, off)
	if err != nil {
		return waxerr.New(waxerr.Io, "write_all", fmt.Errorf("at offset %d: %w", off, err))
	}
	if n != len(b) {
		return waxerr.New(waxerr.Io, "write_all", fmt.Errorf("short write at offset %d: %d/%d", off, n, len(b)))
	}
	return nil
}

// Fsync forces all prior writes to durable storage.
func (f *file) Fsync() error {
	if err := f.sf.Sync(); err != nil {
		return waxerr.New(waxerr.Io, "fsync", err)
	}
	return nil
}

// FileSize returns the file's current length.
func (f *file) FileSize() (int64, error) {
	sz, err := f.sf.Size()
	if err != nil {
		return 0, waxerr.New(waxerr.Io, "file_size", err)
	}
	return sz, nil
}

// Truncate resizes the file to exactly size bytes.
func (f *file) Truncate(size int64) error {
	if err := f.sf.Truncate(size); err != nil {
		return waxerr.New(waxerr.Io, "truncate", err)
	}
	return nil
}

func (f *file) Close() error {
	return f.sf.Close()
}
