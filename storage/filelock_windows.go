//go:build windows

package storage

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock = 0x00000002
	lockfileFailImmediate = 0x00000001
)

// fileLock represents an OS-level advisory lock held directly on the
// container's descriptor (Windows implementation). Wax never opens a
// sidecar ".lock" file.
type fileLock struct {
	fd uintptr
}

// lockFile acquires an exclusive lock on fd.
func lockFile(path string, fd uintptr) (*fileLock, error) {
	ol := new(syscall.Overlapped)
	r1, _, err := procLockFileEx.Call(
		fd,
		uintptr(lockfileExclusiveLock|lockfileFailImmediate),
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
		return nil, fmt.Errorf("filelock: database %q is locked by another process: %w", path, err)
	}
	return &fileLock{fd: fd}, nil
}

// unlock releases the lock.
func (fl *fileLock) unlock() error {
	if fl == nil {
		return nil
	}
	ol := new(syscall.Overlapped)
	r1, _, err := procUnlockFileEx.Call(
		fl.fd,
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}
