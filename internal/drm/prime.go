// Package drm translates dma-buf file descriptors into GEM handles on a
// DRM device node via the PRIME ioctl interface.
package drm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	drmIoctlBase = 'd'
)

func iowr(nr, size uintptr) uintptr {
	return (iocRead|iocWrite)<<iocDirShift | size<<iocSizeShift | drmIoctlBase<<iocTypeShift | nr<<iocNrShift
}

// struct drm_prime_handle
type primeHandle struct {
	handle uint32
	flags  uint32
	fd     int32
}

var drmIoctlPrimeFDToHandle = iowr(0x2e, unsafe.Sizeof(primeHandle{}))

// Importer converts dma-buf descriptors to GEM handles on one DRM device.
// The device fd is borrowed, not owned.
type Importer struct {
	deviceFd int
}

func NewImporter(deviceFd int) *Importer {
	return &Importer{deviceFd: deviceFd}
}

// FDToHandle wraps DRM_IOCTL_PRIME_FD_TO_HANDLE. The dma-buf descriptor is
// only borrowed; the returned GEM handle belongs to the device fd's handle
// namespace.
func (i *Importer) FDToHandle(fd int) (uint32, error) {
	args := primeHandle{fd: int32(fd)}

	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(i.deviceFd), drmIoctlPrimeFDToHandle, uintptr(unsafe.Pointer(&args)))
		if errno == 0 {
			return args.handle, nil
		}
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		return 0, errors.Wrapf(errno, "DRM_IOCTL_PRIME_FD_TO_HANDLE on fd %d", fd)
	}
}
