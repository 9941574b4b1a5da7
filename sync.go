package hbm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Mapping is the context of one map/unmap cycle: which object supplied the
// mapped address and the access mode the caller requested. Mappings are not
// reentrant; a second Map before Unmap on the same resource is undefined.
type Mapping struct {
	// Flags is the software access mode of this cycle.
	Flags MapFlags

	// nil for a direct mapping of the primary object.
	staging Object
}

// Rect bounds a sync operation. For opaque byte buffers only X and Width
// are meaningful, as byte offsets.
type Rect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// SyncDirection selects which way a Sync moves data.
type SyncDirection byte

const (
	// SyncFlush publishes software writes to the device.
	SyncFlush SyncDirection = iota
	// SyncInvalidate pulls device writes into software visibility.
	SyncInvalidate
)

// Map returns a CPU address for the resource. Resources without staging
// geometry map the primary object directly; staged resources get a fresh
// coherent staging object for the lifetime of the mapping.
func (e *Engine) Map(id ResourceID, flags MapFlags) (unsafe.Pointer, *Mapping, error) {
	res, err := e.resource(id)
	if err != nil {
		return nil, nil, err
	}

	if res.staging == nil {
		ptr, err := e.provider.Map(res.object)
		if err != nil {
			return nil, nil, errors.Mark(errors.Wrap(err, "mapping primary object"), ErrMapFailure)
		}
		return ptr, &Mapping{Flags: flags}, nil
	}

	staging, err := e.createStagingObject(res.staging.size)
	if err != nil {
		return nil, nil, errors.Mark(errors.Wrap(err, "creating staging object"), ErrMapFailure)
	}
	if err := e.provider.BindMemory(staging, e.stagingType.Index, -1); err != nil {
		e.provider.Destroy(staging)
		return nil, nil, errors.Mark(errors.Wrap(err, "binding staging memory"), ErrMapFailure)
	}

	ptr, err := e.provider.Map(staging)
	if err != nil {
		e.provider.Destroy(staging)
		return nil, nil, errors.Mark(errors.Wrap(err, "mapping staging object"), ErrMapFailure)
	}

	return ptr, &Mapping{Flags: flags, staging: staging}, nil
}

// Unmap ends a map/unmap cycle. A staging object is never reused across
// cycles; it is destroyed here.
func (e *Engine) Unmap(id ResourceID, mapping *Mapping) error {
	res, err := e.resource(id)
	if err != nil {
		return err
	}

	if res.staging == nil {
		e.provider.Unmap(res.object)
		return nil
	}

	e.provider.Unmap(mapping.staging)
	e.provider.Destroy(mapping.staging)
	mapping.staging = nil
	return nil
}

// Sync reconciles CPU and device views of one plane of a mapped resource.
//
// It first blocks on the resource's implicit fence, if one is attached:
// write-intending mappings wait for write readiness, others for read
// readiness, with no timeout. Directly-mapped resources are then flushed or
// invalidated as a whole; staged resources get a bounded copy between the
// primary and staging objects (the staging memory is coherent, so no
// additional flush is needed on it).
func (e *Engine) Sync(id ResourceID, mapping *Mapping, plane int, rect Rect, direction SyncDirection) error {
	res, err := e.resource(id)
	if err != nil {
		return err
	}

	if err := waitResource(res, mapping.Flags); err != nil {
		return err
	}

	if res.staging == nil {
		// TODO respect rect
		if direction == SyncFlush {
			if err := e.provider.Flush(res.object); err != nil {
				return errors.Mark(errors.Wrap(err, "flushing primary object"), ErrSyncFailure)
			}
		} else {
			if err := e.provider.Invalidate(res.object); err != nil {
				return errors.Mark(errors.Wrap(err, "invalidating primary object"), ErrSyncFailure)
			}
		}
		return nil
	}

	var src, dst Object
	if direction == SyncFlush {
		src, dst = mapping.staging, res.object
	} else {
		src, dst = res.object, mapping.staging
	}

	if res.format == FormatInvalid {
		region := BufferCopy{
			SrcOffset: uint64(rect.X),
			DstOffset: uint64(rect.X),
			Size:      uint64(rect.Width),
		}
		err = e.provider.CopyBuffer(dst, src, &region)
	} else {
		bpp := formatBytesPerPixel(res.format, plane)
		stride := res.staging.strides[plane]
		offset := res.staging.offsets[plane] + uint64(stride)*uint64(rect.Y) + uint64(bpp)*uint64(rect.X)

		region := BufferImageCopy{
			Offset:    offset,
			Stride:    stride,
			RowLength: stride / bpp,
			Plane:     plane,
			X:         rect.X,
			Y:         rect.Y,
			Width:     rect.Width,
			Height:    rect.Height,
		}
		err = e.provider.CopyBufferImage(dst, src, &region)
	}
	if err != nil {
		return errors.Mark(errors.Wrap(err, "copying between primary and staging"), ErrSyncFailure)
	}

	return nil
}

// waitResource emulates implicit fencing by polling the resource's dma-buf
// descriptor for I/O readiness. Blocks indefinitely; interrupted or
// would-block polls are retried.
func waitResource(res *resource, flags MapFlags) error {
	if res.implicitFenceFd < 0 {
		return nil
	}

	events := int16(unix.POLLIN)
	if flags&MapWrite != 0 {
		events = unix.POLLOUT
	}

	fds := []unix.PollFd{{
		Fd:     int32(res.implicitFenceFd),
		Events: events,
	}}

	for {
		n, err := unix.Poll(fds, -1)
		if n > 0 {
			if fds[0].Revents&events == 0 {
				return errors.Mark(errors.Newf("dma-buf signaled %#x while waiting for %#x", fds[0].Revents, events), ErrSyncFailure)
			}
			return nil
		}
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err == nil {
			return errors.Mark(errors.New("implicit fence poll returned no events"), ErrSyncFailure)
		}
		return errors.Mark(errors.Wrap(err, "polling implicit fence"), ErrSyncFailure)
	}
}
