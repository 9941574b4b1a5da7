package hbm

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
)

// MemoryTypeFlags describe one provider-reported memory type.
type MemoryTypeFlags uint32

var memoryTypeFlagsMapping = common.NewFlagStringMapping[MemoryTypeFlags]()

func (f MemoryTypeFlags) Register(str string) {
	memoryTypeFlagsMapping.Register(f, str)
}
func (f MemoryTypeFlags) String() string {
	return memoryTypeFlagsMapping.FlagsToString(f)
}

const (
	// MemoryTypeLocal is device-local memory.
	MemoryTypeLocal MemoryTypeFlags = 1 << iota
	// MemoryTypeMappable memory can be mapped into the host address space.
	MemoryTypeMappable
	// MemoryTypeCoherent memory needs no explicit flush/invalidate.
	MemoryTypeCoherent
	// MemoryTypeCached memory is host-cached.
	MemoryTypeCached
	// MemoryTypeProtected memory holds protected content.
	MemoryTypeProtected
)

func init() {
	MemoryTypeLocal.Register("MemoryTypeLocal")
	MemoryTypeMappable.Register("MemoryTypeMappable")
	MemoryTypeCoherent.Register("MemoryTypeCoherent")
	MemoryTypeCached.Register("MemoryTypeCached")
	MemoryTypeProtected.Register("MemoryTypeProtected")
}

// MemoryType identifies one entry of a provider's ordered memory-type list.
// The index is stable for the lifetime of the provider.
type MemoryType struct {
	Index int
	Flags MemoryTypeFlags
}

// Object is an opaque provider handle to a block of device-visible memory.
type Object interface{}

// BufferCopy describes a byte copy between two opaque buffer objects.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy describes a copy between a linear staging buffer and one
// plane of an image object. Offset, Stride, and RowLength address the buffer
// side; the rectangle addresses the image side.
type BufferImageCopy struct {
	Offset uint64
	// Stride is the buffer row pitch in bytes, RowLength the same pitch in
	// texels. Both describe the full plane, not the copied rectangle.
	Stride    uint32
	RowLength uint32
	Plane     int
	X         uint32
	Y         uint32
	Width     uint32
	Height    uint32
}

// Provider is the narrow contract the engine consumes from the underlying
// device/buffer-object manager. Implementations own object creation, memory
// binding, mapping, and raw copies; the engine owns all policy.
//
// A file descriptor handed to BindMemory is always consumed exactly once,
// whether binding succeeds or fails. A seed descriptor handed to
// CreateWithLayout is only borrowed.
type Provider interface {
	// CreateWithConstraint creates an object for a description and extent.
	// A modifier candidate list, when non-nil, constrains the layout.
	CreateWithConstraint(desc *Description, extent Extent, modifiers []Modifier) (Object, error)
	// CreateWithLayout creates an object bound to an exact caller-supplied
	// layout. seedFd, when non-negative, identifies the backing dma-buf; it
	// is not consumed.
	CreateWithLayout(desc *Description, extent Extent, layout *Layout, seedFd int) (Object, error)
	// Destroy releases an object and any memory bound to it.
	Destroy(obj Object)

	// Layout reports the concrete layout the provider chose for an object.
	Layout(obj Object) Layout
	// MemoryTypes reports the memory types an object can be bound to, in
	// provider preference order.
	MemoryTypes(obj Object) []MemoryType
	// BindMemory binds memory of the given type index to the object. fd,
	// when non-negative, is an ownership-transferred dma-buf to import.
	BindMemory(obj Object, typeIndex int, fd int) error

	Map(obj Object) (unsafe.Pointer, error)
	Unmap(obj Object)
	Flush(obj Object) error
	Invalidate(obj Object) error

	CopyBuffer(dst, src Object, region *BufferCopy) error
	CopyBufferImage(dst, src Object, region *BufferImageCopy) error

	// ExportDmaBuf exports the object's memory as an owned dma-buf fd.
	ExportDmaBuf(obj Object) (int, error)

	// Modifiers reports the layout modifiers supported for a description.
	Modifiers(desc *Description) []Modifier
	// HasModifier reports whether a specific modifier is supported for a
	// description.
	HasModifier(desc *Description, modifier Modifier) bool
}

// PrimeImporter converts a dma-buf file descriptor into a foreign-subsystem
// (DRM GEM) handle. The descriptor is only borrowed.
type PrimeImporter interface {
	FDToHandle(fd int) (uint32, error)
}
