package hbm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// fakeObject backs a provider object with plain process memory so staged
// copies can be verified byte for byte.
type fakeObject struct {
	desc   Description
	extent Extent
	layout Layout

	data      []byte
	boundType int
	boundFd   int
	mapped    bool
	destroyed bool
}

type fakeProvider struct {
	types []MemoryType

	// Modifier the device picks when the description leaves it open.
	implicitModifier Modifier
	supportsLinear   bool

	bindErrAfter  int // fail BindMemory once this many binds have happened; <0 disables
	mapErr        bool
	flushErr      error
	invalidateErr error

	objects        []*fakeObject
	flushes        int
	invalidates    int
	exported       int
	lastExportedFd int
	lastImageCopy  BufferImageCopy
}

func newFakeProvider(types []MemoryType) *fakeProvider {
	return &fakeProvider{
		types:            types,
		implicitModifier: Modifier(0x0100000000000001), // vendor-tiled
		bindErrAfter:     -1,
	}
}

func (f *fakeProvider) liveObjects() int {
	live := 0
	for _, obj := range f.objects {
		if !obj.destroyed {
			live++
		}
	}
	return live
}

func (f *fakeProvider) newObject(desc *Description, extent Extent, layout Layout) *fakeObject {
	obj := &fakeObject{
		desc:      *desc,
		extent:    extent,
		layout:    layout,
		boundType: -1,
		boundFd:   -1,
	}
	f.objects = append(f.objects, obj)
	return obj
}

// tightLayout mirrors the back-to-back plane layout the engine computes for
// staging, so fake image bytes and staging bytes agree on addressing.
func tightLayout(format Format, extent Extent, modifier Modifier) Layout {
	geometry := resolveStagingGeometry(format, extent)

	layout := Layout{
		TotalSize:  geometry.size,
		Modifier:   modifier,
		PlaneCount: geometry.planeCount,
	}
	for i := 0; i < geometry.planeCount; i++ {
		layout.Offsets[i] = geometry.offsets[i]
		layout.Strides[i] = geometry.strides[i]
	}
	return layout
}

func (f *fakeProvider) CreateWithConstraint(desc *Description, extent Extent, modifiers []Modifier) (Object, error) {
	modifier := desc.Modifier
	if modifier == ModifierInvalid {
		modifier = f.implicitModifier
		for _, candidate := range modifiers {
			if candidate == ModifierLinear && f.supportsLinear {
				modifier = ModifierLinear
				break
			}
		}
	}

	return f.newObject(desc, extent, tightLayout(desc.Format, extent, modifier)), nil
}

func (f *fakeProvider) CreateWithLayout(desc *Description, extent Extent, layout *Layout, seedFd int) (Object, error) {
	return f.newObject(desc, extent, *layout), nil
}

func (f *fakeProvider) Destroy(obj Object) {
	obj.(*fakeObject).destroyed = true
}

func (f *fakeProvider) Layout(obj Object) Layout {
	return obj.(*fakeObject).layout
}

func (f *fakeProvider) MemoryTypes(obj Object) []MemoryType {
	return f.types
}

func (f *fakeProvider) BindMemory(obj Object, typeIndex int, fd int) error {
	// fd ownership is transferred even on failure.
	if fd >= 0 {
		_ = unix.Close(fd)
	}

	if f.bindErrAfter == 0 {
		return errors.New("bind rejected")
	}
	if f.bindErrAfter > 0 {
		f.bindErrAfter--
	}

	o := obj.(*fakeObject)
	o.boundType = typeIndex
	o.boundFd = fd
	return nil
}

// Backing bytes are allocated on first access, so huge sparse imports do not
// materialize unless something maps or copies them.
func (o *fakeObject) ensureData() {
	if o.data != nil {
		return
	}

	size := o.layout.TotalSize
	if size == 0 {
		size = 1
	}
	o.data = make([]byte, size)
}

func (f *fakeProvider) Map(obj Object) (unsafe.Pointer, error) {
	if f.mapErr {
		return nil, errors.New("map rejected")
	}

	o := obj.(*fakeObject)
	if o.boundType < 0 {
		return nil, errors.New("map of unbound object")
	}
	o.ensureData()
	o.mapped = true
	return unsafe.Pointer(&o.data[0]), nil
}

func (f *fakeProvider) Unmap(obj Object) {
	obj.(*fakeObject).mapped = false
}

func (f *fakeProvider) Flush(obj Object) error {
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushes++
	return nil
}

func (f *fakeProvider) Invalidate(obj Object) error {
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	f.invalidates++
	return nil
}

func (f *fakeProvider) CopyBuffer(dst, src Object, region *BufferCopy) error {
	dstObj := dst.(*fakeObject)
	srcObj := src.(*fakeObject)
	dstObj.ensureData()
	srcObj.ensureData()

	copy(dstObj.data[region.DstOffset:region.DstOffset+region.Size],
		srcObj.data[region.SrcOffset:region.SrcOffset+region.Size])
	return nil
}

func (f *fakeProvider) CopyBufferImage(dst, src Object, region *BufferImageCopy) error {
	f.lastImageCopy = *region

	dstObj := dst.(*fakeObject)
	srcObj := src.(*fakeObject)
	dstObj.ensureData()
	srcObj.ensureData()

	// One of the two sides is an image; both are stored tightly, so the
	// buffer-side addressing works for either.
	imageObj := dstObj
	if srcObj.desc.Format != FormatInvalid {
		imageObj = srcObj
	}

	format := imageObj.desc.Format
	bpp := formatBytesPerPixel(format, region.Plane)
	imageStride := imageObj.layout.Strides[region.Plane]
	imageBase := imageObj.layout.Offsets[region.Plane] +
		uint64(imageStride)*uint64(region.Y) + uint64(bpp)*uint64(region.X)

	rowBytes := uint64(bpp) * uint64(region.Width)
	for row := uint64(0); row < uint64(region.Height); row++ {
		bufferOffset := region.Offset + uint64(region.Stride)*row
		imageOffset := imageBase + uint64(imageStride)*row

		if imageObj == dstObj {
			copy(dstObj.data[imageOffset:imageOffset+rowBytes], srcObj.data[bufferOffset:bufferOffset+rowBytes])
		} else {
			copy(dstObj.data[bufferOffset:bufferOffset+rowBytes], srcObj.data[imageOffset:imageOffset+rowBytes])
		}
	}
	return nil
}

func (f *fakeProvider) ExportDmaBuf(obj Object) (int, error) {
	fd, err := unix.MemfdCreate("hbm-test-dmabuf", 0)
	if err != nil {
		return -1, err
	}
	f.exported++
	f.lastExportedFd = fd
	return fd, nil
}

func (f *fakeProvider) Modifiers(desc *Description) []Modifier {
	if f.supportsLinear {
		return []Modifier{ModifierLinear, f.implicitModifier}
	}
	return []Modifier{f.implicitModifier}
}

func (f *fakeProvider) HasModifier(desc *Description, modifier Modifier) bool {
	if modifier == ModifierLinear {
		return f.supportsLinear
	}
	return modifier == f.implicitModifier
}

type fakePrimeImporter struct {
	nextHandle uint32
	err        error
}

func (f *fakePrimeImporter) FDToHandle(fd int) (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextHandle++
	return f.nextHandle, nil
}
