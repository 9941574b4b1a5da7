package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory"
	"github.com/vkngwrapper/hbm"
	"github.com/vkngwrapper/hbm/internal/vulkan/memoryfd"
	"golang.org/x/exp/slog"
)

// object is one provider buffer object: exactly one of buffer or image,
// plus the memory bound to it.
type object struct {
	buffer core1_0.Buffer
	image  core1_0.Image

	memory      core1_0.DeviceMemory
	imageLayout core1_0.ImageLayout

	size           int
	memoryTypeBits uint32
	layout         hbm.Layout
}

func imageFormat(format hbm.Format) (core1_0.Format, error) {
	switch format {
	case hbm.FormatR8:
		return core1_0.FormatR8UnsignedNormalized, nil
	case hbm.FormatGR88:
		return core1_0.FormatR8G8UnsignedNormalized, nil
	case hbm.FormatRGB565:
		return core1_0.FormatR5G6B5UnsignedNormalizedPacked, nil
	case hbm.FormatARGB8888, hbm.FormatXRGB8888:
		return core1_0.FormatB8G8R8A8UnsignedNormalized, nil
	case hbm.FormatABGR8888, hbm.FormatXBGR8888:
		return core1_0.FormatR8G8B8A8UnsignedNormalized, nil
	case hbm.FormatABGR2101010:
		return core1_0.FormatA2B10G10R10UnsignedNormalizedPacked, nil
	default:
		return 0, errors.Newf("no single-plane Vulkan equivalent for format %#x", uint32(format))
	}
}

func imageUsage(usage hbm.DescriptionUsage) core1_0.ImageUsageFlags {
	flags := core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst
	if usage&hbm.UsageGPUColor != 0 {
		flags |= core1_0.ImageUsageColorAttachment
	}
	if usage&hbm.UsageGPUSampled != 0 {
		flags |= core1_0.ImageUsageSampled
	}
	return flags
}

func bufferUsage(usage hbm.DescriptionUsage) core1_0.BufferUsageFlags {
	flags := core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst
	if usage&hbm.UsageGPUUniform != 0 {
		flags |= core1_0.BufferUsageUniformBuffer
	}
	if usage&hbm.UsageGPUStorage != 0 {
		flags |= core1_0.BufferUsageStorageBuffer
	}
	return flags
}

func (p *Provider) createBuffer(desc *hbm.Description, size uint64) (*object, error) {
	createInfo := core1_0.BufferCreateInfo{
		Size:        int(size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	}

	if desc.Flags&hbm.DescriptionExternal != 0 {
		externalInfo := khr_external_memory.ExternalMemoryBufferCreateInfo{
			HandleTypes: externalMemoryHandleTypeDmaBuf,
		}
		externalInfo.Next = createInfo.Next
		createInfo.Next = externalInfo
	}

	buffer, _, err := p.device.CreateBuffer(nil, createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "creating buffer")
	}

	requirements := buffer.MemoryRequirements()

	return &object{
		buffer:         buffer,
		size:           requirements.Size,
		memoryTypeBits: requirements.MemoryTypeBits,
		layout: hbm.Layout{
			TotalSize:  size,
			Modifier:   hbm.ModifierLinear,
			PlaneCount: 1,
		},
	}, nil
}

func (p *Provider) createImage(desc *hbm.Description, extent hbm.ImageExtent) (*object, error) {
	format, err := imageFormat(desc.Format)
	if err != nil {
		return nil, err
	}

	tiling := core1_0.ImageTilingOptimal
	initialLayout := core1_0.ImageLayoutUndefined
	if desc.Modifier == hbm.ModifierLinear {
		tiling = core1_0.ImageTilingLinear
		initialLayout = core1_0.ImageLayoutPreInitialized
	}

	createInfo := core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Format:        format,
		Extent:        core1_0.Extent3D{Width: int(extent.Width), Height: int(extent.Height), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        tiling,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: initialLayout,
	}

	if desc.Flags&hbm.DescriptionExternal != 0 {
		externalInfo := khr_external_memory.ExternalMemoryImageCreateInfo{
			HandleTypes: externalMemoryHandleTypeDmaBuf,
		}
		externalInfo.Next = createInfo.Next
		createInfo.Next = externalInfo
	}

	image, _, err := p.device.CreateImage(nil, createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "creating image")
	}

	requirements := image.MemoryRequirements()

	o := &object{
		image:          image,
		imageLayout:    initialLayout,
		size:           requirements.Size,
		memoryTypeBits: requirements.MemoryTypeBits,
	}

	o.layout = hbm.Layout{
		TotalSize:  uint64(requirements.Size),
		Modifier:   desc.Modifier,
		PlaneCount: 1,
	}

	if tiling == core1_0.ImageTilingLinear {
		subresource := image.SubresourceLayout(&core1_0.ImageSubresource{
			AspectMask: core1_0.ImageAspectColor,
		})
		o.layout.Modifier = hbm.ModifierLinear
		o.layout.Offsets[0] = uint64(subresource.Offset)
		o.layout.Strides[0] = uint32(subresource.RowPitch)
	}

	return o, nil
}

// CreateWithConstraint creates an object for a description and extent. The
// provider does not negotiate explicit modifier lists; a constraint list is
// honored only when it contains the linear modifier.
func (p *Provider) CreateWithConstraint(desc *hbm.Description, extent hbm.Extent, modifiers []hbm.Modifier) (hbm.Object, error) {
	effectiveDesc := *desc
	for _, modifier := range modifiers {
		if modifier == hbm.ModifierLinear {
			effectiveDesc.Modifier = hbm.ModifierLinear
			break
		}
	}

	switch ext := extent.(type) {
	case hbm.BufferExtent:
		return p.createBuffer(&effectiveDesc, ext.Size)
	case hbm.ImageExtent:
		return p.createImage(&effectiveDesc, ext)
	default:
		return nil, errors.Newf("unsupported extent %T", extent)
	}
}

// CreateWithLayout creates an object for an exact caller-supplied layout.
// The seed descriptor is only used to validate importability; it is not
// consumed.
func (p *Provider) CreateWithLayout(desc *hbm.Description, extent hbm.Extent, layout *hbm.Layout, seedFd int) (hbm.Object, error) {
	if desc.Format != hbm.FormatInvalid && layout.Modifier != hbm.ModifierLinear {
		return nil, errors.Newf("cannot adopt layout with modifier %#x", uint64(layout.Modifier))
	}

	obj, err := p.CreateWithConstraint(desc, extent, nil)
	if err != nil {
		return nil, err
	}

	o := obj.(*object)
	if uint64(o.size) > layout.TotalSize {
		p.Destroy(o)
		return nil, errors.Newf("imported buffer of %d bytes is smaller than the %d the layout requires", layout.TotalSize, o.size)
	}
	o.layout = *layout

	return o, nil
}

func (p *Provider) Destroy(obj hbm.Object) {
	o := obj.(*object)

	if o.buffer != nil {
		o.buffer.Destroy(nil)
	}
	if o.image != nil {
		o.image.Destroy(nil)
	}
	if o.memory != nil {
		o.memory.Free(nil)
	}
}

func (p *Provider) Layout(obj hbm.Object) hbm.Layout {
	return obj.(*object).layout
}

// BindMemory allocates device memory of the given type and binds it. fd,
// when non-negative, is an ownership-transferred dma-buf imported into the
// allocation; Vulkan consumes it on success, so it is only closed here on
// failure.
func (p *Provider) BindMemory(obj hbm.Object, typeIndex int, fd int) error {
	o := obj.(*object)

	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  o.size,
		MemoryTypeIndex: typeIndex,
	}

	if fd >= 0 {
		importInfo := memoryfd.ImportMemoryFdInfo{
			HandleType: externalMemoryHandleTypeDmaBuf,
			Fd:         fd,
		}
		importInfo.Next = allocInfo.Next
		allocInfo.Next = importInfo
	}

	memory, _, err := p.device.AllocateMemory(nil, allocInfo)
	if err != nil {
		if fd >= 0 {
			closeFd(p.logger, fd)
		}
		return errors.Wrap(err, "allocating device memory")
	}

	if o.buffer != nil {
		_, err = o.buffer.BindBufferMemory(memory, 0)
	} else {
		_, err = o.image.BindImageMemory(memory, 0)
	}
	if err != nil {
		memory.Free(nil)
		return errors.Wrap(err, "binding device memory")
	}

	o.memory = memory
	return nil
}

func (p *Provider) Map(obj hbm.Object) (unsafe.Pointer, error) {
	o := obj.(*object)

	ptr, _, err := o.memory.Map(0, o.size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mapping device memory")
	}
	return ptr, nil
}

func (p *Provider) Unmap(obj hbm.Object) {
	obj.(*object).memory.Unmap()
}

func (p *Provider) Flush(obj hbm.Object) error {
	o := obj.(*object)

	_, err := o.memory.FlushAll()
	return err
}

func (p *Provider) Invalidate(obj hbm.Object) error {
	o := obj.(*object)

	_, err := o.memory.InvalidateAll()
	return err
}

// ExportDmaBuf exports the object's memory as an owned dma-buf descriptor.
func (p *Provider) ExportDmaBuf(obj hbm.Object) (int, error) {
	o := obj.(*object)

	fd, _, err := p.memoryFd.GetMemoryFd(p.device, memoryfd.MemoryGetFdInfo{
		Memory:     o.memory,
		HandleType: externalMemoryHandleTypeDmaBuf,
	})
	if err != nil {
		return -1, errors.Wrap(err, "exporting memory fd")
	}
	return fd, nil
}

func closeFd(logger *slog.Logger, fd int) {
	if err := closeRaw(fd); err != nil {
		logger.Error("error closing dma-buf descriptor", slog.Any("error", err))
	}
}
