// Package vulkan implements hbm.Provider on top of the vkngwrapper Vulkan
// bindings. Opaque descriptions become VkBuffers, pixel descriptions become
// VkImages, and dma-buf descriptors move through khr_external_memory_fd.
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
	"github.com/vkngwrapper/hbm"
	"github.com/vkngwrapper/hbm/internal/vulkan/memoryfd"
	"golang.org/x/exp/slog"
)

// VK_EXTERNAL_MEMORY_HANDLE_TYPE_DMA_BUF_BIT_EXT, from
// VK_EXT_external_memory_dma_buf.
const externalMemoryHandleTypeDmaBuf khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags = 0x00000200

// Provider adapts a Vulkan device to the engine's buffer-object contract.
//
// The device must have been created with khr_external_memory,
// khr_external_memory_fd, and ext_external_memory_dma_buf active, and the
// given queue family must support transfer operations.
type Provider struct {
	logger         *slog.Logger
	device         core1_0.Device
	physicalDevice core1_0.PhysicalDevice
	memoryFd       memoryfd.Extension

	queue         core1_0.Queue
	commandPool   core1_0.CommandPool
	commandBuffer core1_0.CommandBuffer
}

// New wraps a device. The transfer queue and a resettable command buffer
// for staged copies are set up once and reused for the provider's lifetime.
func New(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, queueFamilyIndex int) (*Provider, error) {
	if !device.IsDeviceExtensionActive(memoryfd.ExtensionName) {
		return nil, errors.Newf("device extension %s is required", memoryfd.ExtensionName)
	}

	p := &Provider{
		logger:         logger,
		device:         device,
		physicalDevice: physicalDevice,
		memoryFd:       memoryfd.CreateExtensionFromDevice(device),

		queue: device.GetQueue(queueFamilyIndex, 0),
	}

	commandPool, _, err := device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating transfer command pool")
	}
	p.commandPool = commandPool

	commandBuffers, _, err := device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		commandPool.Destroy(nil)
		return nil, errors.Wrap(err, "allocating transfer command buffer")
	}
	p.commandBuffer = commandBuffers[0]

	return p, nil
}

// Close releases the provider's transfer machinery. Objects created
// through the provider must already be destroyed.
func (p *Provider) Close() {
	p.commandPool.Destroy(nil)
}

func memoryTypeFlags(propertyFlags core1_0.MemoryPropertyFlags) hbm.MemoryTypeFlags {
	var flags hbm.MemoryTypeFlags
	if propertyFlags&core1_0.MemoryPropertyDeviceLocal != 0 {
		flags |= hbm.MemoryTypeLocal
	}
	if propertyFlags&core1_0.MemoryPropertyHostVisible != 0 {
		flags |= hbm.MemoryTypeMappable
	}
	if propertyFlags&core1_0.MemoryPropertyHostCoherent != 0 {
		flags |= hbm.MemoryTypeCoherent
	}
	if propertyFlags&core1_0.MemoryPropertyHostCached != 0 {
		flags |= hbm.MemoryTypeCached
	}
	if propertyFlags&core1_1.MemoryPropertyProtected != 0 {
		flags |= hbm.MemoryTypeProtected
	}
	return flags
}

// MemoryTypes reports the device memory types the object can be bound to,
// in device order, translated to engine flags.
func (p *Provider) MemoryTypes(obj hbm.Object) []hbm.MemoryType {
	o := obj.(*object)
	memoryProperties := p.physicalDevice.MemoryProperties()

	var types []hbm.MemoryType
	for i, memoryType := range memoryProperties.MemoryTypes {
		if o.memoryTypeBits&(1<<uint(i)) == 0 {
			continue
		}

		types = append(types, hbm.MemoryType{
			Index: i,
			Flags: memoryTypeFlags(memoryType.PropertyFlags),
		})
	}

	return types
}

// Modifiers reports the layout modifiers supported for a description. This
// provider does not negotiate explicit modifiers; images are laid out with
// linear or optimal tiling, so linear is the only modifier software can
// address.
func (p *Provider) Modifiers(desc *hbm.Description) []hbm.Modifier {
	return []hbm.Modifier{hbm.ModifierLinear}
}

// HasModifier reports whether the description can be realized with the
// given modifier.
func (p *Provider) HasModifier(desc *hbm.Description, modifier hbm.Modifier) bool {
	if modifier != hbm.ModifierLinear {
		return false
	}
	if desc.Format == hbm.FormatInvalid {
		return true
	}

	// Linear tiling cannot express multi-plane or compressed layouts here.
	_, err := imageFormat(desc.Format)
	return err == nil
}
