// Package memoryfd binds the VK_KHR_external_memory_fd device commands and
// chainable structs directly over the core driver, in the shape of the
// vkngwrapper extension wrappers.
package memoryfd

/*
#include "vk_memory_fd.h"
*/
import "C"
import (
	"unsafe"

	"github.com/CannibalVox/cgoparam"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
)

// ExtensionName is "VK_KHR_external_memory_fd"
//
// https://registry.khronos.org/vulkan/specs/1.3-extensions/man/html/VK_KHR_external_memory_fd.html
const ExtensionName string = "VK_KHR_external_memory_fd"

// ImportMemoryFdInfo imports memory from a POSIX file descriptor when chained
// onto core1_0.MemoryAllocateInfo. A successful import transfers ownership of
// the descriptor to the Vulkan implementation.
//
// https://registry.khronos.org/vulkan/specs/1.3-extensions/man/html/VkImportMemoryFdInfoKHR.html
type ImportMemoryFdInfo struct {
	// HandleType specifies the handle type of Fd
	HandleType khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags
	// Fd is the external handle to import
	Fd int

	common.NextOptions
}

func (o ImportMemoryFdInfo) PopulateCPointer(allocator *cgoparam.Allocator, preallocatedPointer unsafe.Pointer, next unsafe.Pointer) (unsafe.Pointer, error) {
	if preallocatedPointer == nil {
		preallocatedPointer = allocator.Malloc(int(unsafe.Sizeof(C.VkImportMemoryFdInfoKHR{})))
	}

	info := (*C.VkImportMemoryFdInfoKHR)(preallocatedPointer)
	info.sType = C.VK_STRUCTURE_TYPE_IMPORT_MEMORY_FD_INFO_KHR
	info.pNext = next
	info.handleType = C.int32_t(o.HandleType)
	info.fd = C.int(o.Fd)

	return preallocatedPointer, nil
}

// MemoryGetFdInfo parameterizes a GetMemoryFd export.
//
// https://registry.khronos.org/vulkan/specs/1.3-extensions/man/html/VkMemoryGetFdInfoKHR.html
type MemoryGetFdInfo struct {
	// Memory is the memory object the descriptor will be exported from
	Memory core1_0.DeviceMemory
	// HandleType specifies the handle type to export
	HandleType khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags

	common.NextOptions
}

func (o MemoryGetFdInfo) PopulateCPointer(allocator *cgoparam.Allocator, preallocatedPointer unsafe.Pointer, next unsafe.Pointer) (unsafe.Pointer, error) {
	if preallocatedPointer == nil {
		preallocatedPointer = allocator.Malloc(int(unsafe.Sizeof(C.VkMemoryGetFdInfoKHR{})))
	}

	info := (*C.VkMemoryGetFdInfoKHR)(preallocatedPointer)
	info.sType = C.VK_STRUCTURE_TYPE_MEMORY_GET_FD_INFO_KHR
	info.pNext = next
	info.memory = C.VkDeviceMemory(o.Memory.Handle())
	info.handleType = C.int32_t(o.HandleType)

	return preallocatedPointer, nil
}

// Extension contains all commands for the VK_KHR_external_memory_fd extension.
type Extension interface {
	// GetMemoryFd exports a POSIX file descriptor for the given memory
	// object. The caller owns the returned descriptor.
	GetMemoryFd(device core1_0.Device, o MemoryGetFdInfo) (int, common.VkResult, error)
}

// VulkanExtension is an implementation of the Extension interface that
// communicates with Vulkan.
type VulkanExtension struct {
	driver Driver
}

// CreateExtensionFromDevice produces an Extension object from a Device with
// khr_external_memory_fd loaded
func CreateExtensionFromDevice(device core1_0.Device) *VulkanExtension {
	if !device.IsDeviceExtensionActive(ExtensionName) {
		return nil
	}
	return CreateExtensionFromDriver(CreateDriverFromCore(device.Driver()))
}

// CreateExtensionFromDriver generates an Extension from a Driver object- this
// is usually used in tests to build an Extension from mock drivers
func CreateExtensionFromDriver(driver Driver) *VulkanExtension {
	return &VulkanExtension{
		driver: driver,
	}
}

func (e *VulkanExtension) GetMemoryFd(device core1_0.Device, o MemoryGetFdInfo) (int, common.VkResult, error) {
	if device == nil {
		panic("device cannot be nil")
	}
	arena := cgoparam.GetAlloc()
	defer cgoparam.ReturnAlloc(arena)

	infoPtr, err := common.AllocOptions(arena, o)
	if err != nil {
		return -1, core1_0.VKErrorUnknown, err
	}

	var fd driver.Int32
	res, err := e.driver.VkGetMemoryFdKHR(device.Handle(), (*VkMemoryGetFdInfoKHR)(infoPtr), &fd)
	if err != nil {
		return -1, res, err
	}

	return int(fd), res, nil
}

var _ Extension = &VulkanExtension{}
