package memoryfd

/*
#include "vk_memory_fd.h"
*/
import "C"
import (
	"unsafe"

	"github.com/CannibalVox/cgoparam"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/driver"
)

type VkMemoryGetFdInfoKHR C.VkMemoryGetFdInfoKHR

// Driver is the raw command surface of VK_KHR_external_memory_fd.
type Driver interface {
	VkGetMemoryFdKHR(device driver.VkDevice, pGetFdInfo *VkMemoryGetFdInfoKHR, pFd *driver.Int32) (common.VkResult, error)
}

// CDriver resolves the extension commands from a device-scoped core driver.
type CDriver struct {
	coreDriver  driver.Driver
	getMemoryFd C.PFN_vkGetMemoryFdKHR
}

func CreateDriverFromCore(coreDriver driver.Driver) *CDriver {
	arena := cgoparam.GetAlloc()
	defer cgoparam.ReturnAlloc(arena)

	return &CDriver{
		coreDriver:  coreDriver,
		getMemoryFd: (C.PFN_vkGetMemoryFdKHR)(coreDriver.LoadProcAddr((*driver.Char)(arena.CString("vkGetMemoryFdKHR")))),
	}
}

func (d *CDriver) VkGetMemoryFdKHR(device driver.VkDevice, pGetFdInfo *VkMemoryGetFdInfoKHR, pFd *driver.Int32) (common.VkResult, error) {
	if d.getMemoryFd == nil {
		panic("attempt to call extension method vkGetMemoryFdKHR when extension not present")
	}

	res := common.VkResult(C.cgoGetMemoryFdKHR(d.getMemoryFd,
		C.VkDevice(unsafe.Pointer(device)),
		(*C.VkMemoryGetFdInfoKHR)(pGetFdInfo),
		(*C.int)(unsafe.Pointer(pFd))))

	return res, res.ToError()
}

var _ Driver = &CDriver{}
