package vulkan

import "golang.org/x/sys/unix"

func closeRaw(fd int) error {
	return unix.Close(fd)
}
