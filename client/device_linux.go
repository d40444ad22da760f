//go:build linux

package client

import (
	"fmt"
	"os"

	"github.com/bonnefoa/pgcachectl/status"
	"golang.org/x/sys/unix"
)

// kernelDevice issues raw ioctls on the device node
type kernelDevice struct {
	*os.File
}

func (k kernelDevice) Ioctl(cmd uint, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, k.Fd(), uintptr(cmd), arg)
	if errno != 0 {
		return status.FromErrno(errno)
	}
	return nil
}

// Open connects to the kernel module's device node
func Open(path string) (*Conn, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", path, err)
	}
	dev := kernelDevice{f}
	return &Conn{dev: dev, closer: f}, nil
}
