// Package client submits page cache transfers to the control channel, either
// the kernel device node or an in-process device.
package client

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"unsafe"

	"github.com/bonnefoa/pgcachectl/ioc"
	"github.com/bonnefoa/pgcachectl/request"
)

// DefaultDevice is the node created by the kernel module
const DefaultDevice = "/dev/pgcachectl"

// Ioctler runs a command with the address of a request structure
type Ioctler interface {
	Ioctl(cmd uint, arg uintptr) error
}

// Conn is a connection to a control channel
type Conn struct {
	dev    Ioctler
	closer io.Closer
}

// NewConn wraps an Ioctler, typically a *device.Device
func NewConn(dev Ioctler) *Conn {
	return &Conn{dev: dev}
}

// Close releases the device node if any
func (c *Conn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Insert publishes buf as the content of f's pages starting at startIndex
func (c *Conn) Insert(f *os.File, buf []byte, startIndex uint64) error {
	return c.submit(ioc.CmdInsert, f, buf, startIndex)
}

// Replace overwrites the resident pages of f from the start of the file
func (c *Conn) Replace(f *os.File, buf []byte) error {
	return c.submit(ioc.CmdReplace, f, buf, 0)
}

func (c *Conn) submit(cmd uint, f *os.File, buf []byte, startIndex uint64) error {
	var pinner runtime.Pinner
	defer pinner.Unpin()

	req := &request.Wire{Fd: int32(f.Fd()), Length: uint64(len(buf)), StartOffset: startIndex}
	pinner.Pin(req)
	if len(buf) > 0 {
		pinner.Pin(&buf[0])
		req.Source = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}

	slog.Debug("Submitting transfer", "command", ioc.Name(cmd), "file", f.Name(),
		"length", len(buf), "start_index", startIndex)
	err := c.dev.Ioctl(cmd, uintptr(unsafe.Pointer(req)))
	// f's descriptor must stay open until the command returns
	runtime.KeepAlive(f)
	if err != nil {
		return fmt.Errorf("%s %s: %w", ioc.Name(cmd), f.Name(), err)
	}
	return nil
}
