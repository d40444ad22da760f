// Package device implements the control channel: it checks command codes,
// validates the request found at the argument address and runs the transfer.
package device

import (
	"fmt"
	"log/slog"

	"github.com/bonnefoa/pgcachectl/ioc"
	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/bonnefoa/pgcachectl/transfer"
)

// Device dispatches commands to a transfer engine
type Device struct {
	engine   *transfer.Engine
	mem      request.UserMemory
	resolver request.Resolver
}

// New creates a device. mem is the caller's address space and resolver its
// descriptor table.
func New(engine *transfer.Engine, mem request.UserMemory, resolver request.Resolver) *Device {
	return &Device{engine: engine, mem: mem, resolver: resolver}
}

// Ioctl runs the command cmd with the request structure at arg
func (d *Device) Ioctl(cmd uint, arg uintptr) error {
	if err := ioc.Check(cmd); err != nil {
		return err
	}

	var opts transfer.Options
	switch cmd {
	case ioc.CmdInsert:
	case ioc.CmdReplace:
		opts = transfer.Replace()
	default:
		return fmt.Errorf("command 0x%x: %w", cmd, status.ErrNoSuchOperation)
	}

	req, f, err := request.Validate(d.mem, d.resolver, arg)
	if err != nil {
		return err
	}
	defer f.Close()

	if cmd == ioc.CmdInsert {
		opts = transfer.Insert(req.StartIndex)
	}
	slog.Debug("Dispatching transfer", "command", ioc.Name(cmd), "fd", req.Fd, "file", f.Name(),
		"length", req.Length, "start_index", opts.StartIndex)
	return d.engine.Transfer(f, d.mem, req.Source, req.Length, opts)
}

// Status runs Ioctl and returns the boundary status: 0 or a negative errno
func (d *Device) Status(cmd uint, arg uintptr) int {
	return status.Status(d.Ioctl(cmd, arg))
}
