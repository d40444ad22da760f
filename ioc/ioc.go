// Package ioc encodes and checks the command codes accepted by the control
// channel. Codes use the generic linux _IOC layout: 8 bits of ordinal, 8 bits
// of type (the magic), 14 bits of argument size and 2 bits of direction.
package ioc

import (
	"fmt"

	"github.com/bonnefoa/pgcachectl/status"
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	nrMask   = 1<<nrBits - 1
	typeMask = 1<<typeBits - 1
	sizeMask = 1<<sizeBits - 1
	dirMask  = 1<<dirBits - 1
)

// Direction bits
const (
	DirNone  = 0
	DirWrite = 1
	DirRead  = 2
)

const (
	// Magic identifies the pgcachectl command namespace
	Magic = 0xF1
	// MaxNR is the highest registered ordinal
	MaxNR = 2
)

var (
	// CmdInsert publishes pages starting at the request's page offset
	CmdInsert = IO(Magic, 1)
	// CmdReplace overwrites resident pages starting at index 0. The kernel
	// module doesn't register it, only the in-process device serves it.
	CmdReplace = IO(Magic, 2)
)

// Encode builds a command code
func Encode(dir, typ, nr, size uint) uint {
	return (dir&dirMask)<<dirShift | (typ&typeMask)<<typeShift | (nr&nrMask)<<nrShift | (size&sizeMask)<<sizeShift
}

// IO builds a command code without argument size, like the _IO macro
func IO(typ, nr uint) uint {
	return Encode(DirNone, typ, nr, 0)
}

// Type extracts the magic of a command code
func Type(cmd uint) uint {
	return (cmd >> typeShift) & typeMask
}

// NR extracts the ordinal of a command code
func NR(cmd uint) uint {
	return (cmd >> nrShift) & nrMask
}

// Size extracts the argument size of a command code
func Size(cmd uint) uint {
	return (cmd >> sizeShift) & sizeMask
}

// Dir extracts the direction of a command code
func Dir(cmd uint) uint {
	return (cmd >> dirShift) & dirMask
}

// Check rejects codes outside the registered range before any dispatch
func Check(cmd uint) error {
	if Type(cmd) != Magic {
		return fmt.Errorf("command 0x%x has type 0x%x: %w", cmd, Type(cmd), status.ErrNoSuchOperation)
	}
	if nr := NR(cmd); nr == 0 || nr > MaxNR {
		return fmt.Errorf("command 0x%x has ordinal %d: %w", cmd, nr, status.ErrNoSuchOperation)
	}
	return nil
}

// Name returns a printable name for known commands
func Name(cmd uint) string {
	switch cmd {
	case CmdInsert:
		return "insert"
	case CmdReplace:
		return "replace"
	}
	return fmt.Sprintf("0x%x", cmd)
}
