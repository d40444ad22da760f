// Package request decodes and validates transfer requests before any cache
// page is touched.
package request

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/bonnefoa/pgcachectl/status"
)

// WireSize is the size of the request structure in caller memory
const WireSize = 32

// Wire is the fixed-size request structure read from caller memory.
//
// Layout (native endianness):
//
//	fd int32 | padding [4]byte | source uint64 | length uint64 | start offset uint64
type Wire struct {
	Fd          int32
	_           [4]byte
	Source      uint64
	Length      uint64
	StartOffset uint64
}

// TransferRequest is a decoded request
type TransferRequest struct {
	Fd         int32
	Source     uintptr
	Length     uint64
	StartIndex uint64
}

// Identity is the cache key of a file
type Identity struct {
	Dev uint64
	Ino uint64
}

func (i Identity) String() string {
	return fmt.Sprintf("%d:%d", i.Dev, i.Ino)
}

// File is a resolved open file. Close drops the reference taken on resolution.
type File interface {
	Identity() Identity
	Mode() fs.FileMode
	Name() string
	Close() error
}

// Resolver looks up open files by descriptor
type Resolver interface {
	Resolve(fd int32) (File, error)
}

// UserMemory gives read access to the caller's address space. CopyIn fails
// with status.ErrFault when any byte of [addr, addr+len(dst)) is inaccessible.
type UserMemory interface {
	CopyIn(dst []byte, addr uintptr) error
}

// MarshalBinary encodes the wire structure
func (w Wire) MarshalBinary() ([]byte, error) {
	buf := make([]byte, WireSize)
	binary.NativeEndian.PutUint32(buf[0:], uint32(w.Fd))
	binary.NativeEndian.PutUint64(buf[8:], w.Source)
	binary.NativeEndian.PutUint64(buf[16:], w.Length)
	binary.NativeEndian.PutUint64(buf[24:], w.StartOffset)
	return buf, nil
}

// UnmarshalWire decodes a wire structure
func UnmarshalWire(buf []byte) (w Wire, err error) {
	if len(buf) < WireSize {
		return w, fmt.Errorf("short request of %d bytes: %w", len(buf), status.ErrInvalidArgument)
	}
	w.Fd = int32(binary.NativeEndian.Uint32(buf[0:]))
	w.Source = binary.NativeEndian.Uint64(buf[8:])
	w.Length = binary.NativeEndian.Uint64(buf[16:])
	w.StartOffset = binary.NativeEndian.Uint64(buf[24:])
	return w, nil
}

// Decode copies the request structure out of caller memory
func Decode(mem UserMemory, addr uintptr) (TransferRequest, error) {
	buf := make([]byte, WireSize)
	if err := mem.CopyIn(buf, addr); err != nil {
		return TransferRequest{}, fmt.Errorf("copying request at 0x%x: %w", addr, err)
	}
	w, err := UnmarshalWire(buf)
	if err != nil {
		return TransferRequest{}, err
	}
	return TransferRequest{
		Fd:         w.Fd,
		Source:     uintptr(w.Source),
		Length:     w.Length,
		StartIndex: w.StartOffset,
	}, nil
}

// ResolveFile resolves a descriptor to an open file. The caller owns the
// returned reference.
func ResolveFile(r Resolver, fd int32) (File, error) {
	f, err := r.Resolve(fd)
	if err != nil {
		return nil, fmt.Errorf("resolving fd %d: %w", fd, err)
	}
	return f, nil
}

// CheckRegular only accepts regular files
func CheckRegular(f File) error {
	if !f.Mode().IsRegular() {
		return fmt.Errorf("%s has mode %v: %w", f.Name(), f.Mode().Type(), status.ErrInvalidArgument)
	}
	return nil
}

// Validate decodes the request at addr, resolves its descriptor and checks the
// file type. On success the caller must Close the returned file.
func Validate(mem UserMemory, r Resolver, addr uintptr) (TransferRequest, File, error) {
	req, err := Decode(mem, addr)
	if err != nil {
		return req, nil, err
	}
	f, err := ResolveFile(r, req.Fd)
	if err != nil {
		return req, nil, err
	}
	if err = CheckRegular(f); err != nil {
		slog.Debug("Rejecting non-regular file", "fd", req.Fd, "name", f.Name())
		f.Close()
		return req, nil, err
	}
	return req, f, nil
}
