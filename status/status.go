// Package status holds the error kinds surfaced by a page transfer and their
// mapping to the errno values returned at the control channel boundary.
package status

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound is returned when a file descriptor doesn't resolve to an open file
	ErrNotFound = errors.New("no such open file")
	// ErrInvalidArgument is returned for non-regular files and malformed requests
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFault is returned when caller memory can't be accessed
	ErrFault = errors.New("bad address")
	// ErrOutOfMemory is returned when no page frame can be obtained
	ErrOutOfMemory = errors.New("cannot allocate page")
	// ErrNoSuchOperation is returned for unregistered command codes
	ErrNoSuchOperation = errors.New("no such operation")
	// ErrNotResident is returned in replace mode when the target page isn't cached
	ErrNotResident = errors.New("page not resident")
)

var kinds = []struct {
	err   error
	errno unix.Errno
}{
	{ErrNotFound, unix.ENOENT},
	{ErrInvalidArgument, unix.EINVAL},
	{ErrFault, unix.EFAULT},
	{ErrOutOfMemory, unix.ENOMEM},
	{ErrNoSuchOperation, unix.ENOTTY},
	{ErrNotResident, unix.ENODATA},
}

// Errno returns the errno matching err's kind. Errors outside the taxonomy map
// to EIO, nil maps to 0.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.errno
		}
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Status returns the value handed back to the caller of the control channel:
// 0 on success, a negative errno otherwise
func Status(err error) int {
	return -int(Errno(err))
}

// FromErrno converts an errno received from the kernel device back to the
// matching sentinel. Unknown errno values are returned as is.
func FromErrno(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	for _, k := range kinds {
		if k.errno == errno {
			return k.err
		}
	}
	return errno
}
