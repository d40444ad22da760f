//go:build linux

package fdtable

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"golang.org/x/sys/unix"
)

// Host resolves descriptors of the current process
type Host struct{}

// HostFile is a duplicated descriptor of a process file
type HostFile struct {
	file *os.File
	id   request.Identity
	mode fs.FileMode
}

// Identity implements request.File
func (f *HostFile) Identity() request.Identity { return f.id }

// Mode implements request.File
func (f *HostFile) Mode() fs.FileMode { return f.mode }

// Name implements request.File
func (f *HostFile) Name() string { return f.file.Name() }

// File returns the duplicated descriptor
func (f *HostFile) File() *os.File { return f.file }

// Close implements request.File
func (f *HostFile) Close() error { return f.file.Close() }

// Resolve implements request.Resolver. The descriptor is duplicated so the
// reference survives the caller closing its own descriptor.
func (Host) Resolve(fd int32) (request.File, error) {
	return HostResolve(fd)
}

// HostResolve is Host.Resolve returning the concrete type
func HostResolve(fd int32) (*HostFile, error) {
	if fd < 0 {
		return nil, fmt.Errorf("fd %d: %w", fd, status.ErrNotFound)
	}
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EBADF) {
			return nil, fmt.Errorf("fd %d: %w", fd, status.ErrNotFound)
		}
		return nil, fmt.Errorf("duplicating fd %d: %w", fd, err)
	}
	file := os.NewFile(uintptr(dup), fmt.Sprintf("fd:%d", fd))

	var st unix.Stat_t
	if err = unix.Fstat(dup, &st); err != nil {
		file.Close()
		return nil, fmt.Errorf("fstat fd %d: %w", fd, err)
	}
	return &HostFile{
		file: file,
		id:   request.Identity{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		mode: modeFromStat(st.Mode),
	}, nil
}

func modeFromStat(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0o777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= fs.ModeDir
	case unix.S_IFIFO:
		mode |= fs.ModeNamedPipe
	case unix.S_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case unix.S_IFBLK:
		mode |= fs.ModeDevice
	case unix.S_IFLNK:
		mode |= fs.ModeSymlink
	case unix.S_IFSOCK:
		mode |= fs.ModeSocket
	}
	return mode
}
