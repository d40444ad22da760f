//go:build linux

package pcstats

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File returns the summary of length bytes of f from off. A zero length
// covers the range up to the end of the file.
func File(f *os.File, off, length uint64) (Summary, error) {
	crange := unix.CachestatRange{Off: off, Len: length}
	var cs unix.Cachestat_t
	if err := unix.Cachestat(uint(f.Fd()), &crange, &cs, 0); err != nil {
		// Seccomp filters unaware of the syscall answer EPERM
		if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) {
			return Summary{}, fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return Summary{}, fmt.Errorf("cachestat %s: %w", f.Name(), err)
	}
	return Summary{
		Cache:           cs.Cache,
		Dirty:           cs.Dirty,
		Writeback:       cs.Writeback,
		Evicted:         cs.Evicted,
		RecentlyEvicted: cs.Recently_evicted,
	}, nil
}

// Path returns the summary of the whole file at path
func Path(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("error opening file %s: %w", path, err)
	}
	defer f.Close()
	return File(f, 0, 0)
}
