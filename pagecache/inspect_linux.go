//go:build linux

package pagecache

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Inspector reads residency and, when permitted, page flags of files
type Inspector struct {
	rawFlags       bool
	pageSize       int64
	pagemapFile    *os.File
	kpageFlagsFile *os.File
	// CanReadPageFlags is cleared when page frame numbers read as 0,
	// which happens without CAP_SYS_ADMIN
	CanReadPageFlags bool
}

// NewInspector creates an inspector. Page flags are collected when both
// /proc/self/pagemap and /proc/kpageflags can be opened.
func NewInspector(rawFlags bool) *Inspector {
	s := &Inspector{rawFlags: rawFlags, pageSize: int64(os.Getpagesize())}

	var err error
	s.pagemapFile, err = os.Open("/proc/self/pagemap")
	if err != nil {
		slog.Info("Error opening /proc/self/pagemap, page flags won't be available", "err", err)
		return s
	}
	s.kpageFlagsFile, err = os.Open("/proc/kpageflags")
	if err != nil {
		s.pagemapFile.Close()
		s.pagemapFile = nil
		slog.Info("Error opening /proc/kpageflags, page flags won't be available", "err", err)
		return s
	}
	s.CanReadPageFlags = true
	return s
}

// Close releases the proc files
func (s *Inspector) Close() error {
	if s.pagemapFile != nil {
		s.pagemapFile.Close()
	}
	if s.kpageFlagsFile != nil {
		s.kpageFlagsFile.Close()
	}
	return nil
}

// PageSize returns the page size used to count pages
func (s *Inspector) PageSize() int64 {
	return s.pageSize
}

// Stat returns the page cache stats of the file at path
func (s *Inspector) Stat(path string) (PageStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return PageStats{}, fmt.Errorf("error opening file %s: %w", path, err)
	}
	defer f.Close()
	stats, err := s.StatFile(f)
	if err != nil {
		return stats, fmt.Errorf("getting page cache stats for %s failed: %w", path, err)
	}
	return stats, nil
}

// StatFile returns the page cache stats of an open file
func (s *Inspector) StatFile(f *os.File) (PageStats, error) {
	stats := PageStats{Flags: make(map[uint64]int)}
	fi, err := f.Stat()
	if err != nil {
		return stats, err
	}
	if fi.Size() == 0 {
		return stats, nil
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return stats, fmt.Errorf("mmap: %w", err)
	}
	mapped := true
	defer func() {
		if mapped {
			unix.Munmap(mem)
		}
	}()

	vec, err := s.mincore(mem)
	if err != nil {
		return stats, err
	}
	var last int
	stats.Pages = len(vec)
	stats.Cached, last = countResident(vec)
	if !s.CanReadPageFlags || stats.Cached == 0 {
		return stats, nil
	}

	if err = s.populatePTE(mem, vec); err != nil {
		return stats, err
	}
	entries, err := s.readPagemap(mem, len(vec))
	if err != nil {
		return stats, err
	}
	if entries[last]&pmPfnMask == 0 {
		slog.Info("Can't read Page Frame Numbers, CAP_SYS_ADMIN may be missing. Page Flags won't be displayed.")
		s.CanReadPageFlags = false
		return stats, nil
	}
	// Unmap before reading kpageflags so the mapping does not count as mmap
	unix.Munmap(mem)
	mapped = false

	stats.Flags, err = s.readKpageFlags(entries)
	return stats, err
}

func (s *Inspector) mincore(mem []byte) ([]byte, error) {
	// vec needs one byte per page, rounding up
	vec := make([]byte, (int64(len(mem))+s.pageSize-1)/s.pageSize)
	_, _, errno := unix.Syscall(unix.SYS_MINCORE, uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)), uintptr(unsafe.Pointer(&vec[0])))
	if errno != 0 {
		return nil, fmt.Errorf("syscall SYS_MINCORE failed: %w", errno)
	}
	return vec, nil
}

// populatePTE faults in the resident pages so pagemap reports their frames
func (s *Inspector) populatePTE(mem []byte, vec []byte) error {
	if err := unix.Madvise(mem, unix.MADV_RANDOM); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}
	var sum byte
	for i, v := range vec {
		if v&0x1 != 0 {
			sum += mem[int64(i)*s.pageSize]
		}
	}
	sink = sum
	if err := unix.Madvise(mem, unix.MADV_SEQUENTIAL); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}
	return nil
}

var sink byte

func (s *Inspector) readPagemap(mem []byte, numPages int) ([]uint64, error) {
	index := int64(uintptr(unsafe.Pointer(unsafe.SliceData(mem)))) / s.pageSize
	entries, err := readUint64s(s.pagemapFile, numPages, index)
	if err != nil {
		return nil, fmt.Errorf("error reading pagemap: %w", err)
	}
	return entries, nil
}

func (s *Inspector) readKpageFlags(entries []uint64) (map[uint64]int, error) {
	counts := make(map[uint64]int)
	for _, pme := range entries {
		pfn := pme & pmPfnMask
		if pme&pmPresent == 0 || pfn == 0 {
			continue
		}
		raw, err := readUint64s(s.kpageFlagsFile, 1, int64(pfn))
		if err != nil {
			return nil, fmt.Errorf("error reading kpageflags: %w", err)
		}
		var flags uint64
		if s.rawFlags {
			flags = expandOverloadedFlags(raw[0], pme)
		} else {
			flags = wellKnownFlags(raw[0])
		}
		counts[flags]++
	}
	return counts, nil
}

// readUint64s reads n native endian entries starting at entry index
func readUint64s(r io.ReaderAt, n int, index int64) ([]uint64, error) {
	buf := make([]byte, 8*n)
	read, err := r.ReadAt(buf, index*8)
	if read != len(buf) {
		return nil, fmt.Errorf("short read of %d/%d bytes: %w", read, len(buf), err)
	}
	res := make([]uint64, n)
	for i := range res {
		res[i] = binary.NativeEndian.Uint64(buf[i*8:])
	}
	return res, nil
}

// Residency returns the number of resident pages and the page count of f
func Residency(f *os.File) (cached int, pages int, err error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	if fi.Size() == 0 {
		return 0, 0, nil
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, 0, fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(mem)

	s := Inspector{pageSize: int64(os.Getpagesize())}
	vec, err := s.mincore(mem)
	if err != nil {
		return 0, 0, err
	}
	cached, _ = countResident(vec)
	return cached, len(vec), nil
}

// Drop asks the kernel to evict the clean pages of f
func Drop(f *os.File) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", f.Name(), err)
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED); err != nil {
		return fmt.Errorf("fadvise %s: %w", f.Name(), err)
	}
	return nil
}
