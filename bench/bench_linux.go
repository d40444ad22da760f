//go:build linux

package bench

import (
	"fmt"
	"os"
	"time"

	"github.com/bonnefoa/pgcachectl/pagecache"
	"golang.org/x/sys/unix"
)

var sink byte

// touch reads one byte per page
//
//go:noinline
func touch(data []byte, pageSize int) byte {
	var sum byte
	for i := 0; i < len(data); i += pageSize {
		sum += data[i]
	}
	return sum
}

func (h *Harness) measureOnce(mode Mode, pageSize int) (time.Duration, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	if size == 0 {
		return 0, fmt.Errorf("%s is empty", h.Path)
	}

	if mode == Cold || mode == Populate {
		if err := pagecache.Drop(f); err != nil {
			return 0, err
		}
	}
	if mode == Populate {
		src := h.Source
		if int64(len(src)) > size {
			src = src[:size]
		}
		if err := h.Injector.Insert(f, src, 0); err != nil {
			return 0, fmt.Errorf("error adding pages to the page cache: %w", err)
		}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(mem)

	start := time.Now()
	sink = touch(mem, pageSize)
	return time.Since(start), nil
}

func residency(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	return pagecache.Residency(f)
}
