// Package usermem provides the caller address spaces the validator and the
// transfer engine copy from.
package usermem

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/bonnefoa/pgcachectl/status"
)

// base of the first region handed out by Map. Keeps address 0 unmapped.
const spaceBase = 0x10000

type region struct {
	addr uintptr
	data []byte
}

func (r region) end() uintptr {
	return r.addr + uintptr(len(r.data))
}

// Space is a simulated address space made of non-overlapping regions.
// Regions are separated by at least one unmapped page.
type Space struct {
	mu       sync.RWMutex
	regions  []region
	next     uintptr
	pageSize uintptr
}

// NewSpace creates an empty address space
func NewSpace() *Space {
	pageSize := uintptr(os.Getpagesize())
	return &Space{next: spaceBase, pageSize: pageSize}
}

func (s *Space) alignUp(v uintptr) uintptr {
	return (v + s.pageSize - 1) &^ (s.pageSize - 1)
}

// Map copies data into a new region and returns its address
func (s *Space) Map(data []byte) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.next
	s.insert(region{addr: addr, data: append([]byte(nil), data...)})
	// Leave a guard page after each region
	s.next = s.alignUp(addr+uintptr(len(data))) + s.pageSize
	return addr
}

// MapAt maps data at a fixed address
func (s *Space) MapAt(addr uintptr, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := region{addr: addr, data: append([]byte(nil), data...)}
	for _, o := range s.regions {
		if r.addr < o.end() && o.addr < r.end() {
			return fmt.Errorf("region 0x%x-0x%x overlaps 0x%x-0x%x", r.addr, r.end(), o.addr, o.end())
		}
	}
	s.insert(r)
	if end := s.alignUp(r.end()) + s.pageSize; end > s.next {
		s.next = end
	}
	return nil
}

func (s *Space) insert(r region) {
	s.regions = append(s.regions, r)
	sort.Slice(s.regions, func(i, j int) bool {
		return s.regions[i].addr < s.regions[j].addr
	})
}

// Unmap removes the region starting at addr
func (s *Space) Unmap(addr uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.regions {
		if r.addr == addr {
			s.regions = append(s.regions[:i], s.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no region at 0x%x", addr)
}

// Protect unmaps [addr, addr+length) inside an existing region, splitting it
func (s *Space) Protect(addr uintptr, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := addr + uintptr(length)
	for i, r := range s.regions {
		if addr < r.addr || end > r.end() {
			continue
		}
		var split []region
		if addr > r.addr {
			split = append(split, region{addr: r.addr, data: r.data[:addr-r.addr]})
		}
		if end < r.end() {
			split = append(split, region{addr: end, data: r.data[end-r.addr:]})
		}
		s.regions = append(s.regions[:i], append(split, s.regions[i+1:]...)...)
		return nil
	}
	return fmt.Errorf("range 0x%x-0x%x is not inside a single region", addr, end)
}

// CopyIn copies len(dst) bytes at addr. Bytes up to the first unmapped address
// are copied before the fault is reported.
func (s *Space) CopyIn(dst []byte, addr uintptr) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if addr+uintptr(len(dst)) < addr {
		return fmt.Errorf("range at 0x%x wraps: %w", addr, status.ErrFault)
	}

	cur := addr
	for len(dst) > 0 {
		r, ok := s.find(cur)
		if !ok {
			return fmt.Errorf("address 0x%x is not mapped: %w", cur, status.ErrFault)
		}
		n := copy(dst, r.data[cur-r.addr:])
		dst = dst[n:]
		cur += uintptr(n)
	}
	return nil
}

func (s *Space) find(addr uintptr) (region, bool) {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].end() > addr
	})
	if i < len(s.regions) && s.regions[i].addr <= addr {
		return s.regions[i], true
	}
	return region{}, false
}
