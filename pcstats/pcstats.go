// Package pcstats summarizes the page cache state of file ranges with
// cachestat(2), available since Linux 6.5.
package pcstats

import (
	"errors"
	"strconv"
)

// ErrUnsupported is returned when cachestat cannot be called
var ErrUnsupported = errors.New("cachestat unsupported")

// Summary counts pages of a file range by state
type Summary struct {
	Cache           uint64
	Dirty           uint64
	Writeback       uint64
	Evicted         uint64
	RecentlyEvicted uint64
}

// Add accumulates b into s
func (s *Summary) Add(b Summary) {
	s.Cache += b.Cache
	s.Dirty += b.Dirty
	s.Writeback += b.Writeback
	s.Evicted += b.Evicted
	s.RecentlyEvicted += b.RecentlyEvicted
}

// DirtyPct returns the share of cached pages that are dirty
func (s *Summary) DirtyPct() string {
	if s.Cache == 0 || s.Dirty == 0 {
		return "0"
	}
	return strconv.FormatFloat(100*float64(s.Dirty)/float64(s.Cache), 'f', 2, 64)
}
