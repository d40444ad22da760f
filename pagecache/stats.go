// Package pagecache inspects the kernel page cache residency of files with
// mincore, and optionally the kernel flags of their resident pages.
package pagecache

import (
	"strconv"
)

// PageStats is the residency of a file or an aggregate of files
type PageStats struct {
	Cached int
	Pages  int

	// Flags counts resident pages per flag combination when page flags
	// are readable
	Flags map[uint64]int
}

// Add accumulates b into p
func (p *PageStats) Add(b PageStats) {
	p.Pages += b.Pages
	p.Cached += b.Cached

	if len(b.Flags) == 0 {
		return
	}
	if p.Flags == nil {
		p.Flags = make(map[uint64]int, len(b.Flags))
	}
	for flags, count := range b.Flags {
		p.Flags[flags] += count
	}
}

// CachedPct returns the percent of resident pages
func (p *PageStats) CachedPct() string {
	if p.Cached > 0 && p.Pages > 0 {
		value := 100 * float64(p.Cached) / float64(p.Pages)
		return strconv.FormatFloat(value, 'f', 2, 64)
	}
	return "0"
}

// TotalCachedPct returns the share of the system page cache used by p.
// totalCached is in KB.
func (p *PageStats) TotalCachedPct(pageSize int64, totalCached int64) string {
	if p.Cached > 0 && totalCached > 0 {
		value := 100 * (float64(p.Cached) * float64(pageSize) / 1024) / float64(totalCached)
		return strconv.FormatFloat(value, 'f', 2, 64)
	}
	return "0"
}

// countResident counts mincore entries with the residency bit set
func countResident(vec []byte) (cached int, last int) {
	last = -1
	for i, v := range vec {
		if v&0x1 != 0 {
			cached++
			last = i
		}
	}
	return cached, last
}
