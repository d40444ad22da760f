package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageStatsAdd(t *testing.T) {
	flags := kpfUptodate.mask() | kpfLru.mask()
	var total PageStats
	total.Add(PageStats{Cached: 2, Pages: 4, Flags: map[uint64]int{flags: 2}})
	total.Add(PageStats{Cached: 1, Pages: 4})
	total.Add(PageStats{Cached: 1, Pages: 2, Flags: map[uint64]int{flags: 1, kpfDirty.mask(): 1}})

	assert.Equal(t, 4, total.Cached)
	assert.Equal(t, 10, total.Pages)
	assert.Equal(t, map[uint64]int{flags: 3, kpfDirty.mask(): 1}, total.Flags)
	assert.Equal(t, "40.00", total.CachedPct())
	// 4 pages of 4KB out of 64KB cached
	assert.Equal(t, "25.00", total.TotalCachedPct(4096, 64))
}

func TestPageStatsEmpty(t *testing.T) {
	var p PageStats
	assert.Equal(t, "0", p.CachedPct())
	assert.Equal(t, "0", p.TotalCachedPct(4096, 0))
	assert.Nil(t, p.Flags)
}

func TestCountResident(t *testing.T) {
	cached, last := countResident([]byte{1, 0, 0x81, 0x2, 0})
	assert.Equal(t, 2, cached)
	assert.Equal(t, 2, last)

	cached, last = countResident(nil)
	assert.Equal(t, 0, cached)
	assert.Equal(t, -1, last)
}

func TestPageFlagNames(t *testing.T) {
	flags := kpfUptodate.mask() | kpfLru.mask() | kpfMmapExclusive.mask()
	assert.Equal(t, "uptodate,lru,mmap_exclusive", PageFlagLongName(flags))

	short := PageFlagShortName(flags)
	assert.Len(t, short, len(flagNames))
	assert.Equal(t, "___U_l", short[:6])
	assert.Equal(t, byte('1'), short[len(short)-1])

	assert.Equal(t, "", PageFlagLongName(0))
}

func TestWellKnownFlags(t *testing.T) {
	flags := kpfUptodate.mask() | kpfDirty.mask() | kpfPrivate.mask() | kpfFile.mask()
	assert.Equal(t, kpfUptodate.mask()|kpfDirty.mask(), wellKnownFlags(flags))
}

func TestExpandOverloadedFlags(t *testing.T) {
	// Reclaim without writeback is readahead
	assert.Equal(t, kpfReadahead.mask(), expandOverloadedFlags(kpfReclaim.mask(), 0))
	assert.Equal(t, kpfReclaim.mask()|kpfWriteback.mask(),
		expandOverloadedFlags(kpfReclaim.mask()|kpfWriteback.mask(), 0))

	anon := kpfAnon.mask() | kpfOwner2.mask()
	assert.Equal(t, kpfAnon.mask()|kpfAnonExclusive.mask(), expandOverloadedFlags(anon, 0))

	assert.Equal(t, kpfUptodate.mask()|kpfFile.mask()|kpfSoftdirty.mask(),
		expandOverloadedFlags(kpfUptodate.mask(), pmFile|pmSoftDirty|pmPresent))
}
