package pagecache

import (
	"math/bits"
	"strings"
)

// kpf is a bit position in /proc/kpageflags entries
type kpf uint

const (
	kpfLocked        kpf = 0
	kpfError         kpf = 1
	kpfReferenced    kpf = 2
	kpfUptodate      kpf = 3
	kpfDirty         kpf = 4
	kpfLru           kpf = 5
	kpfActive        kpf = 6
	kpfSlab          kpf = 7
	kpfWriteback     kpf = 8
	kpfReclaim       kpf = 9
	kpfBuddy         kpf = 10
	kpfMmap          kpf = 11
	kpfAnon          kpf = 12
	kpfSwapcache     kpf = 13
	kpfSwapbacked    kpf = 14
	kpfCompoundHead  kpf = 15
	kpfCompoundTail  kpf = 16
	kpfHuge          kpf = 17
	kpfUnevictable   kpf = 18
	kpfHwpoison      kpf = 19
	kpfNopage        kpf = 20
	kpfKsm           kpf = 21
	kpfThp           kpf = 22
	kpfOffline       kpf = 23
	kpfZeroPage      kpf = 24
	kpfIdle          kpf = 25
	kpfPgtable       kpf = 26
	kpfReserved      kpf = 32
	kpfMlocked       kpf = 33
	kpfOwner2        kpf = 34
	kpfPrivate       kpf = 35
	kpfPrivate2      kpf = 36
	kpfOwnerPrivate  kpf = 37
	kpfArch          kpf = 38
	kpfUncached      kpf = 39
	kpfSoftdirty     kpf = 40
	kpfArch2         kpf = 41
	kpfAnonExclusive kpf = 47
	kpfReadahead     kpf = 48
	kpfSlubFrozen    kpf = 50
	kpfSlubDebug     kpf = 51
	kpfFile          kpf = 61
	kpfSwap          kpf = 62
	kpfMmapExclusive kpf = 63
)

func (k kpf) mask() uint64 { return 1 << k }

// Pagemap entry bits
const (
	pmPfnMask       = (1 << 55) - 1
	pmSoftDirty     = 1 << 55
	pmMmapExclusive = 1 << 56
	pmFile          = 1 << 61
	pmSwap          = 1 << 62
	pmPresent       = 1 << 63
)

type flagName struct {
	short string
	long  string
}

var flagNames = map[kpf]flagName{
	kpfLocked:        {"L", "locked"},
	kpfError:         {"E", "error"},
	kpfReferenced:    {"R", "referenced"},
	kpfUptodate:      {"U", "uptodate"},
	kpfDirty:         {"D", "dirty"},
	kpfLru:           {"l", "lru"},
	kpfActive:        {"A", "active"},
	kpfSlab:          {"S", "slab"},
	kpfWriteback:     {"W", "writeback"},
	kpfReclaim:       {"I", "reclaim"},
	kpfBuddy:         {"B", "buddy"},
	kpfMmap:          {"M", "mmap"},
	kpfAnon:          {"a", "anonymous"},
	kpfSwapcache:     {"s", "swapcache"},
	kpfSwapbacked:    {"b", "swapbacked"},
	kpfCompoundHead:  {"H", "compound_head"},
	kpfCompoundTail:  {"T", "compound_tail"},
	kpfHuge:          {"G", "huge"},
	kpfUnevictable:   {"u", "unevictable"},
	kpfHwpoison:      {"X", "hwpoison"},
	kpfNopage:        {"n", "nopage"},
	kpfKsm:           {"x", "ksm"},
	kpfThp:           {"t", "thp"},
	kpfOffline:       {"o", "offline"},
	kpfZeroPage:      {"z", "zero_page"},
	kpfIdle:          {"i", "idle_page"},
	kpfPgtable:       {"g", "pgtable"},
	kpfReserved:      {"r", "reserved"},
	kpfMlocked:       {"m", "mlocked"},
	kpfOwner2:        {"d", "owner_2"},
	kpfPrivate:       {"P", "private"},
	kpfPrivate2:      {"p", "private_2"},
	kpfOwnerPrivate:  {"O", "owner_private"},
	kpfArch:          {"h", "arch"},
	kpfUncached:      {"c", "uncached"},
	kpfSoftdirty:     {"f", "softdirty"},
	kpfArch2:         {"H", "arch_2"},
	kpfAnonExclusive: {"d", "anon_exclusive"},
	kpfReadahead:     {"I", "readahead"},
	kpfSlubFrozen:    {"A", "slub_frozen"},
	kpfSlubDebug:     {"E", "slub_debug"},
	kpfFile:          {"F", "file"},
	kpfSwap:          {"w", "swap"},
	kpfMmapExclusive: {"1", "mmap_exclusive"},
}

// cacheFlags are the flags describing the state of a page cache page
var cacheFlags = kpfLocked.mask() | kpfError.mask() | kpfReferenced.mask() |
	kpfUptodate.mask() | kpfDirty.mask() | kpfLru.mask() | kpfActive.mask() |
	kpfWriteback.mask() | kpfReclaim.mask() | kpfMmap.mask() |
	kpfUnevictable.mask() | kpfMlocked.mask() | kpfHuge.mask() | kpfThp.mask()

// wellKnownFlags drops the flags that are irrelevant for file pages
func wellKnownFlags(flags uint64) uint64 {
	return flags & cacheFlags
}

// expandOverloadedFlags disambiguates flags sharing a bit and merges the
// pagemap entry bits
func expandOverloadedFlags(flags uint64, pme uint64) uint64 {
	// Anonymous pages use PG_owner_2 for anon_exclusive
	if flags&kpfAnon.mask() != 0 && flags&kpfOwner2.mask() != 0 {
		flags ^= kpfOwner2.mask() | kpfAnonExclusive.mask()
	}

	// SLUB overloads several page flags
	if flags&kpfSlab.mask() != 0 {
		if flags&kpfActive.mask() != 0 {
			flags ^= kpfActive.mask() | kpfSlubFrozen.mask()
		}
		if flags&kpfError.mask() != 0 {
			flags ^= kpfError.mask() | kpfSlubDebug.mask()
		}
	}

	// PG_reclaim is PG_readahead in the read path
	if flags&(kpfReclaim.mask()|kpfWriteback.mask()) == kpfReclaim.mask() {
		flags ^= kpfReclaim.mask() | kpfReadahead.mask()
	}

	for pm, k := range map[uint64]kpf{
		pmSoftDirty:     kpfSoftdirty,
		pmFile:          kpfFile,
		pmSwap:          kpfSwap,
		pmMmapExclusive: kpfMmapExclusive,
	} {
		if pme&pm != 0 {
			flags |= k.mask()
		}
	}
	return flags
}

// PageFlagShortName returns one character per known flag, '_' when unset
func PageFlagShortName(flags uint64) string {
	var b strings.Builder
	for _, k := range sortedFlags {
		if flags&k.mask() != 0 {
			b.WriteString(flagNames[k].short)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PageFlagLongName returns the names of the set flags separated by ','
func PageFlagLongName(flags uint64) string {
	names := make([]string, 0, bits.OnesCount64(flags))
	for _, k := range sortedFlags {
		if flags&k.mask() != 0 {
			names = append(names, flagNames[k].long)
		}
	}
	return strings.Join(names, ",")
}

var sortedFlags []kpf

func init() {
	for k := kpf(0); k < 64; k++ {
		if _, ok := flagNames[k]; ok {
			sortedFlags = append(sortedFlags, k)
		}
	}
}
