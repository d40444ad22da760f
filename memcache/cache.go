// Package memcache is an in-process page cache. Pages are keyed by file
// identity and page index, each with its own lock, and are evicted in LRU
// order when the frame budget is exhausted. Only clean, unreferenced pages are
// evictable.
package memcache

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/bonnefoa/pgcachectl/transfer"
)

type key struct {
	id    request.Identity
	index uint64
}

type page struct {
	key   key
	frame []byte
	lock  sync.Mutex

	uptodate atomic.Bool
	dirty    atomic.Bool

	// Protected by Cache.mu
	refs int
	elem *list.Element
}

// Config holds the cache parameters
type Config struct {
	// PageSize defaults to the os page size
	PageSize int
	// MaxPages bounds the number of frames, 0 means unbounded
	MaxPages int
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Pages       int
	Uptodate    int
	Dirty       int
	Referenced  int
	Allocations uint64
	Evictions   uint64
}

// PageState describes a resident page
type PageState struct {
	Uptodate bool
	Dirty    bool
	Refs     int
}

// Cache implements transfer.Cache
type Cache struct {
	pageSize int
	maxPages int

	mu    sync.Mutex
	pages map[key]*page
	lru   *list.List
	free  [][]byte

	allocations uint64
	evictions   uint64
}

var _ transfer.Cache = (*Cache)(nil)

// New creates an empty cache
func New(cfg Config) *Cache {
	if cfg.PageSize == 0 {
		cfg.PageSize = os.Getpagesize()
	}
	return &Cache{
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		pages:    make(map[key]*page),
		lru:      list.New(),
	}
}

// PageSize returns the size of a frame
func (c *Cache) PageSize() int {
	return c.pageSize
}

// AcquireOrCreate implements transfer.Cache
func (c *Cache) AcquireOrCreate(id request.Identity, index uint64) (transfer.Page, error) {
	p, err := c.get(key{id, index}, true)
	if err != nil {
		return nil, err
	}
	p.lock.Lock()
	return &lockedPage{cache: c, page: p}, nil
}

// Lookup implements transfer.Cache
func (c *Cache) Lookup(id request.Identity, index uint64) (transfer.Page, error) {
	p, err := c.get(key{id, index}, false)
	if err != nil {
		return nil, err
	}
	p.lock.Lock()
	lp := &lockedPage{cache: c, page: p}
	if !p.uptodate.Load() {
		// The page was being created and its filler gave up
		lp.Release()
		return nil, fmt.Errorf("page %d of %v: %w", index, id, status.ErrNotResident)
	}
	return lp, nil
}

// get returns a referenced, unlocked page
func (c *Cache) get(k key, create bool) (*page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[k]
	if ok {
		c.lru.MoveToBack(p.elem)
		p.refs++
		return p, nil
	}
	if !create {
		return nil, fmt.Errorf("page %d of %v: %w", k.index, k.id, status.ErrNotResident)
	}

	frame, err := c.allocFrame()
	if err != nil {
		return nil, fmt.Errorf("page %d of %v: %w", k.index, k.id, err)
	}
	p = &page{key: k, frame: frame, refs: 1}
	p.elem = c.lru.PushBack(p)
	c.pages[k] = p
	return p, nil
}

// allocFrame returns a zeroed frame, evicting if the budget is reached.
// c.mu must be held.
func (c *Cache) allocFrame() ([]byte, error) {
	if c.maxPages > 0 && len(c.pages) >= c.maxPages {
		if !c.evictOne() {
			return nil, status.ErrOutOfMemory
		}
	}
	c.allocations++
	if n := len(c.free); n > 0 {
		frame := c.free[n-1]
		c.free = c.free[:n-1]
		clear(frame)
		return frame, nil
	}
	return make([]byte, c.pageSize), nil
}

// evictOne drops the least recently used clean page. c.mu must be held.
func (c *Cache) evictOne() bool {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		p := e.Value.(*page)
		if p.refs > 0 || p.dirty.Load() {
			continue
		}
		c.remove(p)
		c.evictions++
		slog.Debug("Evicted page", "identity", p.key.id, "index", p.key.index)
		return true
	}
	return false
}

// remove unlinks p and recycles its frame. c.mu must be held.
func (c *Cache) remove(p *page) {
	delete(c.pages, p.key)
	c.lru.Remove(p.elem)
	c.free = append(c.free, p.frame)
	p.frame = nil
}

func (c *Cache) release(p *page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.refs--
	if p.refs == 0 && !p.uptodate.Load() {
		c.remove(p)
	}
}

// Resident returns the state of a cached page
func (c *Cache) Resident(id request.Identity, index uint64) (PageState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[key{id, index}]
	if !ok || !p.uptodate.Load() {
		return PageState{}, false
	}
	return PageState{Uptodate: true, Dirty: p.dirty.Load(), Refs: p.refs}, true
}

// Pages returns the sorted indexes of the valid pages of a file
func (c *Cache) Pages(id request.Identity) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []uint64
	for k, p := range c.pages {
		if k.id == id && p.uptodate.Load() {
			res = append(res, k.index)
		}
	}
	slices.Sort(res)
	return res
}

// Drop evicts all clean unreferenced pages of a file and returns how many
// were dropped
func (c *Cache) Drop(id request.Identity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, p := range c.pages {
		if k.id != id || p.refs > 0 || p.dirty.Load() {
			continue
		}
		c.remove(p)
		dropped++
	}
	return dropped
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Pages: len(c.pages), Allocations: c.allocations, Evictions: c.evictions}
	for _, p := range c.pages {
		if p.uptodate.Load() {
			s.Uptodate++
		}
		if p.dirty.Load() {
			s.Dirty++
		}
		if p.refs > 0 {
			s.Referenced++
		}
	}
	return s
}
