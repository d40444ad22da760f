package memcache

type lockedPage struct {
	cache    *Cache
	page     *page
	mapped   bool
	released bool
}

func (l *lockedPage) Index() uint64 {
	return l.page.key.index
}

func (l *lockedPage) Map() []byte {
	if l.released {
		panic("memcache: mapping a released page")
	}
	l.mapped = true
	return l.page.frame
}

func (l *lockedPage) Unmap() {
	l.mapped = false
}

// SetUptodate publishes the page. Injected content is clean: it can be
// evicted without writeback.
func (l *lockedPage) SetUptodate() {
	l.page.dirty.Store(false)
	l.page.uptodate.Store(true)
}

func (l *lockedPage) setDirty() {
	l.page.dirty.Store(true)
}

func (l *lockedPage) uptodate() bool {
	return l.page.uptodate.Load()
}

// Release unlocks the page, then drops the reference. A page that never
// became valid is discarded.
func (l *lockedPage) Release() {
	if l.released {
		return
	}
	l.released = true
	l.mapped = false
	l.page.lock.Unlock()
	l.cache.release(l.page)
}
