package memcache

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/bonnefoa/pgcachectl/request"
)

// File reads and writes a backing file through the cache
type File struct {
	cache   *Cache
	id      request.Identity
	backing io.ReaderAt
	size    int64
}

// Open returns a cached view of backing. Reads are bounded by size.
func (c *Cache) Open(id request.Identity, backing io.ReaderAt, size int64) *File {
	return &File{cache: c, id: id, backing: backing, size: size}
}

// Size returns the file size
func (f *File) Size() int64 {
	return f.size
}

// fill loads a page from the backing file unless it's already valid
func (f *File) fill(lp *lockedPage) error {
	if lp.uptodate() {
		return nil
	}
	frame := lp.Map()
	defer lp.Unmap()
	off := int64(lp.Index()) * int64(f.cache.pageSize)
	n, err := f.backing.ReadAt(frame, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading backing page %d: %w", lp.Index(), err)
	}
	clear(frame[n:])
	lp.page.uptodate.Store(true)
	return nil
}

// ReadAt implements io.ReaderAt. Valid pages are served from the cache,
// missing ones are read from the backing file and cached.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	pageSize := int64(f.cache.pageSize)
	for len(p) > 0 {
		if off >= f.size {
			return n, io.EOF
		}
		index := uint64(off / pageSize)
		pageOff := off % pageSize
		chunk := min(int64(len(p)), pageSize-pageOff, f.size-off)

		if err = f.readPage(index, p[:chunk], pageOff); err != nil {
			return n, err
		}
		n += int(chunk)
		p = p[chunk:]
		off += chunk
	}
	return n, nil
}

func (f *File) readPage(index uint64, dst []byte, pageOff int64) error {
	page, err := f.cache.AcquireOrCreate(f.id, index)
	if err != nil {
		return err
	}
	lp := page.(*lockedPage)
	defer lp.Release()

	if err = f.fill(lp); err != nil {
		return err
	}
	copy(dst, lp.Map()[pageOff:])
	lp.Unmap()
	return nil
}

// WriteAt writes into the cache and marks the touched pages dirty. Partial
// pages are filled from the backing file first.
func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	pageSize := int64(f.cache.pageSize)
	for len(p) > 0 {
		index := uint64(off / pageSize)
		pageOff := off % pageSize
		chunk := min(int64(len(p)), pageSize-pageOff)

		if err = f.writePage(index, p[:chunk], pageOff); err != nil {
			return n, err
		}
		n += int(chunk)
		p = p[chunk:]
		off += chunk
	}
	f.size = max(f.size, off)
	return n, nil
}

func (f *File) writePage(index uint64, src []byte, pageOff int64) error {
	page, err := f.cache.AcquireOrCreate(f.id, index)
	if err != nil {
		return err
	}
	lp := page.(*lockedPage)
	defer lp.Release()

	if len(src) < f.cache.pageSize {
		if err = f.fill(lp); err != nil {
			return err
		}
	}
	copy(lp.Map()[pageOff:], src)
	lp.Unmap()
	lp.page.uptodate.Store(true)
	lp.setDirty()
	return nil
}

// Sync writes dirty pages back to w and marks them clean
func (f *File) Sync(w io.WriterAt) error {
	c := f.cache
	c.mu.Lock()
	var dirty []uint64
	for k, p := range c.pages {
		if k.id == f.id && p.dirty.Load() {
			dirty = append(dirty, k.index)
		}
	}
	c.mu.Unlock()
	slices.Sort(dirty)

	pageSize := int64(c.pageSize)
	for _, index := range dirty {
		page, err := c.Lookup(f.id, index)
		if err != nil {
			// Dirty pages aren't evictable, only a concurrent Sync cleans them
			continue
		}
		lp := page.(*lockedPage)
		off := int64(index) * pageSize
		length := min(pageSize, f.size-off)
		if length > 0 {
			if _, err = w.WriteAt(lp.Map()[:length], off); err != nil {
				lp.Unmap()
				lp.Release()
				return fmt.Errorf("writing back page %d: %w", index, err)
			}
			lp.Unmap()
		}
		lp.page.dirty.Store(false)
		lp.Release()
	}
	return nil
}
