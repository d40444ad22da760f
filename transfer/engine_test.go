package transfer_test

import (
	"bytes"
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bonnefoa/pgcachectl/fdtable"
	"github.com/bonnefoa/pgcachectl/memcache"
	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/bonnefoa/pgcachectl/transfer"
	"github.com/bonnefoa/pgcachectl/usermem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCache wraps a cache and checks that at most one page is held at a
// time
type recordingCache struct {
	transfer.Cache
	t *testing.T

	mu       sync.Mutex
	held     int
	acquired []uint64
}

type recordingPage struct {
	transfer.Page
	c *recordingCache
}

func (r *recordingCache) track(p transfer.Page, err error) (transfer.Page, error) {
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held++
	if r.held > 1 {
		r.t.Errorf("%d pages held at once", r.held)
	}
	r.acquired = append(r.acquired, p.Index())
	return &recordingPage{Page: p, c: r}, nil
}

func (r *recordingCache) AcquireOrCreate(id request.Identity, index uint64) (transfer.Page, error) {
	return r.track(r.Cache.AcquireOrCreate(id, index))
}

func (r *recordingCache) Lookup(id request.Identity, index uint64) (transfer.Page, error) {
	return r.track(r.Cache.Lookup(id, index))
}

func (p *recordingPage) Release() {
	p.c.mu.Lock()
	p.c.held--
	p.c.mu.Unlock()
	p.Page.Release()
}

type fakeMetrics struct {
	pages     []int
	transfers int
	lastErr   error
}

func (m *fakeMetrics) ObservePage(mode string, bytes int) {
	m.pages = append(m.pages, bytes)
}

func (m *fakeMetrics) ObserveTransfer(mode string, pages int, duration time.Duration, err error) {
	m.transfers++
	m.lastErr = err
}

type fixture struct {
	cache   *memcache.Cache
	rec     *recordingCache
	engine  *transfer.Engine
	metrics *fakeMetrics
	space   *usermem.Space
	table   *fdtable.Table
	file    *fdtable.Handle
}

const pageSize = 4096

func newFixture(t *testing.T) *fixture {
	cache := memcache.New(memcache.Config{PageSize: pageSize})
	rec := &recordingCache{Cache: cache, t: t}
	metrics := &fakeMetrics{}
	engine, err := transfer.New(rec, transfer.Config{PageSize: pageSize, Metrics: metrics})
	require.NoError(t, err)

	table := fdtable.NewTable()
	fd := table.Install("data", 0o644, fdtable.NewIdentity())
	file, err := table.Get(fd)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return &fixture{
		cache:   cache,
		rec:     rec,
		engine:  engine,
		metrics: metrics,
		space:   usermem.NewSpace(),
		table:   table,
		file:    file,
	}
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(buf)
	return buf
}

// pageContent returns the frame of a resident page
func (f *fixture) pageContent(t *testing.T, index uint64) []byte {
	t.Helper()
	page, err := f.cache.Lookup(f.file.Identity(), index)
	require.NoError(t, err)
	defer page.Release()
	content := append([]byte(nil), page.Map()...)
	page.Unmap()
	return content
}

func TestNew(t *testing.T) {
	cache := memcache.New(memcache.Config{})
	engine, err := transfer.New(cache, transfer.Config{})
	require.NoError(t, err)
	assert.Equal(t, os.Getpagesize(), engine.PageSize())

	_, err = transfer.New(cache, transfer.Config{PageSize: 3000})
	assert.Error(t, err)
	_, err = transfer.New(cache, transfer.Config{PageSize: -4096})
	assert.Error(t, err)
}

func TestTransferExactPages(t *testing.T) {
	f := newFixture(t)
	src := randomBytes(4 * pageSize)
	addr := f.space.Map(src)

	require.NoError(t, f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(0)))

	assert.Equal(t, []uint64{0, 1, 2, 3}, f.cache.Pages(f.file.Identity()))
	assert.Equal(t, []uint64{0, 1, 2, 3}, f.rec.acquired)
	for i := 0; i < 4; i++ {
		assert.Equal(t, src[i*pageSize:(i+1)*pageSize], f.pageContent(t, uint64(i)))
	}
	assert.Equal(t, []int{pageSize, pageSize, pageSize, pageSize}, f.metrics.pages)
	assert.Equal(t, 1, f.metrics.transfers)
	assert.NoError(t, f.metrics.lastErr)
	assert.Equal(t, 0, f.cache.Stats().Referenced)
}

func TestTransferPartialTail(t *testing.T) {
	f := newFixture(t)
	src := randomBytes(10000)
	addr := f.space.Map(src)

	require.NoError(t, f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(0)))

	assert.Equal(t, []int{4096, 4096, 1808}, f.metrics.pages)
	tail := f.pageContent(t, 2)
	assert.Equal(t, src[2*pageSize:], tail[:1808])
	// The whole page is valid even though only a prefix was written
	state, ok := f.cache.Resident(f.file.Identity(), 2)
	require.True(t, ok)
	assert.True(t, state.Uptodate)
	assert.False(t, state.Dirty)

	cached := f.cache.Open(f.file.Identity(), bytes.NewReader(nil), int64(len(src)))
	buf := make([]byte, len(src))
	_, err := cached.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, src, buf)
}

func TestTransferStartIndex(t *testing.T) {
	f := newFixture(t)
	src := randomBytes(2 * pageSize)
	addr := f.space.Map(src)

	require.NoError(t, f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(5)))

	assert.Equal(t, []uint64{5, 6}, f.cache.Pages(f.file.Identity()))
	// Source offsets are relative to the start index
	assert.Equal(t, src[:pageSize], f.pageContent(t, 5))
	assert.Equal(t, src[pageSize:], f.pageContent(t, 6))
}

func TestTransferZeroLength(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Transfer(f.file, f.space, 0, 0, transfer.Insert(0)))
	assert.Empty(t, f.rec.acquired)
}

func TestTransferIdempotent(t *testing.T) {
	f := newFixture(t)
	src := randomBytes(3*pageSize + 17)
	addr := f.space.Map(src)

	require.NoError(t, f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(0)))
	first := [][]byte{f.pageContent(t, 0), f.pageContent(t, 1), f.pageContent(t, 2), f.pageContent(t, 3)}

	require.NoError(t, f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(0)))
	for i := range first {
		assert.Equal(t, first[i], f.pageContent(t, uint64(i)))
	}
	assert.Equal(t, 4, f.cache.Stats().Pages)
}

func TestTransferNonRegular(t *testing.T) {
	modes := map[string]fs.FileMode{
		"Directory": fs.ModeDir | 0o755,
		"Pipe":      fs.ModeNamedPipe | 0o600,
		"Device":    fs.ModeDevice | fs.ModeCharDevice | 0o600,
		"Socket":    fs.ModeSocket | 0o600,
	}
	for name, mode := range modes {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			fd := f.table.Install(name, mode, fdtable.NewIdentity())
			file, err := f.table.Resolve(fd)
			require.NoError(t, err)
			defer file.Close()

			src := randomBytes(pageSize)
			addr := f.space.Map(src)
			err = f.engine.Transfer(file, f.space, addr, uint64(len(src)), transfer.Insert(0))
			assert.ErrorIs(t, err, status.ErrInvalidArgument)
			assert.Empty(t, f.rec.acquired)
			assert.Equal(t, 0, f.cache.Stats().Pages)
		})
	}
}

func TestTransferFaultOnFirstChunk(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Transfer(f.file, f.space, 0xdead0000, 3*pageSize, transfer.Insert(0))
	assert.ErrorIs(t, err, status.ErrFault)
	assert.Equal(t, 0, f.cache.Stats().Pages)
	assert.Equal(t, []uint64{0}, f.rec.acquired)
	assert.ErrorIs(t, f.metrics.lastErr, status.ErrFault)
}

func TestTransferPrefixCommit(t *testing.T) {
	for k := 0; k < 4; k++ {
		f := newFixture(t)
		src := randomBytes(4 * pageSize)
		addr := f.space.Map(src)
		require.NoError(t, f.space.Protect(addr+uintptr(k*pageSize), pageSize))

		// Page 3 holds older content that must survive when k < 3
		old := bytes.Repeat([]byte{0xaa}, pageSize)
		oldAddr := f.space.Map(old)
		require.NoError(t, f.engine.Transfer(f.file, f.space, oldAddr, pageSize, transfer.Insert(3)))

		err := f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), transfer.Insert(0))
		require.ErrorIs(t, err, status.ErrFault)

		for i := 0; i < k; i++ {
			assert.Equal(t, src[i*pageSize:(i+1)*pageSize], f.pageContent(t, uint64(i)), "chunk %d", i)
		}
		for i := k; i < 3; i++ {
			_, ok := f.cache.Resident(f.file.Identity(), uint64(i))
			assert.False(t, ok, "chunk %d should not be cached", i)
		}
		if k < 3 {
			assert.Equal(t, old, f.pageContent(t, 3))
		}
		assert.Equal(t, 0, f.cache.Stats().Referenced)
	}
}

func TestTransferFaultKeepsResidentPage(t *testing.T) {
	for name, opts := range map[string]transfer.Options{
		"Insert":  transfer.Insert(0),
		"Replace": transfer.Replace(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			old := bytes.Repeat([]byte{0xaa}, 4*pageSize)
			require.NoError(t, f.engine.Transfer(f.file, f.space, f.space.Map(old), uint64(len(old)), transfer.Insert(0)))

			// Second half of chunk 1 is unmapped
			src := bytes.Repeat([]byte{0x55}, 4*pageSize)
			addr := f.space.Map(src)
			require.NoError(t, f.space.Protect(addr+pageSize+pageSize/2, pageSize/2))

			err := f.engine.Transfer(f.file, f.space, addr, uint64(len(src)), opts)
			require.ErrorIs(t, err, status.ErrFault)

			assert.Equal(t, src[:pageSize], f.pageContent(t, 0))
			for i := uint64(1); i < 4; i++ {
				state, ok := f.cache.Resident(f.file.Identity(), i)
				require.True(t, ok, "page %d", i)
				assert.True(t, state.Uptodate)
				assert.Equal(t, old[:pageSize], f.pageContent(t, i), "page %d", i)
			}
			assert.Equal(t, 0, f.cache.Stats().Referenced)
		})
	}
}

func TestTransferOutOfMemory(t *testing.T) {
	cache := memcache.New(memcache.Config{PageSize: pageSize, MaxPages: 2})
	engine, err := transfer.New(cache, transfer.Config{PageSize: pageSize})
	require.NoError(t, err)

	table := fdtable.NewTable()
	file, err := table.Get(table.Install("data", 0o644, fdtable.NewIdentity()))
	require.NoError(t, err)
	defer file.Close()

	// Pin both frames so nothing is evictable
	other := fdtable.NewIdentity()
	for i := uint64(0); i < 2; i++ {
		page, err := cache.AcquireOrCreate(other, i)
		require.NoError(t, err)
		defer page.Release()
	}

	space := usermem.NewSpace()
	addr := space.Map(randomBytes(pageSize))
	err = engine.Transfer(file, space, addr, pageSize, transfer.Insert(0))
	assert.ErrorIs(t, err, status.ErrOutOfMemory)
}

func TestTransferReplace(t *testing.T) {
	f := newFixture(t)

	t.Run("NotResident", func(t *testing.T) {
		addr := f.space.Map(randomBytes(pageSize))
		err := f.engine.Transfer(f.file, f.space, addr, pageSize, transfer.Replace())
		assert.ErrorIs(t, err, status.ErrNotResident)
		assert.Equal(t, 0, f.cache.Stats().Pages)
	})

	t.Run("Overwrite", func(t *testing.T) {
		original := bytes.Repeat([]byte{1}, 2*pageSize)
		require.NoError(t, f.engine.Transfer(f.file, f.space, f.space.Map(original), uint64(len(original)), transfer.Insert(0)))

		replacement := bytes.Repeat([]byte{2}, pageSize+10)
		require.NoError(t, f.engine.Transfer(f.file, f.space, f.space.Map(replacement), uint64(len(replacement)), transfer.Replace()))

		assert.Equal(t, replacement[:pageSize], f.pageContent(t, 0))
		second := f.pageContent(t, 1)
		assert.Equal(t, replacement[pageSize:], second[:10])
		// Bytes past the copied prefix keep their previous content
		assert.Equal(t, original[pageSize+10:], second[10:])
	})

	t.Run("RunsPastFirstChunk", func(t *testing.T) {
		long := bytes.Repeat([]byte{3}, 3*pageSize)
		err := f.engine.Transfer(f.file, f.space, f.space.Map(long), uint64(len(long)), transfer.Replace())
		// Pages 0 and 1 are replaced, page 2 isn't resident
		assert.ErrorIs(t, err, status.ErrNotResident)
		assert.Equal(t, long[:pageSize], f.pageContent(t, 0))
		assert.Equal(t, long[pageSize:2*pageSize], f.pageContent(t, 1))
	})
}

func TestTransferOverflow(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Transfer(f.file, f.space, 0x10000, 2*pageSize, transfer.Insert(^uint64(0)))
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	err = f.engine.Transfer(f.file, f.space, ^uintptr(0)-10, pageSize, transfer.Insert(0))
	assert.ErrorIs(t, err, status.ErrFault)
	assert.Empty(t, f.rec.acquired)
}

func TestConcurrentOverlappingTransfers(t *testing.T) {
	f := newFixture(t)
	a := bytes.Repeat([]byte{'a'}, 8*pageSize)
	b := bytes.Repeat([]byte{'b'}, 8*pageSize)
	addrA, addrB := f.space.Map(a), f.space.Map(b)

	// The recording cache only checks a single caller, use the raw cache here
	engine, err := transfer.New(f.cache, transfer.Config{PageSize: pageSize})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, addr := range []uintptr{addrA, addrB} {
		wg.Add(1)
		go func(addr uintptr) {
			defer wg.Done()
			assert.NoError(t, engine.Transfer(f.file, f.space, addr, 8*pageSize, transfer.Insert(0)))
		}(addr)
	}
	wg.Wait()

	// Each page holds the full content of one of the transfers
	for i := uint64(0); i < 8; i++ {
		content := f.pageContent(t, i)
		assert.Contains(t, [][]byte{a[:pageSize], b[:pageSize]}, content)
	}
}
