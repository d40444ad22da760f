// Package transfer copies caller buffers into page cache entries and publishes
// them as valid without reading the backing storage.
package transfer

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"time"

	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
)

// Cache hands out locked cache pages. It is owned by the host; the engine only
// borrows pages one at a time.
type Cache interface {
	// AcquireOrCreate returns the page at index, allocating it if absent. It
	// may block and fails with status.ErrOutOfMemory when no frame is available.
	AcquireOrCreate(id request.Identity, index uint64) (Page, error)
	// Lookup returns the page at index only if it is already resident,
	// status.ErrNotResident otherwise.
	Lookup(id request.Identity, index uint64) (Page, error)
}

// Page is a locked, referenced cache page
type Page interface {
	Index() uint64
	// Map returns the page frame. Writes to it are only allowed until Unmap.
	Map() []byte
	Unmap()
	// SetUptodate marks the content valid and clean
	SetUptodate()
	// Release unlocks the page and drops the reference
	Release()
}

// Options selects where a transfer starts and whether pages must already be
// cached
type Options struct {
	StartIndex      uint64
	RequireExisting bool
}

// Insert starts at index and creates missing pages
func Insert(index uint64) Options {
	return Options{StartIndex: index}
}

// Replace overwrites resident pages from the start of the file
func Replace() Options {
	return Options{StartIndex: 0, RequireExisting: true}
}

func (o Options) mode() string {
	if o.RequireExisting {
		return "replace"
	}
	return "insert"
}

// Config holds the engine parameters
type Config struct {
	// PageSize of the cache, defaults to the os page size
	PageSize int
	// Metrics is optional
	Metrics Metrics
}

// Engine runs page transfers against a Cache
type Engine struct {
	cache    Cache
	pageSize uint64
	metrics  Metrics
}

// New creates an engine. The page size must be a power of two.
func New(cache Cache, cfg Config) (*Engine, error) {
	if cfg.PageSize == 0 {
		cfg.PageSize = os.Getpagesize()
	}
	if cfg.PageSize < 0 || bits.OnesCount(uint(cfg.PageSize)) != 1 {
		return nil, fmt.Errorf("page size %d is not a power of two", cfg.PageSize)
	}
	return &Engine{cache: cache, pageSize: uint64(cfg.PageSize), metrics: cfg.Metrics}, nil
}

// PageSize returns the engine's page size
func (e *Engine) PageSize() int {
	return int(e.pageSize)
}

// Transfer copies length bytes at source into the pages of f starting at
// opts.StartIndex. Chunks are published in index order and the first failure
// is returned as is: pages published before it stay in the cache.
func (e *Engine) Transfer(f request.File, src request.UserMemory, source uintptr, length uint64, opts Options) (err error) {
	if err = request.CheckRegular(f); err != nil {
		return err
	}

	numPages := length / e.pageSize
	if length%e.pageSize != 0 {
		numPages++
	}
	if _, carry := bits.Add64(opts.StartIndex, numPages, 0); carry != 0 {
		return fmt.Errorf("%d pages from index %d overflow the file: %w", numPages, opts.StartIndex, status.ErrInvalidArgument)
	}
	if uint64(source)+length < uint64(source) {
		return fmt.Errorf("source 0x%x+%d wraps: %w", source, length, status.ErrFault)
	}

	id := f.Identity()
	start := time.Now()
	published := 0
	defer func() {
		ObserveTransfer(e.metrics, opts.mode(), published, time.Since(start), err)
	}()

	// A chunk only reaches the frame once it was read in full
	scratch := make([]byte, e.pageSize)
	remaining := length
	index := opts.StartIndex
	for remaining > 0 {
		chunk := min(remaining, e.pageSize)
		addr := source + uintptr((index-opts.StartIndex)*e.pageSize)
		if err = e.transferPage(id, index, src, addr, scratch[:chunk], opts); err != nil {
			slog.Debug("Transfer stopped", "file", f.Name(), "index", index, "published", published, "error", err)
			return err
		}
		published++
		ObservePage(e.metrics, opts.mode(), int(chunk))
		remaining -= chunk
		index++
	}

	slog.Debug("Transfer done", "file", f.Name(), "identity", id, "mode", opts.mode(),
		"start_index", opts.StartIndex, "length", length, "pages", published)
	return nil
}

// transferPage publishes a single page. The page is released on every path
// and its frame is left untouched when the copy from src fails.
func (e *Engine) transferPage(id request.Identity, index uint64, src request.UserMemory, addr uintptr, buf []byte, opts Options) error {
	var page Page
	var err error
	if opts.RequireExisting {
		page, err = e.cache.Lookup(id, index)
	} else {
		page, err = e.cache.AcquireOrCreate(id, index)
	}
	if err != nil {
		return fmt.Errorf("acquiring page %d of %v: %w", index, id, err)
	}
	defer page.Release()

	if err = src.CopyIn(buf, addr); err != nil {
		return fmt.Errorf("copying page %d: %w", index, err)
	}
	copy(page.Map(), buf)
	page.Unmap()

	page.SetUptodate()
	return nil
}
