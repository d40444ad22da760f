// Package fdtable resolves file descriptors to open files for the validator.
package fdtable

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"sync"

	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/google/uuid"
)

// simDev is the device number reported by simulated files
const simDev = 0xfffe

type openFile struct {
	name string
	mode fs.FileMode
	id   request.Identity

	mu   sync.Mutex
	refs int
}

// Handle is a reference to an entry of a Table
type Handle struct {
	f    *openFile
	once sync.Once
}

// Identity implements request.File
func (h *Handle) Identity() request.Identity { return h.f.id }

// Mode implements request.File
func (h *Handle) Mode() fs.FileMode { return h.f.mode }

// Name implements request.File
func (h *Handle) Name() string { return h.f.name }

// Close drops the reference. Calling it twice is a no-op.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.f.mu.Lock()
		h.f.refs--
		h.f.mu.Unlock()
	})
	return nil
}

// Refs returns the number of live references, including the descriptor's own
func (h *Handle) Refs() int {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return h.f.refs
}

// Table is an in-process descriptor table of simulated files
type Table struct {
	mu    sync.Mutex
	files map[int32]*openFile
	next  int32
}

// NewTable creates an empty table. Descriptors start at 3 like a process
// with its standard streams open.
func NewTable() *Table {
	return &Table{files: make(map[int32]*openFile), next: 3}
}

// NewIdentity synthesizes a unique identity for a simulated file
func NewIdentity() request.Identity {
	u := uuid.New()
	return request.Identity{
		Dev: simDev,
		Ino: binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:]),
	}
}

// Install opens a simulated file and returns its descriptor. Files installed
// with the same identity share cache pages.
func (t *Table) Install(name string, mode fs.FileMode, id request.Identity) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.files[fd] = &openFile{name: name, mode: mode, id: id, refs: 1}
	return fd
}

// Close removes the descriptor. Handles resolved earlier stay usable.
func (t *Table) Close(fd int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return fmt.Errorf("closing fd %d: %w", fd, status.ErrNotFound)
	}
	delete(t.files, fd)
	f.mu.Lock()
	f.refs--
	f.mu.Unlock()
	return nil
}

// Resolve implements request.Resolver
func (t *Table) Resolve(fd int32) (request.File, error) {
	h, err := t.Get(fd)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Get is Resolve returning the concrete handle
func (t *Table) Get(fd int32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, fmt.Errorf("fd %d: %w", fd, status.ErrNotFound)
	}
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return &Handle{f: f}, nil
}
