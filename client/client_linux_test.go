//go:build linux

package client

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bonnefoa/pgcachectl/device"
	"github.com/bonnefoa/pgcachectl/fdtable"
	"github.com/bonnefoa/pgcachectl/memcache"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/bonnefoa/pgcachectl/transfer"
	"github.com/bonnefoa/pgcachectl/usermem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

func newLocalConn(t *testing.T) (*Conn, *memcache.Cache) {
	probe := []byte{1}
	err := usermem.NewSelf().CopyIn(make([]byte, 1), uintptr(unsafePointer(probe)))
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
		t.Skipf("process_vm_readv unavailable: %v", err)
	}
	require.NoError(t, err)

	cache := memcache.New(memcache.Config{PageSize: pageSize})
	engine, err := transfer.New(cache, transfer.Config{PageSize: pageSize})
	require.NoError(t, err)
	return NewConn(device.New(engine, usermem.NewSelf(), fdtable.Host{})), cache
}

func TestLocalInsert(t *testing.T) {
	conn, cache := newLocalConn(t)
	f := tempFile(t)
	src := bytes.Repeat([]byte("0123456789abcdef"), 640)

	require.NoError(t, conn.Insert(f, src, 2))

	hf, err := fdtable.HostResolve(int32(f.Fd()))
	require.NoError(t, err)
	defer hf.Close()
	id := hf.Identity()
	assert.Equal(t, []uint64{2, 3, 4}, cache.Pages(id))

	mf := cache.Open(id, bytes.NewReader(nil), int64(5*pageSize))
	buf := make([]byte, len(src))
	_, err = mf.ReadAt(buf, 2*pageSize)
	require.NoError(t, err)
	assert.Equal(t, src, buf)
}

func TestLocalRejectsDirectory(t *testing.T) {
	conn, cache := newLocalConn(t)
	dir, err := os.Open(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	err = conn.Insert(dir, []byte{1, 2, 3}, 0)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
	assert.Equal(t, 0, cache.Stats().Pages)
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
