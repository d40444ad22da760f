package client

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/bonnefoa/pgcachectl/ioc"
	"github.com/bonnefoa/pgcachectl/request"
	"github.com/bonnefoa/pgcachectl/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDevice copies the request structure it receives
type recordingDevice struct {
	cmd  uint
	req  request.Wire
	data []byte
	err  error
}

func (r *recordingDevice) Ioctl(cmd uint, arg uintptr) error {
	r.cmd = cmd
	r.req = *(*request.Wire)(unsafe.Pointer(arg))
	if r.req.Length > 0 {
		r.data = append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(uintptr(r.req.Source))), r.req.Length)...)
	}
	return r.err
}

func tempFile(t *testing.T) *os.File {
	f, err := os.Create(filepath.Join(t.TempDir(), "relation"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestInsertBuildsRequest(t *testing.T) {
	dev := &recordingDevice{}
	conn := NewConn(dev)
	f := tempFile(t)

	buf := []byte("some page content")
	require.NoError(t, conn.Insert(f, buf, 5))
	assert.Equal(t, ioc.CmdInsert, dev.cmd)
	assert.Equal(t, int32(f.Fd()), dev.req.Fd)
	assert.Equal(t, uint64(len(buf)), dev.req.Length)
	assert.Equal(t, uint64(5), dev.req.StartOffset)
	assert.Equal(t, buf, dev.data)
	assert.NoError(t, conn.Close())
}

func TestReplaceBuildsRequest(t *testing.T) {
	dev := &recordingDevice{}
	conn := NewConn(dev)
	f := tempFile(t)

	require.NoError(t, conn.Replace(f, []byte{1, 2, 3}))
	assert.Equal(t, ioc.CmdReplace, dev.cmd)
	assert.Equal(t, uint64(0), dev.req.StartOffset)
}

func TestEmptyBuffer(t *testing.T) {
	dev := &recordingDevice{}
	conn := NewConn(dev)

	require.NoError(t, conn.Insert(tempFile(t), nil, 0))
	assert.Equal(t, uint64(0), dev.req.Source)
	assert.Equal(t, uint64(0), dev.req.Length)
}

func TestErrorWrapping(t *testing.T) {
	dev := &recordingDevice{err: status.ErrFault}
	conn := NewConn(dev)

	err := conn.Insert(tempFile(t), []byte{1}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrFault))
	assert.Contains(t, err.Error(), "insert")
}

func unsafePointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
