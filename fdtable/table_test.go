package fdtable

import (
	"testing"

	"github.com/bonnefoa/pgcachectl/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableResolve(t *testing.T) {
	table := NewTable()
	id := NewIdentity()
	fd := table.Install("data", 0o644, id)

	f, err := table.Resolve(fd)
	require.NoError(t, err)
	assert.Equal(t, id, f.Identity())
	assert.True(t, f.Mode().IsRegular())
	assert.Equal(t, "data", f.Name())
	require.NoError(t, f.Close())

	_, err = table.Resolve(fd + 1)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestTableReferences(t *testing.T) {
	table := NewTable()
	fd := table.Install("data", 0o644, NewIdentity())

	h, err := table.Get(fd)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Refs())

	// Closing the descriptor leaves the resolved handle alive
	require.NoError(t, table.Close(fd))
	assert.Equal(t, 1, h.Refs())
	assert.Equal(t, "data", h.Name())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Refs())

	_, err = table.Get(fd)
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.ErrorIs(t, table.Close(fd), status.ErrNotFound)
}

func TestNewIdentity(t *testing.T) {
	a, b := NewIdentity(), NewIdentity()
	assert.NotEqual(t, a, b)
	assert.Equal(t, uint64(simDev), a.Dev)
}
