//go:build linux

package pcstats

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	pageSize := os.Getpagesize()
	path := filepath.Join(t.TempDir(), "16384")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 4*pageSize), 0o600))

	s, err := Path(path)
	if errors.Is(err, ErrUnsupported) {
		t.Skipf("cachestat unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.LessOrEqual(t, s.Cache, uint64(4))
	assert.LessOrEqual(t, s.Dirty, s.Cache)

	_, err = Path(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
