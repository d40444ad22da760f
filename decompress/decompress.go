// Package decompress loads source payloads, transparently decompressing
// gzip and xz files.
package decompress

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Format of a payload, derived from its extension
type Format int

const (
	Raw Format = iota
	Gzip
	Xz
)

func (f Format) String() string {
	switch f {
	case Gzip:
		return "gzip"
	case Xz:
		return "xz"
	}
	return "raw"
}

// Detect returns the format matching path's extension
func Detect(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return Gzip
	case ".xz":
		return Xz
	}
	return Raw
}

// NewReader wraps r with the decompressor for format. The returned closer
// must be called once reading is done.
func NewReader(r io.Reader, format Format) (io.Reader, io.Closer, error) {
	switch format {
	case Gzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gzr, gzr, nil
	case Xz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}
		return xzr, io.NopCloser(nil), nil
	}
	return r, io.NopCloser(nil), nil
}

// Load reads the whole payload at path
func Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	r, closer, err := NewReader(f, Detect(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer closer.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
