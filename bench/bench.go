// Package bench measures read latency of a file through a private mapping,
// with the page cache warm, dropped, or dropped then populated by injection.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Mode selects the page cache state before each measured read
type Mode int

const (
	// Warm reads with whatever the cache holds
	Warm Mode = iota
	// Cold drops the file's pages first
	Cold
	// Populate drops the pages then injects the source through the device
	Populate
)

func (m Mode) String() string {
	switch m {
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	case Populate:
		return "populate"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ErrNoInjector is returned for Populate runs without an Injector
var ErrNoInjector = errors.New("populate mode needs an injector")

// Injector publishes buf as the content of f's pages, *client.Conn
// implements it
type Injector interface {
	Insert(f *os.File, buf []byte, startIndex uint64) error
}

// Harness runs measurements against a target file
type Harness struct {
	// Path of the target file
	Path string
	// Source is the expected content of the target, injected in Populate mode
	Source     []byte
	Iterations int
	Injector   Injector
	PageSize   int
}

// Result aggregates the iterations of one mode
type Result struct {
	Mode       Mode
	Iterations int
	Average    time.Duration
	Min        time.Duration
	Max        time.Duration
	// Cached and Pages are the target's residency after the last iteration
	Cached int
	Pages  int
}

func (r *Result) add(d time.Duration) {
	if r.Iterations == 0 || d < r.Min {
		r.Min = d
	}
	if d > r.Max {
		r.Max = d
	}
	r.Average += d
	r.Iterations++
}

// Run does a warm up pass then measures Cold, Warm and, with an injector,
// Populate
func (h *Harness) Run(ctx context.Context) ([]Result, error) {
	if _, err := h.Measure(ctx, Warm); err != nil {
		return nil, fmt.Errorf("warm up: %w", err)
	}

	modes := []Mode{Cold, Warm}
	if h.Injector != nil {
		modes = append(modes, Populate)
	}
	results := make([]Result, 0, len(modes))
	for _, mode := range modes {
		res, err := h.Measure(ctx, mode)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Measure reads the target Iterations times in mode
func (h *Harness) Measure(ctx context.Context, mode Mode) (Result, error) {
	res := Result{Mode: mode}
	if mode == Populate && h.Injector == nil {
		return res, ErrNoInjector
	}
	pageSize := h.PageSize
	if pageSize == 0 {
		pageSize = os.Getpagesize()
	}

	for i := 0; i < h.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := h.measureOnce(mode, pageSize)
		if err != nil {
			return res, fmt.Errorf("%s iteration %d: %w", mode, i, err)
		}
		res.add(d)
	}
	if res.Iterations > 0 {
		res.Average /= time.Duration(res.Iterations)
	}

	var err error
	res.Cached, res.Pages, err = residency(h.Path)
	if err != nil {
		return res, err
	}
	slog.Debug("Measured reads", "mode", mode, "iterations", res.Iterations, "average", res.Average,
		"cached", res.Cached, "pages", res.Pages)
	return res, nil
}
