package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bonnefoa/pgcachectl/decompress"
	"github.com/spf13/cobra"
)

func newInsertCmd(s *session) *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "insert FILE SOURCE",
		Short: "Publish SOURCE as the cached content of FILE",
		Long: `Copy SOURCE into the page cache of FILE, starting at page index --offset.
Pages are created when absent and marked uptodate, the disk is never read.
SOURCE is decompressed when it ends with .gz or .xz.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.inject(cmd, args[0], args[1], offset, false)
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Page index of the first published page")
	return cmd
}

func newReplaceCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "replace FILE SOURCE",
		Short: "Overwrite the resident pages of FILE with SOURCE",
		Long: `Overwrite the cached pages of FILE from its first page with SOURCE. Every
page covered by SOURCE must already be resident.

The kernel module only registers the insert command and answers ENOTTY to
replace, which is served by --device local.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.inject(cmd, args[0], args[1], 0, true)
		},
	}
}

func (s *session) inject(cmd *cobra.Command, target, source string, startIndex uint64, replace bool) error {
	data, err := decompress.Load(source)
	if err != nil {
		return err
	}
	f, err := os.Open(target)
	if err != nil {
		return err
	}
	defer f.Close()

	conn, cache, err := s.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if replace {
		err = conn.Replace(f, data)
	} else {
		err = conn.Insert(f, data, startIndex)
	}
	if err != nil {
		return err
	}

	// The kernel device always works with the system page size
	pageSize := os.Getpagesize()
	if cache != nil {
		pageSize = cache.PageSize()
	}
	pages := (len(data) + pageSize - 1) / pageSize
	slog.Info("Published pages", "file", target, "source", source, "bytes", len(data),
		"pages", pages, "start_index", startIndex)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages published from index %d\n", target, pages, startIndex)
	if cache != nil {
		st := cache.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "local cache: %d pages, %d uptodate, %d dirty\n", st.Pages, st.Uptodate, st.Dirty)
	}
	return nil
}
