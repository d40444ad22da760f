package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/bonnefoa/pgcachectl/memory"
	"github.com/bonnefoa/pgcachectl/pagecache"
	"github.com/bonnefoa/pgcachectl/pcstats"
	"github.com/bonnefoa/pgcachectl/relation"
	"github.com/bonnefoa/pgcachectl/utils"
	"github.com/spf13/cobra"
)

type statOptions struct {
	relations  []string
	connectStr string
	pgData     string
	format     string
	unit       string
	flags      bool
	rawFlags   bool
	noHeader   bool
	threshold  int
}

// statEntry is one output line: a file, a relation or the total
type statEntry struct {
	pagecache.PageStats
	cachestat   pcstats.Summary
	table       string
	name        string
	kind        rune
	relfilenode uint32
}

var statHeader = []string{"Table", "Relation", "Kind", "Relfilenode",
	"PageCached", "PageCount", "%Cached", "%Total", "Dirty", "Writeback", "%Dirty"}

var flagHeader = []string{"Relation", "Count", "Flags", "Symbolic Flags", "Names"}

func newStatCmd(s *session) *cobra.Command {
	var opts statOptions
	cmd := &cobra.Command{
		Use:   "stat [FILE...]",
		Short: "Report page cache residency of files and relations",
		Long: `Report how many pages of each FILE are resident in the page cache. With
--relations, the segment files of the given PostgreSQL tables, their indexes and
toast relations are inspected too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.stat(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.relations, "relations", nil, "Tables to inspect, comma separated")
	f.StringVar(&opts.connectStr, "connect_str", "", "Connection string to PostgreSQL")
	f.StringVar(&opts.pgData, "pgdata", "", "Path to the PostgreSQL data directory")
	f.StringVar(&opts.format, "format", "table", "Output format: table, csv or json")
	f.StringVar(&opts.unit, "unit", "page", "Unit of page counts: page, kb, mb or gb")
	f.BoolVar(&opts.flags, "flags", false, "Report kernel page flags of resident pages")
	f.BoolVar(&opts.rawFlags, "raw_flags", false, "Report every page flag instead of the page cache ones")
	f.BoolVar(&opts.noHeader, "no_header", false, "Don't print the header line")
	f.IntVar(&opts.threshold, "threshold", 0, "Skip entries with fewer cached pages")
	return cmd
}

func (s *session) stat(cmd *cobra.Command, files []string, opts statOptions) error {
	format, err := ParseFormat(opts.format)
	if err != nil {
		return err
	}
	unit, err := utils.ParseUnit(opts.unit)
	if err != nil {
		return err
	}
	if len(files) == 0 && len(opts.relations) == 0 {
		return errors.New("nothing to inspect: pass files or --relations")
	}

	inspector := pagecache.NewInspector(opts.rawFlags)
	defer inspector.Close()
	if !opts.flags {
		inspector.CanReadPageFlags = false
	}

	var entries []statEntry
	for _, path := range files {
		e := statEntry{name: path, kind: 'F'}
		if err := e.collect(inspector, path); err != nil {
			return err
		}
		entries = append(entries, e)
	}

	if len(opts.relations) > 0 {
		relEntries, err := s.statRelations(cmd, inspector, opts)
		if err != nil {
			return err
		}
		entries = append(entries, relEntries...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Cached > entries[j].Cached
	})

	total := statEntry{name: "Total", kind: 'S'}
	var rows [][]string
	var flagRows [][]string
	pageSize := inspector.PageSize()
	cachedKB, err := memory.GetCachedMemory()
	if err != nil {
		slog.Warn("Couldn't get cached memory", "error", err)
	} else {
		slog.Info("Page cache usage", "cached", utils.FormatKBValue(cachedKB, unit, pageSize))
	}
	for _, e := range entries {
		total.PageStats.Add(e.PageStats)
		total.cachestat.Add(e.cachestat)
		if e.Cached < opts.threshold {
			continue
		}
		rows = append(rows, e.row(unit, pageSize, cachedKB))
		flagRows = append(flagRows, e.flagRows()...)
	}
	rows = append(rows, total.row(unit, pageSize, cachedKB))

	out := cmd.OutOrStdout()
	if err := writeRows(out, format, statHeader, rows, opts.noHeader); err != nil {
		return err
	}
	if opts.flags && len(flagRows) > 0 {
		fmt.Fprintln(out)
		return writeRows(out, format, flagHeader, flagRows, opts.noHeader)
	}
	return nil
}

func (s *session) statRelations(cmd *cobra.Command, inspector *pagecache.Inspector, opts statOptions) ([]statEntry, error) {
	connectStr := s.cfg.Postgres.ConnectStr
	if opts.connectStr != "" {
		connectStr = opts.connectStr
	}
	pgData := s.cfg.Postgres.PGData
	if opts.pgData != "" {
		pgData = opts.pgData
	}
	if pgData == "" {
		return nil, errors.New("--pgdata or PGDATA is needed to locate relation files")
	}

	ctx := cmd.Context()
	conn, err := connectPostgres(ctx, connectStr)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	relations, err := relation.ResolveSegments(ctx, conn, pgData, opts.relations)
	if err != nil {
		return nil, err
	}
	slog.Info("Found relations", "tables", opts.relations, "relations", len(relations))

	entries := make([]statEntry, 0, len(relations))
	for _, r := range relations {
		e := statEntry{table: r.Table, name: r.Name, kind: r.Kind, relfilenode: r.Relfilenode}
		for _, segment := range r.Segments {
			if err := e.collect(inspector, segment); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// collect adds the stats of the file at path
func (e *statEntry) collect(inspector *pagecache.Inspector, path string) error {
	stats, err := inspector.Stat(path)
	if err != nil {
		return err
	}
	e.PageStats.Add(stats)

	summary, err := pcstats.Path(path)
	switch {
	case errors.Is(err, pcstats.ErrUnsupported):
	case err != nil:
		return err
	default:
		e.cachestat.Add(summary)
	}
	return nil
}

func (e *statEntry) row(unit utils.Unit, pageSize int64, cachedKB int64) []string {
	relfilenode := ""
	if e.relfilenode != 0 {
		relfilenode = strconv.FormatUint(uint64(e.relfilenode), 10)
	}
	return []string{e.table, e.name, relation.KindName(e.kind), relfilenode,
		utils.FormatPageValue(e.Cached, unit, pageSize),
		utils.FormatPageValue(e.Pages, unit, pageSize),
		e.CachedPct(),
		e.TotalCachedPct(pageSize, cachedKB),
		utils.FormatPageValue(int(e.cachestat.Dirty), unit, pageSize),
		utils.FormatPageValue(int(e.cachestat.Writeback), unit, pageSize),
		e.cachestat.DirtyPct(),
	}
}

func (e *statEntry) flagRows() [][]string {
	rows := make([][]string, 0, len(e.Flags))
	for flags, count := range e.Flags {
		rows = append(rows, []string{e.name, strconv.Itoa(count), fmt.Sprintf("0x%016x", flags),
			pagecache.PageFlagShortName(flags), pagecache.PageFlagLongName(flags)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][2] < rows[j][2] })
	return rows
}
