// Package relation maps PostgreSQL relations to the segment files holding
// them in the data directory.
package relation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// Querier runs a query, *pgx.Conn and pools implement it
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Relation is a pg_class entry with storage: a table, an index, a toast
// table or a materialized view
type Relation struct {
	// Table is the owning table of indexes and toast relations
	Table       string
	Name        string
	Kind        rune
	Relfilenode uint32
	// Path is relative to the data directory
	Path string
	// Segments are the absolute paths of the 1GB segment files
	Segments []string
}

const relationQuery = `SELECT COALESCE(PPTI.relname, PT.relname, PI.relname, C.relname) AS t,
		C.relname, C.relkind, COALESCE(NULLIF(C.relfilenode, 0), C.oid), pg_relation_filepath(C.oid)
	FROM pg_class C
	LEFT JOIN pg_index ON pg_index.indexrelid = C.oid
	-- index to parent table
	LEFT JOIN pg_class PI ON pg_index.indrelid = PI.oid AND PI.relkind='r'
	-- toast to parent table
	LEFT JOIN pg_class PT ON C.oid = PT.reltoastrelid
	-- toast index to toast table
	LEFT JOIN pg_class PTI ON pg_index.indrelid = PTI.oid AND PTI.relkind='t'
	LEFT JOIN pg_class PPTI ON PPTI.reltoastrelid = PTI.oid
	WHERE ($1 OR COALESCE(PPTI.relname, PT.relname, PI.relname, C.relname)=ANY($2))
		AND C.relkind = ANY('{r,i,t,m}')
		AND pg_relation_filepath(C.oid) IS NOT NULL
	ORDER BY 1, 2`

// List returns the relations of the given tables with their indexes and
// toast relations. An empty list selects every relation of the database.
func List(ctx context.Context, q Querier, tables []string) ([]Relation, error) {
	rows, err := q.Query(ctx, relationQuery, len(tables) == 0, pq.Array(tables))
	if err != nil {
		return nil, fmt.Errorf("error getting list of relfilenode from pg_class: %w", err)
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.Table, &r.Name, &r.Kind, &r.Relfilenode, &r.Path); err != nil {
			return nil, fmt.Errorf("error scanning pg_class row: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading pg_class rows: %w", err)
	}
	return relations, nil
}

// Segments lists the existing segment files of path: path, path.1, path.2...
func Segments(path string) ([]string, error) {
	var segments []string
	for segno := 0; ; segno++ {
		segment := path
		if segno > 0 {
			segment = path + "." + strconv.Itoa(segno)
		}
		if _, err := os.Stat(segment); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Last segment was processed
				return segments, nil
			}
			return nil, err
		}
		segments = append(segments, segment)
	}
}

// ResolveSegments lists the relations of tables and the segment files
// holding them under pgData
func ResolveSegments(ctx context.Context, q Querier, pgData string, tables []string) ([]Relation, error) {
	relations, err := List(ctx, q, tables)
	if err != nil {
		return nil, err
	}
	for i := range relations {
		r := &relations[i]
		r.Segments, err = Segments(filepath.Join(pgData, r.Path))
		if err != nil {
			return nil, fmt.Errorf("listing segments of %s: %w", r.Name, err)
		}
	}
	slog.Debug("Resolved relations", "tables", tables, "relations", len(relations))
	return relations, nil
}

// KindName returns the readable name of a relkind
func KindName(kind rune) string {
	switch kind {
	case 'r':
		return "Relation"
	case 'i':
		return "Index"
	case 'm':
		return "Materialised View"
	case 't':
		return "TOAST"
	case 'p':
		return "Partitioned Table"
	case 'I':
		return "Partitioned Index"
	// Artificial kinds for aggregated lines
	case 'S':
		return "Total"
	case 'T':
		return "Table"
	case 'F':
		return "File"
	}
	return "Unknown"
}
