package app

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Format is the output format of tabular results
type Format int

const (
	FormatTable Format = iota
	FormatCSV
	FormatJSON
)

var formatMap = map[string]Format{
	"table": FormatTable,
	"csv":   FormatCSV,
	"json":  FormatJSON,
}

// ParseFormat parses table, csv or json
func ParseFormat(s string) (Format, error) {
	f, ok := formatMap[strings.ToLower(s)]
	if !ok {
		return f, fmt.Errorf("unknown format: %v", s)
	}
	return f, nil
}

// writeRows outputs rows in format. JSON rows are objects keyed by header.
func writeRows(w io.Writer, format Format, header []string, rows [][]string, noHeader bool) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if !noHeader {
			cw.Write(header)
		}
		cw.WriteAll(rows)
		return cw.Error()
	case FormatJSON:
		objects := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			o := make(map[string]string, len(header))
			for i, k := range header {
				o[k] = row[i]
			}
			objects = append(objects, o)
		}
		return json.NewEncoder(w).Encode(objects)
	}

	table := tablewriter.NewWriter(w)
	if !noHeader {
		table.SetHeader(header)
	}
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
	return nil
}
