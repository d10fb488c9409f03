// Package render turns report rows into csv, json, markdown or terminal tables.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sawpanic/peakscan/internal/report"
	"github.com/sawpanic/peakscan/internal/series"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
	FormatTable    Format = "table"
)

// Formats lists every supported format.
var Formats = []Format{FormatCSV, FormatJSON, FormatMarkdown, FormatTable}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return "", fmt.Errorf("%w: invalid format %q (valid: %s)", series.ErrInvalidArgument, s, strings.Join(names, ", "))
}

// Grid is a rendered header plus string cells. Empty strings are missing values.
type Grid struct {
	Header []string
	Rows   [][]string
}

// TopKGrid flattens top-K rows into the fixed-width column layout.
func TopKGrid(rows []report.TopKRow, k int) Grid {
	g := Grid{Header: report.TopKColumns(k)}
	for _, row := range rows {
		cells := []string{row.Date.String(), number(row.TotalViews)}
		for i := 0; i < k; i++ {
			var slot *report.Contributor
			if i < len(row.Slots) {
				slot = row.Slots[i]
			}
			if slot == nil {
				cells = append(cells, "", "", "")
				continue
			}
			cells = append(cells, slot.Title, number(slot.Views), strconv.FormatFloat(slot.Percent, 'f', 1, 64))
		}
		g.Rows = append(g.Rows, cells)
	}
	return g
}

// MatrixGrid flattens matrix rows; non-peak contribution cells stay empty.
func MatrixGrid(entities []series.EntityID, rows []report.MatrixRow) Grid {
	g := Grid{Header: report.MatrixColumns(entities)}
	for _, row := range rows {
		cells := []string{row.Date.String(), number(row.TotalViews)}
		for _, c := range row.Cells {
			if c.Percent == nil {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, strconv.FormatFloat(*c.Percent, 'f', 2, 64))
		}
		g.Rows = append(g.Rows, cells)
	}
	return g
}

// AnnotationGrid lists one line per peak, e.g. "A5 62%, A1 4%, A2 4%".
func AnnotationGrid(anns []report.Annotation) Grid {
	g := Grid{Header: []string{report.ColumnDate, report.ColumnTotalViews, "Top Contributors"}}
	for _, a := range anns {
		parts := make([]string, len(a.Items))
		for i, item := range a.Items {
			parts[i] = fmt.Sprintf("%s %.0f%%", item.Title, item.Percent)
		}
		g.Rows = append(g.Rows, []string{a.Date.String(), number(a.TotalViews), strings.Join(parts, ", ")})
	}
	return g
}

// Write renders g in format f. JSON output encodes v instead of the grid so
// that missing values stay null.
func Write(w io.Writer, f Format, g Grid, v any) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, g)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatMarkdown:
		return writeMarkdown(w, g)
	case FormatTable:
		return writeTable(w, g)
	default:
		return fmt.Errorf("%w: unsupported format %q", series.ErrInvalidArgument, f)
	}
}

func writeCSV(w io.Writer, g Grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(g.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(g.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func writeMarkdown(w io.Writer, g Grid) error {
	var b strings.Builder
	b.WriteString("| " + strings.Join(g.Header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(g.Header)) + "\n")
	for _, row := range g.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = orDash(c)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeTable(w io.Writer, g Grid) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignRight},
			},
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)
	rows := make([][]string, len(g.Rows))
	for r, row := range g.Rows {
		rows[r] = make([]string, len(row))
		for i, c := range row {
			rows[r][i] = orDash(c)
		}
	}
	table.Header(g.Header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
