package main

import (
	"encoding/json"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable renders a rounded listing table. Every vt listing keeps its
// age column last, so the final column is right-aligned and the rest stay
// left-aligned.
func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		cells := make(table.Row, len(row))
		for i, cell := range row {
			cells[i] = cell
		}
		tw.AppendRow(cells)
	}

	tw.SetColumnConfigs([]table.ColumnConfig{{
		Number:      len(headers),
		Align:       text.AlignRight,
		AlignHeader: text.AlignLeft,
	}})
	return tw.Render()
}

// writeJSON emits v as indented JSON for the --json flag paths.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
