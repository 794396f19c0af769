package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
)

var output io.Writer = os.Stdout

// report is one command result. rows renders it for the table format; the
// value itself is encoded for json.
type report struct {
	header []string
	rows   [][]string
	value  any
}

func (r *report) add(cols ...string) {
	r.rows = append(r.rows, cols)
}

func (r *report) write() error {
	if cfg.format == "json" {
		enc := json.NewEncoder(output)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(r.value)
	}
	table := tablewriter.NewWriter(output)
	table.SetHeader(r.header)
	table.SetAutoWrapText(false)
	table.AppendBulk(r.rows)
	table.Render()
	return nil
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
