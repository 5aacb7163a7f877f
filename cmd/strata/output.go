package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/hyperengineering/strata/internal/types"
)

var (
	statusGood = color.New(color.FgGreen)
	statusWarn = color.New(color.FgYellow)
	statusBad  = color.New(color.FgRed)
)

// printJSON marshals v to indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// colorStatus renders a status string with its severity color. Color
// output degrades to plain text when stdout is not a terminal.
func colorStatus(s types.Status) string {
	switch s {
	case types.StatusSuccess:
		return statusGood.Sprint(string(s))
	case types.StatusFailed:
		return statusBad.Sprint(string(s))
	default:
		return statusWarn.Sprint(string(s))
	}
}
