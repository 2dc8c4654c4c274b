// Package output renders fhctl results as coloured messages, tables, JSON
// or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stdout and Stderr are where output goes; tests swap them.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

// colorEnabled honours the NO_COLOR convention.
func colorEnabled() bool {
	_, off := os.LookupEnv("NO_COLOR")
	return !off
}

func paint(w io.Writer, style, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if colorEnabled() {
		msg = style + msg + reset
	}
	fmt.Fprintln(w, msg)
}

func Success(format string, a ...any) {
	paint(Stdout, green+bold, "✓ "+format, a...)
}

func Error(format string, a ...any) {
	paint(Stderr, red+bold, "✗ "+format, a...)
}

func Info(format string, a ...any) {
	paint(Stdout, cyan, format, a...)
}

func Warn(format string, a ...any) {
	paint(Stdout, yellow, "⚠ "+format, a...)
}

func JSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func YAML(v any) error {
	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// Print renders v in format ("table", "json" or "yaml"). table builds the
// tabular view and is only called for the table format.
func Print(format string, v any, table func() *Table) error {
	switch strings.ToLower(format) {
	case "json":
		return JSON(v)
	case "yaml", "yml":
		return YAML(v)
	case "table", "":
		table().Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, header := range t.headers {
		fmt.Fprintf(&b, "%-*s  ", widths[i], header)
	}
	line := strings.TrimRight(b.String(), " ")
	if colorEnabled() {
		line = bold + line + reset
	}
	fmt.Fprintln(Stdout, line)

	b.Reset()
	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))

	for _, row := range t.rows {
		b.Reset()
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))
	}
}
