// Package render writes command results as json, yaml or an aligned table.
//
// Without --format, a terminal gets a table and anything else gets json so
// pipes stay machine-readable. Tables are uncolored; the TUI styles itself.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat resolves a --format value, ignoring case. The empty string
// yields the empty Format, leaving the default to the caller.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case "", FormatJSON, FormatTable, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Table is a result set that picks its own columns. Table output for
// anything else falls back to one "field: value" line per struct field.
type Table interface {
	Columns() []string
	Rows() [][]string
}

// Renderer writes one result in a fixed format.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer builds a renderer for the command's --format and writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := FormatFromContext(c)
	if err != nil {
		return nil, err
	}
	return New(format, c.App.Writer), nil
}

// New returns a renderer writing format to out.
func New(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// FormatFromContext reads --format, falling back to table on a TTY and
// json otherwise.
func FormatFromContext(c *cli.Context) (Format, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil || format != "" {
		return format, err
	}
	if f, ok := c.App.Writer.(*os.File); ok && isTTY(f) {
		return FormatTable, nil
	}
	return FormatJSON, nil
}

// Format returns the renderer's output format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render writes data followed by a newline.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

func (r *Renderer) renderTable(data any) error {
	if t, ok := data.(Table); ok {
		return r.renderRows(t)
	}

	v := reflect.Indirect(reflect.ValueOf(data))
	w := newTabWriter(r.out)
	switch v.Kind() {
	case reflect.Struct:
		for i := range v.NumField() {
			if f := v.Type().Field(i); f.IsExported() {
				fmt.Fprintf(w, "%s:\t%s\n", fieldName(f), formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\t%s\n", k.String(), formatValue(v.MapIndex(k)))
		}
	default:
		return fmt.Errorf("table output not supported for %T", data)
	}
	return w.Flush()
}

// renderRows prints a header line and one aligned line per row.
func (r *Renderer) renderRows(t Table) error {
	rows := t.Rows()
	if len(rows) == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}
	w := newTabWriter(r.out)
	fmt.Fprintln(w, strings.Join(t.Columns(), "\t"))
	for _, cells := range rows {
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

var timeType = reflect.TypeOf(time.Time{})

// FormatTime renders t for table cells; the zero time is blank.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	if v.Type() == timeType {
		return FormatTime(v.Interface().(time.Time))
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}

	switch v.Kind() {
	case reflect.Map:
		// counters by kind read best inline: trade=3 mbo=12
		parts := make([]string, 0, v.Len())
		for _, k := range sortedKeys(v) {
			parts = append(parts, k.String()+"="+formatValue(v.MapIndex(k)))
		}
		return strings.Join(parts, " ")
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, formatValue(v.Index(i)))
		}
		return strings.Join(parts, ",")
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// sortedKeys returns the keys of a string-keyed map value in order. Maps
// keyed by anything else yield no keys.
func sortedKeys(v reflect.Value) []reflect.Value {
	if v.Type().Key().Kind() != reflect.String {
		return nil
	}
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
