package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// tableFlushEvery bounds how many rows the table writer holds for alignment.
const tableFlushEvery = 32

var recordColumns = []string{"ts_event", "rtype", "instrument_id", "symbol", "side", "price", "size", "detail"}

// RecordWriter prints records as they arrive: one JSON object per line,
// one YAML document per record, or aligned table rows.
type RecordWriter struct {
	format Format
	out    io.Writer

	json    *json.Encoder
	yaml    *yaml.Encoder
	table   *tabwriter.Writer
	pending int
	headed  bool
}

// NewRecordWriter creates a writer for format.
func NewRecordWriter(format Format, out io.Writer) (*RecordWriter, error) {
	w := &RecordWriter{format: format, out: out}
	switch format {
	case FormatJSON:
		w.json = json.NewEncoder(out)
	case FormatYAML:
		w.yaml = yaml.NewEncoder(out)
		w.yaml.SetIndent(2)
	case FormatTable:
		w.table = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return w, nil
}

// Write prints one record.
func (w *RecordWriter) Write(v RecordView) error {
	switch w.format {
	case FormatJSON:
		return w.json.Encode(v)
	case FormatYAML:
		return w.yaml.Encode(v)
	default:
		return w.writeRow(v)
	}
}

func (w *RecordWriter) writeRow(v RecordView) error {
	if !w.headed {
		fmt.Fprintln(w.table, strings.Join(recordColumns, "\t"))
		w.headed = true
	}
	price := ""
	if v.Price != nil {
		price = v.Price.String()
	}
	ts := ""
	if !v.TsEvent.IsZero() {
		ts = v.TsEvent.Format("15:04:05.000000000")
	}
	fmt.Fprintf(w.table, "%s\t%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
		ts, v.RType, v.InstrumentID, v.Symbol, v.Side, price, v.Size, v.Detail)

	w.pending++
	if w.pending >= tableFlushEvery {
		return w.Flush()
	}
	return nil
}

// Flush writes any buffered table rows.
func (w *RecordWriter) Flush() error {
	if w.table == nil {
		return nil
	}
	w.pending = 0
	return w.table.Flush()
}

// Close flushes pending output.
func (w *RecordWriter) Close() error {
	if w.yaml != nil {
		return w.yaml.Close()
	}
	return w.Flush()
}
