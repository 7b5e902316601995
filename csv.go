package benchalot

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteCSV writes t as the Result CSV schema (spec.md §6): matrix
// variable columns (compound fields as "var.field"), then sample,
// stage, metric, value, stdout, stderr, failed. Every row is written
// regardless of any Post-processor filtering — callers pass the raw,
// pre-Process table here (DESIGN.md's Open Questions).
func WriteCSV(w io.Writer, t Table) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	columns := csvMatrixColumns(t)
	header := append(append([]string{}, columns...), "sample", "stage", "metric", "value", "stdout", "stderr", "failed")
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		record := make([]string, 0, len(header))
		for _, col := range columns {
			v, _ := r.Column(col)
			record = append(record, v)
		}
		value, stdout, stderr := "", "", ""
		switch r.Metric {
		case MetricStdout:
			stdout = r.StringValue
		case MetricStderr:
			stderr = r.StringValue
		default:
			value = strconv.FormatFloat(r.Value, 'g', -1, 64)
		}
		record = append(record,
			strconv.Itoa(r.Sample),
			r.Stage,
			string(r.Metric),
			value,
			stdout,
			stderr,
			strconv.FormatBool(r.Failed),
		)
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// csvMatrixColumns returns every matrix-variable column in t, derived
// from the first row's declaration order (every row in one Table
// shares the same matrix, spec.md §3).
func csvMatrixColumns(t Table) []string {
	if len(t.Rows) == 0 {
		return nil
	}
	order := t.Rows[0].Point.Order
	var columns []string
	for _, name := range order {
		b, ok := t.Rows[0].Point.Get(name)
		if !ok {
			continue
		}
		if b.IsCompound() {
			for field := range b.Fields {
				columns = append(columns, name+"."+field)
			}
			continue
		}
		columns = append(columns, name)
	}
	return columns
}

// ReadCSV loads a Table previously written by WriteCSV (spec.md §6
// `--results-from-csv`/`--include`). "var.field" columns are
// reassembled into a single compound Binding per var, matching the
// shape Plan Builder would have produced; CellID is not part of the
// schema and is left zero on every loaded row (rows are identified by
// their matrix bindings plus sample/stage/metric, as the CSV schema
// itself does).
func ReadCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, nil
	}

	header := records[0]
	fixed := map[string]int{"sample": -1, "stage": -1, "metric": -1, "value": -1, "stdout": -1, "stderr": -1, "failed": -1}
	var matrixCols []string
	for i, name := range header {
		if _, ok := fixed[name]; ok {
			fixed[name] = i
			continue
		}
		matrixCols = append(matrixCols, name)
	}
	for name, idx := range fixed {
		if idx < 0 {
			return Table{}, fmt.Errorf("result CSV missing required column %q", name)
		}
	}

	order := baseColumnNames(matrixCols)

	rows := make([]SampleRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		bindings := make(Bindings, len(matrixCols))
		for _, col := range matrixCols {
			idx := indexOf(header, col)
			if i := strings.IndexByte(col, '.'); i >= 0 {
				name, field := col[:i], col[i+1:]
				b, ok := bindings[name]
				if !ok {
					b = Binding{Fields: map[string]Scalar{}}
				}
				b.Fields[field] = rec[idx]
				bindings[name] = b
				continue
			}
			bindings[col] = Binding{Value: rec[idx]}
		}
		sample, err := strconv.Atoi(rec[fixed["sample"]])
		if err != nil {
			return Table{}, fmt.Errorf("result CSV: invalid sample %q", rec[fixed["sample"]])
		}
		failed, err := strconv.ParseBool(rec[fixed["failed"]])
		if err != nil {
			return Table{}, fmt.Errorf("result CSV: invalid failed %q", rec[fixed["failed"]])
		}
		metric := Metric(rec[fixed["metric"]])

		row := SampleRow{
			Point:  MatrixPoint{Order: order, Bindings: bindings},
			Sample: sample,
			Stage:  rec[fixed["stage"]],
			Metric: metric,
			Failed: failed,
		}
		switch metric {
		case MetricStdout:
			row.StringValue = rec[fixed["stdout"]]
		case MetricStderr:
			row.StringValue = rec[fixed["stderr"]]
		default:
			value, err := strconv.ParseFloat(rec[fixed["value"]], 64)
			if err != nil {
				return Table{}, fmt.Errorf("result CSV: invalid value %q", rec[fixed["value"]])
			}
			row.Value = value
		}
		rows = append(rows, row)
	}
	return Table{Rows: rows}, nil
}

// baseColumnNames collapses "var.field" columns down to their base
// variable name, in first-seen order, matching the Order a MatrixPoint
// built from scratch would carry.
func baseColumnNames(columns []string) []string {
	seen := map[string]bool{}
	var names []string
	for _, col := range columns {
		name := col
		if i := strings.IndexByte(col, '.'); i >= 0 {
			name = col[:i]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// LoadCSVFile opens path and reads it as a Result CSV.
func LoadCSVFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, &IOError{Path: path, Required: true, Err: err}
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return Table{}, &IOError{Path: path, Required: true, Err: err}
	}
	return t, nil
}
