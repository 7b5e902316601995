package benchalot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// RenderResults runs the Output Driver (spec.md §4.8) over the
// Post-processor's filtered table: for every results block, partition
// by the matrix variables its filename pattern references, resolve
// collisions, and dispatch each partition to the renderer matching the
// block's format.
func RenderResults(t Table, blocks map[string]ResultBlock) error {
	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := renderBlock(t, blocks[name]); err != nil {
			return err
		}
	}
	return nil
}

func renderBlock(t Table, block ResultBlock) error {
	partitions, err := partitionByFilename(t, block.Filename)
	if err != nil {
		return err
	}

	overwrite, _ := block.Options["overwrite"].(bool)

	for _, p := range partitions {
		path, err := nextAvailablePath(p.path, overwrite)
		if err != nil {
			return err
		}
		if err := renderOne(p.table, block, path); err != nil {
			return err
		}
	}
	return nil
}

type partition struct {
	path  string
	table Table
}

// partitionByFilename groups t by every matrix variable block.Filename
// references, expanding the pattern once per distinct combination
// (spec.md §4.8: "when [filenames] refer to matrix variables, the
// table is partitioned ... and one file per partition is produced").
func partitionByFilename(t Table, filenamePattern string) ([]partition, error) {
	vars := TemplateVariables(filenamePattern)
	if len(vars) == 0 {
		path, err := ExpandTemplate(filenamePattern, Bindings{})
		if err != nil {
			return nil, err
		}
		return []partition{{path: path, table: t}}, nil
	}

	groups := t.GroupBy(vars)
	partitions := make([]partition, 0, len(groups))
	for _, g := range groups {
		path, err := ExpandTemplate(filenamePattern, bindingsFromColumns(g.Key))
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, partition{path: path, table: Table{Rows: g.Rows}})
	}
	return partitions, nil
}

// bindingsFromColumns rebuilds a Bindings map suitable for
// ExpandTemplate from a Group's flat "name"/"name.field" column
// values.
func bindingsFromColumns(key map[string]string) Bindings {
	bindings := make(Bindings, len(key))
	for col, value := range key {
		if i := strings.IndexByte(col, '.'); i >= 0 {
			name, field := col[:i], col[i+1:]
			b, ok := bindings[name]
			if !ok {
				b = Binding{Fields: map[string]Scalar{}}
			}
			b.Fields[field] = value
			bindings[name] = b
			continue
		}
		bindings[col] = Binding{Value: value}
	}
	return bindings
}

// nextAvailablePath returns path unchanged when overwrite is set or no
// file exists there yet; otherwise it renames the existing file aside
// with a numeric suffix before path is reused, mirroring
// rsc-cmd/benchlab's own "bench.<date>[.N].txt" collision-avoidance
// loop (spec.md §4.8).
func nextAvailablePath(path string, overwrite bool) (string, error) {
	if overwrite {
		return path, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		renamed := fmt.Sprintf("%s.%d%s", base, i, ext)
		if _, err := os.Stat(renamed); os.IsNotExist(err) {
			if err := os.Rename(path, renamed); err != nil {
				return "", &IOError{Path: path, Required: false, Err: err}
			}
			return path, nil
		}
	}
}

func renderOne(t Table, block ResultBlock, path string) error {
	switch block.Format {
	case "csv":
		return renderCSVFile(t, path)
	case "table-md":
		return renderTableMD(t, block, path)
	case "bar-chart", "scatter", "box", "violin":
		return renderPlotSidecar(t, block, path)
	}
	return fmt.Errorf("output driver: unrecognized format %q", block.Format)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func renderCSVFile(t Table, path string) error {
	if err := ensureDir(path); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	defer f.Close()
	if err := WriteCSV(f, t); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	return nil
}

// renderTableMD writes a Markdown table via tablewriter (spec.md §4.8;
// DESIGN.md's Open Questions: the `columns` option mirrors the Python
// prototype's output.py, selecting a subset of matrix variables as the
// displayed columns alongside sample/stage/metric/value).
func renderTableMD(t Table, block ResultBlock, path string) error {
	columns := matrixColumnsOption(block, t)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	header := append(append([]string{}, columns...), "sample", "stage", "metric", "value")
	table.SetHeader(header)

	for _, r := range t.Rows {
		row := make([]string, 0, len(header))
		for _, col := range columns {
			v, _ := r.Column(col)
			row = append(row, v)
		}
		value := r.StringValue
		if !r.IsString() {
			value = formatValue(r.Value)
		}
		row = append(row, formatValue(float64(r.Sample)), r.Stage, string(r.Metric), value)
		table.Append(row)
	}
	table.Render()

	if err := ensureDir(path); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	return nil
}

func matrixColumnsOption(block ResultBlock, t Table) []string {
	if raw, ok := block.Options["columns"].([]interface{}); ok {
		columns := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				columns = append(columns, s)
			}
		}
		return columns
	}
	return csvMatrixColumns(t)
}

// renderPlotSidecar writes the partition's rows as a JSON document for
// the plot formats spec.md explicitly keeps out of scope: the driver's
// contract ends at partitioning, naming, and handing a renderer the
// filtered sub-table plus options (spec.md §4.8, §1 Non-goals). No
// chart-rendering library is wired here by design.
func renderPlotSidecar(t Table, block ResultBlock, path string) error {
	type sidecarRow struct {
		Bindings map[string]string `json:"bindings"`
		Sample   int               `json:"sample"`
		Stage    string            `json:"stage"`
		Metric   string            `json:"metric"`
		Value    float64           `json:"value,omitempty"`
		String   string            `json:"string_value,omitempty"`
		Failed   bool              `json:"failed"`
	}
	sidecar := struct {
		Format  string                 `json:"format"`
		Options map[string]interface{} `json:"options,omitempty"`
		Rows    []sidecarRow           `json:"rows"`
	}{Format: block.Format, Options: block.Options}

	for _, r := range t.Rows {
		row := sidecarRow{Sample: r.Sample, Stage: r.Stage, Metric: string(r.Metric), Failed: r.Failed}
		row.Bindings = make(map[string]string, len(r.Point.Order))
		for _, name := range r.Point.Order {
			v, ok := r.Column(name)
			if ok {
				row.Bindings[name] = v
			}
		}
		if r.IsString() {
			row.String = r.StringValue
		} else {
			row.Value = r.Value
		}
		sidecar.Rows = append(sidecar.Rows, row)
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &IOError{Path: path, Required: true, Err: err}
	}
	return nil
}
