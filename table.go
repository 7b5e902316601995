package benchalot

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Table is the Result Table (spec.md §4.6): an append-only sequence of
// SampleRows with pure (non-mutating) Filter/GroupBy/Aggregate/Pivot
// views. Once the Runner finishes appending, nothing mutates a Table
// again — each operation returns a new value, so a Post-processor pass
// that drops failed or outlier samples can never corrupt a Table a
// caller still holds (spec.md §5, §9 design note).
type Table struct {
	Rows []SampleRow
}

// NewTable wraps rows as a Table. The slice is not copied; callers
// must not mutate rows afterward.
func NewTable(rows []SampleRow) Table {
	return Table{Rows: rows}
}

// Append returns a new Table with rows added, leaving t unmodified.
func (t Table) Append(rows ...SampleRow) Table {
	out := make([]SampleRow, len(t.Rows), len(t.Rows)+len(rows))
	copy(out, t.Rows)
	return Table{Rows: append(out, rows...)}
}

// Filter returns the subset of rows matching pred, in original order.
func (t Table) Filter(pred func(SampleRow) bool) Table {
	out := make([]SampleRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return Table{Rows: out}
}

// Column returns a row's value for one of the Result CSV schema's
// named columns (spec.md §6 "Result CSV schema"): a matrix variable
// (or "var.field" for a compound field), or one of the built-ins
// sample/stage/metric/value/stdout/stderr/failed.
func (r SampleRow) Column(name string) (string, bool) {
	switch name {
	case "sample":
		return strconv.Itoa(r.Sample), true
	case "stage":
		return r.Stage, true
	case "metric":
		return string(r.Metric), true
	case "value":
		return formatValue(r.Value), true
	case "stdout", "stderr":
		if r.IsString() && string(r.Metric) == name {
			return r.StringValue, true
		}
		return "", false
	case "failed":
		return strconv.FormatBool(r.Failed), true
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		varName, field := name[:i], name[i+1:]
		b, ok := r.Point.Get(varName)
		if !ok || !b.IsCompound() {
			return "", false
		}
		v, ok := b.Fields[field]
		if !ok {
			return "", false
		}
		return scalarString(v), true
	}
	b, ok := r.Point.Get(name)
	if !ok || b.IsCompound() {
		return "", false
	}
	return scalarString(b.Value), true
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Group is one partition produced by GroupBy: the shared column
// values that define the partition, plus its member rows in original
// order.
type Group struct {
	Key  map[string]string
	Rows []SampleRow
}

// GroupBy partitions rows by the tuple of named column values,
// preserving first-seen group order (spec.md §4.6 "Group by
// columns"). Rows missing any of columns are dropped from every
// group.
func (t Table) GroupBy(columns []string) []Group {
	index := map[string]int{}
	var groups []Group
	for _, r := range t.Rows {
		key := make(map[string]string, len(columns))
		complete := true
		for _, col := range columns {
			v, ok := r.Column(col)
			if !ok {
				complete = false
				break
			}
			key[col] = v
		}
		if !complete {
			continue
		}
		sig := groupSignature(key, columns)
		if idx, ok := index[sig]; ok {
			groups[idx].Rows = append(groups[idx].Rows, r)
			continue
		}
		index[sig] = len(groups)
		groups = append(groups, Group{Key: key, Rows: []SampleRow{r}})
	}
	return groups
}

func groupSignature(key map[string]string, columns []string) string {
	sig := ""
	for _, col := range columns {
		sig += col + "=" + key[col] + "\x1f"
	}
	return sig
}

// AggregateResult is one group's computed statistic.
type AggregateResult struct {
	Key   map[string]string
	Value float64
}

// Aggregate computes stat over each group's numeric Value column
// (spec.md §4.6): min, max, mean, median, std (sample standard
// deviation, N-1 denominator), or relative (each group's mean divided
// by the minimum mean across the groups passed in, yielding a
// dimensionless ratio — see DESIGN.md's Open Questions for why "mean"
// is the base statistic "relative" normalizes). String-valued
// (stdout/stderr) rows are ignored.
func (t Table) Aggregate(groups []Group, stat string) ([]AggregateResult, error) {
	results := make([]AggregateResult, len(groups))
	for i, g := range groups {
		values := numericValues(g.Rows)
		v, err := statistic(values, stat)
		if err != nil {
			return nil, err
		}
		results[i] = AggregateResult{Key: g.Key, Value: v}
	}
	if stat == "relative" {
		normalizeRelative(results)
	}
	return results, nil
}

func numericValues(rows []SampleRow) []float64 {
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		if !r.IsString() {
			values = append(values, r.Value)
		}
	}
	return values
}

func statistic(values []float64, stat string) (float64, error) {
	if stat == "relative" {
		return mean(values), nil
	}
	switch stat {
	case "min":
		return minOf(values), nil
	case "max":
		return maxOf(values), nil
	case "mean":
		return mean(values), nil
	case "median":
		return median(values), nil
	case "std":
		return stddev(values), nil
	}
	return 0, fmt.Errorf("unrecognized aggregate statistic %q", stat)
}

func normalizeRelative(results []AggregateResult) {
	if len(results) == 0 {
		return
	}
	floor := results[0].Value
	for _, r := range results[1:] {
		if r.Value < floor {
			floor = r.Value
		}
	}
	if floor == 0 {
		return
	}
	for i := range results {
		results[i].Value /= floor
	}
}

func minOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

var pivotTemplate = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// PivotRow is one row of a pivoted view: the remaining (non-pivoted)
// columns' values, plus the derived pivot columns and their numeric
// values.
type PivotRow struct {
	Key     map[string]string
	Columns map[string]float64
}

// Pivot turns pivotColumns into new columns named by substituting each
// row's pivotColumns values into namePattern (e.g. "{{stage}}
// {{metric}}"), with every other named column forming the remaining
// row key (spec.md §4.6 "Pivot"). Rows sharing a remaining-key tuple
// but differing only in pivotColumns collapse into one PivotRow;
// duplicate (key, pivot-column-name) pairs keep the first value seen.
func (t Table) Pivot(remainingColumns, pivotColumns []string, namePattern string) ([]PivotRow, error) {
	index := map[string]int{}
	var out []PivotRow
	for _, r := range t.Rows {
		if r.IsString() {
			continue
		}
		key := make(map[string]string, len(remainingColumns))
		ok := true
		for _, col := range remainingColumns {
			v, found := r.Column(col)
			if !found {
				ok = false
				break
			}
			key[col] = v
		}
		if !ok {
			continue
		}
		pivotVals := make(map[string]string, len(pivotColumns))
		for _, col := range pivotColumns {
			v, found := r.Column(col)
			if !found {
				ok = false
				break
			}
			pivotVals[col] = v
		}
		if !ok {
			continue
		}
		colName := pivotTemplate.ReplaceAllStringFunc(namePattern, func(m string) string {
			name := m[2 : len(m)-2]
			return pivotVals[name]
		})

		sig := groupSignature(key, remainingColumns)
		idx, seen := index[sig]
		if !seen {
			idx = len(out)
			index[sig] = idx
			out = append(out, PivotRow{Key: key, Columns: map[string]float64{}})
		}
		if _, already := out[idx].Columns[colName]; !already {
			out[idx].Columns[colName] = r.Value
		}
	}
	return out, nil
}
