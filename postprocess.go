package benchalot

import "math"

// PostprocessOptions selects which filters Process disables, per the
// CLI flags that invert them (spec.md §6 `--include-failed`,
// `--include-outliers`).
type PostprocessOptions struct {
	IncludeFailed   bool
	IncludeOutliers bool
}

// Process runs the two Post-processor passes over a fully materialized
// Table snapshot (spec.md §4.7): failure filtering, then modified
// Z-score outlier detection. Neither pass mutates rows, only the
// output row set — the raw CSV export bypasses Process entirely and
// always writes every row regardless of these flags (see DESIGN.md's
// Open Questions).
func Process(t Table, opts PostprocessOptions) Table {
	if !opts.IncludeFailed {
		t = t.Filter(func(r SampleRow) bool { return !r.Failed })
	}
	if !opts.IncludeOutliers {
		t = filterOutliers(t)
	}
	return t
}

// filterOutliers drops rows flagged as outliers within their
// (matrix bindings, stage, metric) group (spec.md §4.7). String-valued
// rows (stdout/stderr) have no numeric distribution and are never
// flagged.
func filterOutliers(t Table) Table {
	outlierGroupCols := groupColumnsFor(t)
	groups := t.GroupBy(outlierGroupCols)

	// A row is identified across the copies GroupBy produces by its
	// group signature (matrix bindings, stage, metric) plus its cell and
	// sample. The bindings keep rows loaded from a result CSV apart,
	// since every such row carries CellID zero; rows that agree on all
	// of these share one key.
	type rowKey struct {
		group  string
		cell   int
		sample int
	}
	keyOf := func(r SampleRow) rowKey {
		key := make(map[string]string, len(outlierGroupCols))
		for _, col := range outlierGroupCols {
			key[col], _ = r.Column(col)
		}
		return rowKey{group: groupSignature(key, outlierGroupCols), cell: r.CellID, sample: r.Sample}
	}

	outlier := make(map[rowKey]bool)
	for gi := range groups {
		rows := groups[gi].Rows
		values := numericValues(rows)
		if len(values) == 0 {
			continue
		}
		flags := modifiedZOutliers(values)
		vi := 0
		for _, row := range rows {
			if row.IsString() {
				continue
			}
			if flags[vi] {
				outlier[keyOf(row)] = true
			}
			vi++
		}
	}

	out := make([]SampleRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		if outlier[keyOf(r)] {
			continue
		}
		out = append(out, r)
	}
	return Table{Rows: out}
}

// groupColumnsFor returns every matrix-variable column present in t
// (in first-seen order) plus the fixed "stage" and "metric" columns,
// matching spec.md §4.7's "(matrix bindings, stage, metric)" grouping.
func groupColumnsFor(t Table) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range t.Rows {
		if r.Point.Order == nil {
			continue
		}
		for _, name := range r.Point.Order {
			b, ok := r.Point.Get(name)
			if !ok {
				continue
			}
			if b.IsCompound() {
				for field := range b.Fields {
					col := name + "." + field
					if !seen[col] {
						seen[col] = true
						cols = append(cols, col)
					}
				}
				continue
			}
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
		break // every row shares the same Order within one Table
	}
	cols = append(cols, "stage", "metric")
	return cols
}

// modifiedZOutliers flags each value in values per spec.md §4.7:
// Z = 0.6745 * (x - median) / MAD, |Z| > 3.5 is an outlier. A zero MAD
// (all values identical, or all but one) flags nothing.
func modifiedZOutliers(values []float64) []bool {
	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)

	flags := make([]bool, len(values))
	if mad == 0 {
		return flags
	}
	for i, v := range values {
		z := 0.6745 * (v - med) / mad
		flags[i] = math.Abs(z) > 3.5
	}
	return flags
}
