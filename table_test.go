package benchalot_test

import (
	"testing"

	"github.com/benchalot/benchalot"
)

func point(order []string, bindings benchalot.Bindings) benchalot.MatrixPoint {
	return benchalot.MatrixPoint{Order: order, Bindings: bindings}
}

func TestTable_GroupBy(t *testing.T) {
	order := []string{"compiler"}
	rows := []benchalot.SampleRow{
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Sample: 0, Stage: "time", Metric: benchalot.MetricTime, Value: 1},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Sample: 1, Stage: "time", Metric: benchalot.MetricTime, Value: 2},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "clang"}}), Sample: 0, Stage: "time", Metric: benchalot.MetricTime, Value: 3},
	}
	table := benchalot.NewTable(rows)
	groups := table.GroupBy([]string{"compiler"})
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Key["compiler"] != "gcc" || len(groups[0].Rows) != 2 {
		t.Errorf("group 0: got key %v with %d rows", groups[0].Key, len(groups[0].Rows))
	}
	if groups[1].Key["compiler"] != "clang" || len(groups[1].Rows) != 1 {
		t.Errorf("group 1: got key %v with %d rows", groups[1].Key, len(groups[1].Rows))
	}
}

func TestTable_Aggregate(t *testing.T) {
	order := []string{"compiler"}
	rows := []benchalot.SampleRow{
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Stage: "time", Metric: benchalot.MetricTime, Value: 1},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Stage: "time", Metric: benchalot.MetricTime, Value: 3},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "clang"}}), Stage: "time", Metric: benchalot.MetricTime, Value: 2},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "clang"}}), Stage: "time", Metric: benchalot.MetricTime, Value: 4},
	}
	table := benchalot.NewTable(rows)
	groups := table.GroupBy([]string{"compiler"})

	cases := []struct {
		stat string
		want []float64
	}{
		{"min", []float64{1, 2}},
		{"max", []float64{3, 4}},
		{"mean", []float64{2, 3}},
		{"median", []float64{2, 3}},
	}
	for _, c := range cases {
		t.Run(c.stat, func(t *testing.T) {
			results, err := table.Aggregate(groups, c.stat)
			if err != nil {
				t.Fatalf("Aggregate(%q): %v", c.stat, err)
			}
			for i, want := range c.want {
				if results[i].Value != want {
					t.Errorf("group %d: got %v, want %v", i, results[i].Value, want)
				}
			}
		})
	}

	t.Run("relative normalizes to the minimum mean", func(t *testing.T) {
		results, err := table.Aggregate(groups, "relative")
		if err != nil {
			t.Fatalf("Aggregate(relative): %v", err)
		}
		if results[0].Value != 1 {
			t.Errorf("gcc: got %v, want 1 (is the floor)", results[0].Value)
		}
		if results[1].Value != 1.5 {
			t.Errorf("clang: got %v, want 1.5 (3/2)", results[1].Value)
		}
	})

	t.Run("std of a single-sample group is 0", func(t *testing.T) {
		single := benchalot.NewTable([]benchalot.SampleRow{
			{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Stage: "time", Metric: benchalot.MetricTime, Value: 5},
		})
		results, err := single.Aggregate(single.GroupBy([]string{"compiler"}), "std")
		if err != nil {
			t.Fatalf("Aggregate(std): %v", err)
		}
		if results[0].Value != 0 {
			t.Errorf("got %v, want 0", results[0].Value)
		}
	})

	t.Run("unrecognized statistic errors", func(t *testing.T) {
		if _, err := table.Aggregate(groups, "p99"); err == nil {
			t.Error("expected error for unrecognized statistic")
		}
	})
}

func TestTable_Pivot(t *testing.T) {
	order := []string{"compiler"}
	rows := []benchalot.SampleRow{
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Sample: 0, Stage: "compile", Metric: benchalot.MetricTime, Value: 1},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "gcc"}}), Sample: 0, Stage: "run", Metric: benchalot.MetricTime, Value: 2},
		{Point: point(order, benchalot.Bindings{"compiler": {Value: "clang"}}), Sample: 0, Stage: "compile", Metric: benchalot.MetricTime, Value: 3},
	}
	table := benchalot.NewTable(rows)
	pivoted, err := table.Pivot([]string{"compiler"}, []string{"stage", "metric"}, "{{stage}} {{metric}}")
	if err != nil {
		t.Fatalf("Pivot: %v", err)
	}
	if len(pivoted) != 2 {
		t.Fatalf("got %d pivot rows, want 2", len(pivoted))
	}
	for _, row := range pivoted {
		if row.Key["compiler"] == "gcc" {
			if row.Columns["compile time"] != 1 || row.Columns["run time"] != 2 {
				t.Errorf("gcc row: got %v", row.Columns)
			}
		}
		if row.Key["compiler"] == "clang" {
			if row.Columns["compile time"] != 3 {
				t.Errorf("clang row: got %v", row.Columns)
			}
		}
	}
}

func TestTable_Filter(t *testing.T) {
	rows := []benchalot.SampleRow{
		{Sample: 0, Failed: false},
		{Sample: 1, Failed: true},
	}
	table := benchalot.NewTable(rows)
	kept := table.Filter(func(r benchalot.SampleRow) bool { return !r.Failed })
	if len(kept.Rows) != 1 || kept.Rows[0].Sample != 0 {
		t.Errorf("got %+v", kept.Rows)
	}
	// Filter must not mutate the original table.
	if len(table.Rows) != 2 {
		t.Errorf("original table mutated: got %d rows", len(table.Rows))
	}
}

func TestSampleRow_Column(t *testing.T) {
	row := benchalot.SampleRow{
		Point:  point([]string{"host"}, benchalot.Bindings{"host": {Fields: map[string]benchalot.Scalar{"cpu": "amd64"}}}),
		Sample: 2,
		Stage:  "benchmark",
		Metric: benchalot.MetricStdout,
		StringValue: "hello",
		Failed: true,
	}
	cases := []struct {
		column string
		want   string
	}{
		{"sample", "2"},
		{"stage", "benchmark"},
		{"metric", "stdout"},
		{"stdout", "hello"},
		{"failed", "true"},
		{"host.cpu", "amd64"},
	}
	for _, c := range cases {
		got, ok := row.Column(c.column)
		if !ok {
			t.Errorf("Column(%q): not found", c.column)
			continue
		}
		if got != c.want {
			t.Errorf("Column(%q): got %q, want %q", c.column, got, c.want)
		}
	}
	if _, ok := row.Column("stderr"); ok {
		t.Error("Column(stderr) on a stdout row should not be found")
	}
	if _, ok := row.Column("host"); ok {
		t.Error("Column(host) on a compound binding without a field should not be found")
	}
}
