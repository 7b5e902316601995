package benchalot_test

import (
	"bytes"
	"testing"

	"github.com/benchalot/benchalot"
)

func TestCSV_RoundTrip_ScalarMatrix(t *testing.T) {
	order := []string{"compiler", "opt"}
	rows := []benchalot.SampleRow{
		{
			Point: point(order, benchalot.Bindings{
				"compiler": {Value: "gcc"},
				"opt":      {Value: "-O2"},
			}),
			Sample: 0, Stage: "time", Metric: benchalot.MetricTime, Value: 1.5,
		},
		{
			Point: point(order, benchalot.Bindings{
				"compiler": {Value: "gcc"},
				"opt":      {Value: "-O2"},
			}),
			Sample: 0, Stage: "benchmark", Metric: benchalot.MetricStdout, StringValue: "ok",
		},
	}
	table := benchalot.NewTable(rows)

	var buf bytes.Buffer
	if err := benchalot.WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	loaded, err := benchalot.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(loaded.Rows) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(loaded.Rows), len(rows))
	}

	for i, want := range rows {
		got := loaded.Rows[i]
		if got.Sample != want.Sample || got.Stage != want.Stage || got.Metric != want.Metric {
			t.Errorf("row %d: got %+v, want %+v", i, got, want)
		}
		if got.Value != want.Value || got.StringValue != want.StringValue {
			t.Errorf("row %d value mismatch: got (%v, %q), want (%v, %q)", i, got.Value, got.StringValue, want.Value, want.StringValue)
		}
		for _, name := range order {
			gotCol, ok := got.Column(name)
			if !ok {
				t.Errorf("row %d: missing column %q after round-trip", i, name)
				continue
			}
			wantCol, _ := want.Column(name)
			if gotCol != wantCol {
				t.Errorf("row %d column %q: got %q, want %q", i, name, gotCol, wantCol)
			}
		}
	}
}

func TestCSV_RoundTrip_CompoundMatrixVariable(t *testing.T) {
	order := []string{"host"}
	rows := []benchalot.SampleRow{
		{
			Point: point(order, benchalot.Bindings{
				"host": {Fields: map[string]benchalot.Scalar{"cpu": "amd64", "cores": "8"}},
			}),
			Sample: 0, Stage: "time", Metric: benchalot.MetricTime, Value: 3.25,
		},
	}
	table := benchalot.NewTable(rows)

	var buf bytes.Buffer
	if err := benchalot.WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	loaded, err := benchalot.ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(loaded.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(loaded.Rows))
	}

	got := loaded.Rows[0]
	cpu, ok := got.Column("host.cpu")
	if !ok || cpu != "amd64" {
		t.Errorf("host.cpu: got (%q, %v), want (\"amd64\", true)", cpu, ok)
	}
	cores, ok := got.Column("host.cores")
	if !ok || cores != "8" {
		t.Errorf("host.cores: got (%q, %v), want (\"8\", true)", cores, ok)
	}

	// The reassembled binding must be compound, not a flat "host.cpu"
	// key, so downstream grouping/templating by base variable name
	// still works.
	if _, ok := got.Point.Get("host.cpu"); ok {
		t.Error("expected no binding stored under the literal dotted key \"host.cpu\"")
	}
	b, ok := got.Point.Get("host")
	if !ok || !b.IsCompound() {
		t.Fatalf("expected a compound binding under \"host\", got %+v (ok=%v)", b, ok)
	}
}

func TestCSV_ReadCSV_MissingRequiredColumn(t *testing.T) {
	data := "compiler,sample,stage,metric,value,stdout,stderr\ngcc,0,time,time,1,,\n"
	if _, err := benchalot.ReadCSV(bytes.NewBufferString(data)); err == nil {
		t.Error("expected error for missing \"failed\" column")
	}
}

func TestCSV_ReadCSV_EmptyInputYieldsEmptyTable(t *testing.T) {
	table, err := benchalot.ReadCSV(bytes.NewBufferString(""))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(table.Rows) != 0 {
		t.Errorf("got %d rows, want 0", len(table.Rows))
	}
}
