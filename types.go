// Package benchalot implements the benchmark execution engine: a
// templating and Cartesian-product planner, a per-cell lifecycle
// runner, a metric collector, a long-format result table, and the
// statistical post-processing that feeds the output renderers.
package benchalot

import "time"

// Scalar is the value a matrix variable (or a compound field) can
// hold: a string, a number, or a bool. YAML decodes all three into
// these dynamic types; Benchalot never needs more than their string
// form (for template substitution) and their raw form (for output).
type Scalar = interface{}

// Binding is a single variable's resolved value: either a Scalar or a
// Compound record of named scalar fields. Exactly one of Value/Fields
// is populated.
type Binding struct {
	Value  Scalar
	Fields map[string]Scalar
}

// IsCompound reports whether this binding is a record of fields
// rather than a bare scalar.
func (b Binding) IsCompound() bool {
	return b.Fields != nil
}

// Bindings maps a variable name to its resolved Binding. The one
// reserved key, "datetime", always holds a scalar ISO-8601 string
// timestamp safe for filenames.
type Bindings map[string]Binding

// Clone returns a shallow copy safe to attach to a different Cell.
// Bindings are immutable once Plan Builder emits them (spec.md §3),
// so cloning is only needed when composing a new map, never to permit
// mutation after the fact.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// MatrixPoint is an ordered tuple of bindings covering every declared
// matrix variable, in declaration order.
type MatrixPoint struct {
	Order    []string
	Bindings Bindings
}

// Get returns the binding for name and whether it exists.
func (p MatrixPoint) Get(name string) (Binding, bool) {
	b, ok := p.Bindings[name]
	return b, ok
}

// Metric identifies one of the built-in measurement kinds.
type Metric string

const (
	MetricTime   Metric = "time"
	MetricUTime  Metric = "utime"
	MetricSTime  Metric = "stime"
	MetricRSS    Metric = "rss"
	MetricStdout Metric = "stdout"
	MetricStderr Metric = "stderr"
)

// numeric reports whether the metric's sample rows carry a numeric
// value column (true) or a string value (false, for stdout/stderr).
func (m Metric) numeric() bool {
	return m != MetricStdout && m != MetricStderr
}

// BenchmarkStages is the benchmark block's resolved stage set. Either
// form is mutually exclusive (spec.md §3 "Stage"): Implicit carries a
// single command list whose numeric metric rows use the metric name as
// stage (stdout/stderr rows use the command's index instead);
// Named carries a stage-name -> command-list mapping in declaration
// order.
type BenchmarkStages struct {
	Implicit []string
	Named    []NamedStage
}

// NamedStage is one explicit stage inside benchmark: name plus its
// command list.
type NamedStage struct {
	Name     string
	Commands []string
}

// IsExplicit reports whether benchmark declared named stages rather
// than a single implicit one.
func (s BenchmarkStages) IsExplicit() bool {
	return len(s.Named) > 0
}

// CustomMetric is one `name: command` entry from the custom-metrics
// list.
type CustomMetric struct {
	Name    string
	Command string
}

// Cell is a single fully-resolved benchmark run: a matrix point plus
// every template-expanded command sequence and environment needed to
// execute its lifecycle. Cells are numbered 0..N-1 in plan order.
type Cell struct {
	ID            int
	Point         MatrixPoint
	Setup         []string
	Prepare       []string
	Benchmark     BenchmarkStages
	Conclude      []string
	CustomMetrics []CustomMetric
	Cleanup       []string
	Metrics       []Metric
	Cwd           string
	Env           map[string]string
	SaveOutput    string
	Samples       int
}

// SampleRow is the unit appended to the Result Table per measurement
// (spec.md §3): (cell, matrix bindings, sample index, stage, metric,
// value, failed flag). Exactly one of Value/StringValue is
// meaningful, selected by Metric.numeric().
type SampleRow struct {
	CellID      int
	Point       MatrixPoint
	Sample      int
	Stage       string
	Metric      Metric
	Value       float64
	StringValue string
	Failed      bool
}

// IsString reports whether this row carries its payload in
// StringValue (stdout/stderr) rather than Value.
func (r SampleRow) IsString() bool {
	return !r.Metric.numeric()
}

// PlanStartTime is bound once per plan execution into the reserved
// "datetime" variable (spec.md §3), formatted filename-safe ISO-8601.
func PlanStartTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15-04-05Z")
}
