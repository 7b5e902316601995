package benchalot

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the validated, defaulted configuration: the closed
// discriminated model spec.md §9 asks for, in place of the dynamic
// key->handler dispatch the original prototype used.
type Config struct {
	Matrix     []MatrixVariable
	Exclude    []Bindings
	Include    []Bindings
	Samples    int
	Setup      []string
	Prepare    []string
	Benchmark  BenchmarkStages
	Conclude   []string
	Cleanup    []string
	Custom     []CustomMetric
	Metrics    []Metric
	Cwd        string
	Env        map[string]string
	SaveOutput string
	System     SystemConfig
	Results    map[string]ResultBlock
}

// MatrixVariable is one declared matrix variable: its name and its
// value list, either scalar or compound-record (spec.md §3, §4.2).
type MatrixVariable struct {
	Name    string
	Scalars []Scalar
	Records []map[string]Scalar
}

// IsCompound reports whether this variable's values are records.
func (v MatrixVariable) IsCompound() bool {
	return v.Records != nil
}

// Len returns the number of declared values for this variable.
func (v MatrixVariable) Len() int {
	if v.IsCompound() {
		return len(v.Records)
	}
	return len(v.Scalars)
}

// Binding returns the Binding for the i'th declared value.
func (v MatrixVariable) Binding(i int) Binding {
	if v.IsCompound() {
		return Binding{Fields: v.Records[i]}
	}
	return Binding{Value: v.Scalars[i]}
}

// SystemConfig mirrors RawSystem after validation (no extra
// constraints beyond type-checking, so this is mostly a copy).
type SystemConfig struct {
	Enabled             bool
	IsolateCPUs         []int
	DisableASLR         bool
	DisableSMT          bool
	DisableCoreBoost    bool
	GovernorPerformance bool
}

// ResultBlock is a validated `results` entry.
type ResultBlock struct {
	Name     string
	Format   string
	Filename string
	Options  map[string]interface{}
}

var recognizedFormats = map[string]bool{
	"csv":        true,
	"table-md":   true,
	"bar-chart":  true,
	"scatter":    true,
	"box":        true,
	"violin":     true,
}

var recognizedMetrics = map[string]Metric{
	"time":   MetricTime,
	"utime":  MetricUTime,
	"stime":  MetricSTime,
	"rss":    MetricRSS,
	"stdout": MetricStdout,
	"stderr": MetricStderr,
}

// Validate enforces spec.md §4.2's schema, defaults, and cross-field
// invariants, returning a closed Config or the first
// *ConfigurationError encountered.
func (r *RawConfig) Validate() (*Config, error) {
	cfg := &Config{
		Setup:      r.Setup,
		Prepare:    r.Prepare,
		Conclude:   r.Conclude,
		Cleanup:    r.Cleanup,
		Cwd:        r.Cwd,
		Env:        r.Env,
		SaveOutput: r.SaveOutput,
	}

	// samples: positive integer, default 1.
	cfg.Samples = 1
	if r.Samples != nil {
		if *r.Samples <= 0 {
			return nil, configErrorf("samples", "must be a positive integer, got %d", *r.Samples)
		}
		cfg.Samples = *r.Samples
	}

	// matrix, in declaration order (spec.md §4.3/GLOSSARY: the
	// Cartesian product varies the last declared variable fastest).
	for _, entry := range r.Matrix {
		name, raw := entry.Name, entry.Values
		mv := MatrixVariable{Name: name}
		if raw.Records != nil {
			if len(raw.Records) == 0 {
				return nil, configErrorf("matrix."+name, "must be a non-empty list")
			}
			fields := fieldNames(raw.Records[0])
			for i, rec := range raw.Records {
				if !sameFields(fields, rec) {
					return nil, configErrorf(fmt.Sprintf("matrix.%s[%d]", name, i), "all records must share the same field names")
				}
			}
			mv.Records = raw.Records
		} else {
			if len(raw.Scalars) == 0 {
				return nil, configErrorf("matrix."+name, "must be a non-empty list")
			}
			mv.Scalars = raw.Scalars
		}
		cfg.Matrix = append(cfg.Matrix, mv)
	}

	declared := make(map[string]bool, len(cfg.Matrix))
	for _, mv := range cfg.Matrix {
		declared[mv.Name] = true
	}

	var err error
	if cfg.Exclude, err = validatePartials(r.Exclude, declared, "exclude"); err != nil {
		return nil, err
	}
	if cfg.Include, err = validatePartials(r.Include, declared, "include"); err != nil {
		return nil, err
	}

	// metrics: non-empty subset of the recognized set, default [time].
	if len(r.Metrics) == 0 {
		cfg.Metrics = []Metric{MetricTime}
	} else {
		seen := make(map[Metric]bool, len(r.Metrics))
		for i, name := range r.Metrics {
			m, ok := recognizedMetrics[name]
			if !ok {
				return nil, configErrorf(fmt.Sprintf("metrics[%d]", i), "unrecognized metric %q", name)
			}
			if !seen[m] {
				seen[m] = true
				cfg.Metrics = append(cfg.Metrics, m)
			}
		}
	}

	// benchmark / custom-metrics presence.
	stages, hasBenchmark, err := decodeBenchmark(&r.Benchmark)
	if err != nil {
		return nil, err
	}
	cfg.Benchmark = stages

	for i, entry := range r.CustomMetrics {
		if len(entry) != 1 {
			return nil, configErrorf(fmt.Sprintf("custom-metrics[%d]", i), "must be a single-entry mapping")
		}
		for name, command := range entry {
			cfg.Custom = append(cfg.Custom, CustomMetric{Name: name, Command: command})
		}
	}

	if !hasBenchmark && len(cfg.Custom) == 0 {
		return nil, configErrorf("", "at least one of `benchmark` or `custom-metrics` must be present")
	}

	// explicit stages + stdout/stderr built-ins collapse incompatibly.
	if stages.IsExplicit() {
		for _, m := range cfg.Metrics {
			if m == MetricStdout || m == MetricStderr {
				return nil, configErrorf("metrics", "cannot combine explicit benchmark stages with built-in metric %q", m)
			}
		}
	}

	// results
	if len(r.Results) > 0 {
		cfg.Results = make(map[string]ResultBlock, len(r.Results))
		for name, raw := range r.Results {
			if !recognizedFormats[raw.Format] {
				return nil, configErrorf(fmt.Sprintf("results.%s.format", name), "unrecognized format %q", raw.Format)
			}
			if raw.Filename == "" {
				return nil, configErrorf(fmt.Sprintf("results.%s.filename", name), "must be non-empty")
			}
			cfg.Results[name] = ResultBlock{
				Name:     name,
				Format:   raw.Format,
				Filename: raw.Filename,
				Options:  raw.Options,
			}
		}
	}

	if r.System != nil {
		cfg.System = SystemConfig{
			Enabled:             true,
			IsolateCPUs:         r.System.IsolateCPUs,
			DisableASLR:         r.System.DisableASLR,
			DisableSMT:          r.System.DisableSMT,
			DisableCoreBoost:    r.System.DisableCoreBoost,
			GovernorPerformance: r.System.GovernorPerformance,
		}
	}

	return cfg, nil
}

func fieldNames(rec map[string]Scalar) []string {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sameFields(expected []string, rec map[string]Scalar) bool {
	if len(rec) != len(expected) {
		return false
	}
	for _, f := range expected {
		if _, ok := rec[f]; !ok {
			return false
		}
	}
	return true
}

func validatePartials(raw []map[string]RawScalar, declared map[string]bool, path string) ([]Bindings, error) {
	var out []Bindings
	for i, entry := range raw {
		if len(entry) == 0 {
			return nil, configErrorf(fmt.Sprintf("%s[%d]", path, i), "must not be empty")
		}
		b := make(Bindings, len(entry))
		for name, val := range entry {
			if !declared[name] {
				return nil, configErrorf(fmt.Sprintf("%s[%d]", path, i), "references undeclared variable %q", name)
			}
			b[name] = Binding{Value: val}
		}
		out = append(out, b)
	}
	return out, nil
}

// decodeBenchmark distinguishes the implicit-list form from the
// named-stage-map form of the `benchmark` key (spec.md §3 "Stage").
func decodeBenchmark(node *yaml.Node) (BenchmarkStages, bool, error) {
	if node == nil || node.Kind == 0 {
		return BenchmarkStages{}, false, nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		var cmds []string
		if err := node.Decode(&cmds); err != nil {
			return BenchmarkStages{}, false, configErrorf("benchmark", "%v", err)
		}
		if len(cmds) == 0 {
			return BenchmarkStages{}, false, nil
		}
		return BenchmarkStages{Implicit: cmds}, true, nil
	case yaml.MappingNode:
		var stages []NamedStage
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			var cmds []string
			if err := node.Content[i+1].Decode(&cmds); err != nil {
				return BenchmarkStages{}, false, configErrorf("benchmark."+name, "%v", err)
			}
			stages = append(stages, NamedStage{Name: name, Commands: cmds})
		}
		if len(stages) == 0 {
			return BenchmarkStages{}, false, nil
		}
		return BenchmarkStages{Named: stages}, true, nil
	default:
		return BenchmarkStages{}, false, configErrorf("benchmark", "must be a list of commands or a mapping of stage name to command list")
	}
}
