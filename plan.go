package benchalot

import "time"

// BuildPlan expands a validated Config into the ordered list of
// benchmark cells (spec.md §4.3):
//  1. Cartesian product of matrix variables, declaration order, last
//     variable varies fastest.
//  2. Drop any point covered by an `exclude` entry (partial-match).
//  3. Append `include` entries in order, never de-duplicated.
//  4. Produce one Cell per point with every template applied.
func BuildPlan(cfg *Config, now time.Time) ([]Cell, error) {
	points := cartesianProduct(cfg.Matrix)
	points = applyExcludes(points, cfg.Exclude)
	points = append(points, includePoints(cfg.Matrix, cfg.Include)...)

	datetime := PlanStartTime(now)
	cells := make([]Cell, 0, len(points))
	for i, p := range points {
		bindings := p.Bindings.Clone()
		bindings["datetime"] = Binding{Value: datetime}
		p.Bindings = bindings

		cell, err := resolveCell(i, p, cfg)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

// cartesianProduct generates every combination of the declared matrix
// variables, in declaration order, with the last variable varying
// fastest (spec.md §4.3, §8 testable property: no exclude/include ->
// count == product of variable sizes).
func cartesianProduct(vars []MatrixVariable) []MatrixPoint {
	if len(vars) == 0 {
		return []MatrixPoint{{Bindings: Bindings{}}}
	}
	order := make([]string, len(vars))
	for i, v := range vars {
		order[i] = v.Name
	}

	total := 1
	for _, v := range vars {
		total *= v.Len()
	}
	points := make([]MatrixPoint, total)
	for idx := 0; idx < total; idx++ {
		rem := idx
		bindings := make(Bindings, len(vars))
		// Iterate from the last variable so it varies fastest: the
		// standard mixed-radix decomposition of idx, least
		// significant digit first corresponds to the last variable.
		indices := make([]int, len(vars))
		for i := len(vars) - 1; i >= 0; i-- {
			n := vars[i].Len()
			indices[i] = rem % n
			rem /= n
		}
		for i, v := range vars {
			bindings[v.Name] = v.Binding(indices[i])
		}
		points[idx] = MatrixPoint{Order: order, Bindings: bindings}
	}
	return points
}

// applyExcludes drops any point whose bindings are a superset of any
// exclude entry (partial-match semantics, spec.md §4.3).
func applyExcludes(points []MatrixPoint, excludes []Bindings) []MatrixPoint {
	if len(excludes) == 0 {
		return points
	}
	out := points[:0:0]
	for _, p := range points {
		excluded := false
		for _, ex := range excludes {
			if matchesPartial(p.Bindings, ex) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, p)
		}
	}
	return out
}

func matchesPartial(full Bindings, partial Bindings) bool {
	for name, want := range partial {
		got, ok := full[name]
		if !ok || !scalarsEqual(got.Value, want.Value) {
			return false
		}
	}
	return true
}

func scalarsEqual(a, b Scalar) bool {
	return scalarString(a) == scalarString(b)
}

// includePoints turns complete include bindings into MatrixPoints,
// appended after the filtered product, in listed order, even if they
// duplicate existing points (spec.md §4.3, "tie-break").
func includePoints(vars []MatrixVariable, includes []Bindings) []MatrixPoint {
	if len(includes) == 0 {
		return nil
	}
	order := make([]string, len(vars))
	for i, v := range vars {
		order[i] = v.Name
	}
	points := make([]MatrixPoint, len(includes))
	for i, b := range includes {
		points[i] = MatrixPoint{Order: order, Bindings: b.Clone()}
	}
	return points
}

// resolveCell template-expands every command sequence, cwd, env, and
// save-output pattern for a single matrix point, producing a fully
// resolved Cell (spec.md §3 "Benchmark Cell").
func resolveCell(id int, p MatrixPoint, cfg *Config) (Cell, error) {
	var err error
	c := Cell{
		ID:      id,
		Point:   p,
		Metrics: cfg.Metrics,
		Samples: cfg.Samples,
	}

	if c.Setup, err = ExpandAll(cfg.Setup, p.Bindings); err != nil {
		return Cell{}, err
	}
	if c.Prepare, err = ExpandAll(cfg.Prepare, p.Bindings); err != nil {
		return Cell{}, err
	}
	if c.Conclude, err = ExpandAll(cfg.Conclude, p.Bindings); err != nil {
		return Cell{}, err
	}
	if c.Cleanup, err = ExpandAll(cfg.Cleanup, p.Bindings); err != nil {
		return Cell{}, err
	}

	if cfg.Benchmark.IsExplicit() {
		named := make([]NamedStage, len(cfg.Benchmark.Named))
		for i, st := range cfg.Benchmark.Named {
			cmds, err := ExpandAll(st.Commands, p.Bindings)
			if err != nil {
				return Cell{}, err
			}
			named[i] = NamedStage{Name: st.Name, Commands: cmds}
		}
		c.Benchmark = BenchmarkStages{Named: named}
	} else {
		cmds, err := ExpandAll(cfg.Benchmark.Implicit, p.Bindings)
		if err != nil {
			return Cell{}, err
		}
		c.Benchmark = BenchmarkStages{Implicit: cmds}
	}

	for _, cm := range cfg.Custom {
		cmd, err := ExpandTemplate(cm.Command, p.Bindings)
		if err != nil {
			return Cell{}, err
		}
		c.CustomMetrics = append(c.CustomMetrics, CustomMetric{Name: cm.Name, Command: cmd})
	}

	if c.Cwd, err = ExpandTemplate(cfg.Cwd, p.Bindings); err != nil {
		return Cell{}, err
	}

	if len(cfg.Env) > 0 {
		c.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			expanded, err := ExpandTemplate(v, p.Bindings)
			if err != nil {
				return Cell{}, err
			}
			c.Env[k] = expanded
		}
	}

	if c.SaveOutput, err = ExpandTemplate(cfg.SaveOutput, p.Bindings); err != nil {
		return Cell{}, err
	}

	return c, nil
}
