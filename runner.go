package benchalot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes the lifecycle state machine for each cell
// (spec.md §4.4): Setup -> (Prepare -> Benchmark -> Conclude ->
// CustomMetrics) x samples -> Cleanup -> Done.
type Runner struct {
	LaunchDir string
	Log       zerolog.Logger
	// Interrupted is polled before each sample; when true the
	// remaining samples are skipped, the cell's cleanup runs and
	// RunCell returns *Interrupted. It is not polled between the
	// commands of a sample, so a sample already started runs to its
	// end first.
	Interrupted func() bool
}

// cellOutcome accumulates what RunCell needs to report and to hand to
// the caller for appending to the Result Table.
type cellOutcome struct {
	rows      []SampleRow
	saveLog   *strings.Builder
	saveFiles map[string]*strings.Builder
	err       error
}

// RunCell runs one cell's full lifecycle and returns its sample rows.
// Any CommandFailure is recorded on the affected sample rather than
// aborting the lifecycle (spec.md §4.4): setup/cleanup always run.
func (r *Runner) RunCell(c Cell) ([]SampleRow, error) {
	outcome := &cellOutcome{saveFiles: map[string]*strings.Builder{}}
	env := buildEnv(c.Env)
	cwd := r.resolveCwd(c.Cwd)

	r.runLifecycleList(c, outcome, "setup", c.Setup, -1, env, cwd)

	for sample := 0; sample < c.Samples; sample++ {
		if r.Interrupted != nil && r.Interrupted() {
			r.runLifecycleList(c, outcome, "cleanup", c.Cleanup, -1, env, cwd)
			r.flushSaveOutput(c, outcome)
			return outcome.rows, &Interrupted{Cell: c.ID}
		}

		prepareFailed := r.runLifecycleList(c, outcome, "prepare", c.Prepare, -1, env, cwd)

		benchRows, failed := r.runBenchmarkStages(c, outcome, sample, env, cwd)
		outcome.rows = append(outcome.rows, benchRows...)

		concludeFailed := r.runLifecycleList(c, outcome, "conclude", c.Conclude, -1, env, cwd)

		customFailed := r.runCustomMetrics(c, outcome, sample, env, cwd)
		failed = failed || prepareFailed || concludeFailed || customFailed

		if failed {
			r.markSampleFailed(outcome.rows, c.ID, sample)
		}
	}

	r.runLifecycleList(c, outcome, "cleanup", c.Cleanup, -1, env, cwd)

	r.flushSaveOutput(c, outcome)
	return outcome.rows, nil
}

// runLifecycleList runs an unmeasured command list (setup/prepare/
// conclude/cleanup) in order and reports whether any command exited
// non-zero; a non-zero exit does not stop the list or the lifecycle
// (spec.md §4.4).
func (r *Runner) runLifecycleList(c Cell, outcome *cellOutcome, stage string, commands []string, sample int, env []string, cwd string) bool {
	failed := false
	for _, cmd := range commands {
		result := RunCommand(cmd, cwd, env)
		r.appendSaveOutput(c, outcome, stage, cmd, result)
		if result.Failed {
			failed = true
			r.Log.Warn().Int("cell", c.ID).Str("stage", stage).Str("command", cmd).Int("exit", result.ExitCode).Msg("command exited non-zero")
		}
	}
	return failed
}

// runBenchmarkStages runs the measured part of one sample and returns
// its sample rows plus whether any command in it failed (spec.md
// §4.5). With explicit stages, each named stage's command list is one
// measured unit: times summed, peak RSS maximized, one row per active
// numeric metric (stdout/stderr are rejected in this form by
// Validate). With the implicit form, the whole benchmark command list
// is the single measured unit for numeric metrics (row's stage column
// equals the metric's own name, per spec.md §3); stdout/stderr
// instead contribute one row per command, keyed by the command's
// zero-based index, per spec.md §8's testable property.
func (r *Runner) runBenchmarkStages(c Cell, outcome *cellOutcome, sample int, env []string, cwd string) ([]SampleRow, bool) {
	var rows []SampleRow
	failed := false

	numericMetrics := filterMetrics(c.Metrics, func(m Metric) bool { return m.numeric() })

	if c.Benchmark.IsExplicit() {
		for _, st := range c.Benchmark.Named {
			results := r.execCommands(c, outcome, "benchmark:"+st.Name, st.Commands, env, cwd)
			if anyFailed(results) {
				failed = true
			}
			metrics := CombineStageMetrics(results, numericMetrics)
			for _, m := range numericMetrics {
				rows = append(rows, SampleRow{CellID: c.ID, Point: c.Point, Sample: sample, Stage: st.Name, Metric: m, Value: metrics[m]})
			}
		}
		markRowsFailed(rows, failed)
		return rows, failed
	}

	results := r.execCommands(c, outcome, "benchmark", c.Benchmark.Implicit, env, cwd)
	if anyFailed(results) {
		failed = true
	}

	metrics := CombineStageMetrics(results, numericMetrics)
	for _, m := range numericMetrics {
		rows = append(rows, SampleRow{CellID: c.ID, Point: c.Point, Sample: sample, Stage: string(m), Metric: m, Value: metrics[m]})
	}

	for _, m := range c.Metrics {
		if m != MetricStdout && m != MetricStderr {
			continue
		}
		for i, res := range results {
			value := res.Stdout
			if m == MetricStderr {
				value = res.Stderr
			}
			rows = append(rows, SampleRow{
				CellID:      c.ID,
				Point:       c.Point,
				Sample:      sample,
				Stage:       fmt.Sprintf("%d", i),
				Metric:      m,
				StringValue: value,
			})
		}
	}

	markRowsFailed(rows, failed)
	return rows, failed
}

func (r *Runner) execCommands(c Cell, outcome *cellOutcome, stage string, commands []string, env []string, cwd string) []CommandResult {
	results := make([]CommandResult, 0, len(commands))
	for _, cmd := range commands {
		res := RunCommand(cmd, cwd, env)
		r.appendSaveOutput(c, outcome, stage, cmd, res)
		if res.Failed {
			r.Log.Warn().Int("cell", c.ID).Str("stage", stage).Str("command", cmd).Int("exit", res.ExitCode).Msg("command exited non-zero")
		}
		results = append(results, res)
	}
	return results
}

func anyFailed(results []CommandResult) bool {
	for _, r := range results {
		if r.Failed {
			return true
		}
	}
	return false
}

func markRowsFailed(rows []SampleRow, failed bool) {
	if !failed {
		return
	}
	for i := range rows {
		rows[i].Failed = true
	}
}

func filterMetrics(metrics []Metric, keep func(Metric) bool) []Metric {
	out := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// runCustomMetrics runs each custom-metrics command and parses its
// output into one or more rows, returning whether any metric command
// failed or produced unparseable output (spec.md §4.5, §7).
func (r *Runner) runCustomMetrics(c Cell, outcome *cellOutcome, sample int, env []string, cwd string) bool {
	failed := false
	for _, cm := range c.CustomMetrics {
		result := RunCommand(cm.Command, cwd, env)
		r.appendSaveOutput(c, outcome, "custom-metrics:"+cm.Name, cm.Command, result)
		if result.Failed {
			failed = true
			continue
		}
		parsed, err := ParseCustomMetricOutput(cm.Name, result.Stdout)
		if err != nil {
			failed = true
			r.Log.Warn().Int("cell", c.ID).Str("metric", cm.Name).Err(err).Msg("custom metric parse failure")
			continue
		}
		for _, row := range parsed {
			outcome.rows = append(outcome.rows, SampleRow{
				CellID: c.ID,
				Point:  c.Point,
				Sample: sample,
				Stage:  row.Stage,
				Metric: Metric(cm.Name),
				Value:  row.Value,
				Failed: false,
			})
		}
	}
	return failed
}

// markSampleFailed sets Failed=true on every row from this
// (cell, sample) pair appended so far, satisfying the monotone
// failed_flag invariant (spec.md §3).
func (r *Runner) markSampleFailed(rows []SampleRow, cellID, sample int) {
	for i := range rows {
		if rows[i].CellID == cellID && rows[i].Sample == sample {
			rows[i].Failed = true
		}
	}
}

func (r *Runner) resolveCwd(cwd string) string {
	if cwd == "" {
		return r.LaunchDir
	}
	if filepath.IsAbs(cwd) {
		return cwd
	}
	return filepath.Join(r.LaunchDir, cwd)
}

func buildEnv(delta map[string]string) []string {
	env := os.Environ()
	if len(delta) == 0 {
		return env
	}
	merged := make(map[string]string, len(env)+len(delta))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range delta {
		merged[k] = v // delta values win on collision (spec.md §4.4)
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// appendSaveOutput accumulates a command's stdout+stderr into the
// save-output log(s), delimited by cell/stage (spec.md §4.4).
// save-output may itself be templated per cell, producing multiple
// files; STDOUT/STDERR route to the process's own standard streams
// instead of a file.
func (r *Runner) appendSaveOutput(c Cell, outcome *cellOutcome, stage, command string, result CommandResult) {
	if c.SaveOutput == "" {
		return
	}
	switch c.SaveOutput {
	case "STDOUT":
		fmt.Fprintf(os.Stdout, "--- cell %d stage %s ---\n%s%s", c.ID, stage, result.Stdout, result.Stderr)
		return
	case "STDERR":
		fmt.Fprintf(os.Stderr, "--- cell %d stage %s ---\n%s%s", c.ID, stage, result.Stdout, result.Stderr)
		return
	}
	buf, ok := outcome.saveFiles[c.SaveOutput]
	if !ok {
		buf = &strings.Builder{}
		outcome.saveFiles[c.SaveOutput] = buf
	}
	fmt.Fprintf(buf, "--- cell %d stage %s ---\n", c.ID, stage)
	if result.Stdout != "" {
		buf.WriteString(result.Stdout)
		buf.WriteByte('\n')
	}
	if result.Stderr != "" {
		buf.WriteString(result.Stderr)
		buf.WriteByte('\n')
	}
}

// flushSaveOutput writes every accumulated save-output log to disk.
// save-output is an optional log (spec.md §7): a write failure is
// never fatal to the plan, so each file is attempted independently and
// a failure is reported as a warning rather than aborting the
// remaining cells.
func (r *Runner) flushSaveOutput(c Cell, outcome *cellOutcome) {
	for path, buf := range outcome.saveFiles {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil && filepath.Dir(path) != "." {
			r.Log.Warn().Int("cell", c.ID).Str("path", path).Err(err).Msg("failed to create save-output directory")
			continue
		}
		if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
			r.Log.Warn().Int("cell", c.ID).Str("path", path).Err(err).Msg("failed to write save-output file")
		}
	}
}
