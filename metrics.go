package benchalot

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// CommandResult is what the Metric Collector observes around a single
// shell invocation (spec.md §4.5).
type CommandResult struct {
	Wall     time.Duration
	UTime    time.Duration
	STime    time.Duration
	MaxRSS   int64 // mebibytes (1 MiB = 2^20 B)
	Stdout   string
	Stderr   string
	ExitCode int
	Failed   bool
}

// RunCommand executes command via a single shell invocation, capturing
// timing, resource usage, and output (spec.md §4.4 "Shell",
// §4.5 "Metric Collector"). rusage/peak-RSS come from
// (*os.ProcessState).SysUsage() rather than a live-process sampler:
// gopsutil-style polling would race the child's exit and cannot
// recover an already-exited process's peak figures (see
// SPEC_FULL.md's "Process resource accounting" entry).
func RunCommand(command, cwd string, env []string) CommandResult {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	wall := time.Since(start)

	result := CommandResult{
		Wall:   wall,
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}

	if state := cmd.ProcessState; state != nil {
		result.UTime = state.UserTime()
		result.STime = state.SystemTime()
		if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
			result.MaxRSS = maxRSSToMiB(ru.Maxrss)
		}
		result.ExitCode = state.ExitCode()
	}

	if err != nil {
		result.Failed = true
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	return result
}

// maxRSSToMiB converts a platform Rusage.Maxrss (KB on Linux, bytes on
// Darwin) into mebibytes. Benchalot targets POSIX shells (spec.md §4.4
// "Shell dependency"); Linux's ru_maxrss unit (kilobytes) is assumed.
func maxRSSToMiB(maxrss int64) int64 {
	return (maxrss * 1024) / (1 << 20)
}

// CommandMetrics returns the numeric values for the requested
// built-in metrics from a single command's result, keyed by metric;
// stdout/stderr in metrics are skipped.
func CommandMetrics(result CommandResult, metrics []Metric) map[Metric]float64 {
	out := make(map[Metric]float64, len(metrics))
	for _, m := range metrics {
		switch m {
		case MetricTime:
			out[m] = result.Wall.Seconds()
		case MetricUTime:
			out[m] = result.UTime.Seconds()
		case MetricSTime:
			out[m] = result.STime.Seconds()
		case MetricRSS:
			out[m] = float64(result.MaxRSS)
		}
	}
	return out
}

// CombineStageMetrics aggregates a stage's command results into one
// measured unit per spec.md §4.5: times are summed, peak RSS is
// maximized across the stage's commands.
func CombineStageMetrics(results []CommandResult, metrics []Metric) map[Metric]float64 {
	out := make(map[Metric]float64, len(metrics))
	for _, m := range metrics {
		switch m {
		case MetricTime:
			var total time.Duration
			for _, r := range results {
				total += r.Wall
			}
			out[m] = total.Seconds()
		case MetricUTime:
			var total time.Duration
			for _, r := range results {
				total += r.UTime
			}
			out[m] = total.Seconds()
		case MetricSTime:
			var total time.Duration
			for _, r := range results {
				total += r.STime
			}
			out[m] = total.Seconds()
		case MetricRSS:
			var peak int64
			for _, r := range results {
				if r.MaxRSS > peak {
					peak = r.MaxRSS
				}
			}
			out[m] = float64(peak)
		}
	}
	return out
}

// CustomMetricRow is one row parsed from a custom metric's stdout.
type CustomMetricRow struct {
	Stage string
	Value float64
}

// ParseCustomMetricOutput treats stdout as either a single numeric
// token (one row, stage == metric name) or a two-line CSV (header of
// stage names, then the same number of numeric fields; one row per
// stage), per spec.md §4.5. Malformed output is a *MetricParseError,
// which callers downgrade to a CommandFailure for that metric.
func ParseCustomMetricOutput(metricName, stdout string) ([]CustomMetricRow, error) {
	trimmed := strings.TrimSpace(stdout)
	lines := strings.Split(trimmed, "\n")

	if len(lines) == 1 {
		value, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
		if err != nil {
			return nil, &MetricParseError{Metric: metricName, Output: stdout, Reason: "not a single numeric token"}
		}
		return []CustomMetricRow{{Stage: metricName, Value: value}}, nil
	}

	if len(lines) != 2 {
		return nil, &MetricParseError{Metric: metricName, Output: stdout, Reason: "expected a single number or a two-line CSV"}
	}

	headers := strings.Split(lines[0], ",")
	fields := strings.Split(lines[1], ",")
	if len(headers) != len(fields) || len(headers) == 0 {
		return nil, &MetricParseError{Metric: metricName, Output: stdout, Reason: "header/value column count mismatch"}
	}

	rows := make([]CustomMetricRow, 0, len(headers))
	for i := range headers {
		stage := strings.TrimSpace(headers[i])
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, &MetricParseError{Metric: metricName, Output: stdout, Reason: "non-numeric CSV field"}
		}
		rows = append(rows, CustomMetricRow{Stage: stage, Value: value})
	}
	return rows, nil
}
