// Command benchalot runs a benchmark configuration through the Plan
// Builder, Runner, Post-processor, and Output Driver (spec.md §6).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benchalot/benchalot"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		plan            bool
		resultsFromCSV  string
		includePaths    []string
		splitVar        string
		includeFailed   bool
		includeOutliers bool
		verbose         bool
		debug           bool
	)

	var runLogPath string

	cmd := &cobra.Command{
		Use:           "benchalot <config.yml>",
		Short:         "Run a matrix of shell benchmarks and report the results",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, runLog, err := benchalot.NewRunLogger(verbose, debug)
			if err != nil {
				return err
			}
			runLogPath = runLog.Name()

			runErr := func() error {
				configPath := args[0]

				raw, err := benchalot.LoadConfig(configPath)
				if err != nil {
					return err
				}

				if splitVar != "" {
					written, err := benchalot.Split(raw, splitVar, configPath)
					if err != nil {
						return err
					}
					for _, path := range written {
						fmt.Fprintln(cmd.OutOrStdout(), path)
					}
					return nil
				}

				cfg, err := raw.Validate()
				if err != nil {
					return err
				}

				if plan {
					return printPlan(cmd, cfg)
				}

				table, err := buildResultTable(cmd, cfg, log, resultsFromCSV, includePaths)
				if err != nil {
					return err
				}

				filtered := benchalot.Process(table, benchalot.PostprocessOptions{
					IncludeFailed:   includeFailed,
					IncludeOutliers: includeOutliers,
				})

				// csv blocks are the raw result export and get every
				// row; the other formats get the post-processed view.
				rawBlocks := map[string]benchalot.ResultBlock{}
				viewBlocks := map[string]benchalot.ResultBlock{}
				for name, block := range cfg.Results {
					if block.Format == "csv" {
						rawBlocks[name] = block
					} else {
						viewBlocks[name] = block
					}
				}
				if err := benchalot.RenderResults(table, rawBlocks); err != nil {
					return err
				}
				if err := benchalot.RenderResults(filtered, viewBlocks); err != nil {
					return err
				}

				return summarize(cmd, table)
			}()

			runLog.Close()
			if runErr == nil {
				os.Remove(runLogPath)
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&plan, "plan", "p", false, "print the expanded plan and exit")
	cmd.Flags().StringVarP(&resultsFromCSV, "results-from-csv", "r", "", "skip planning/execution; load sample rows from PATH")
	cmd.Flags().StringArrayVar(&includePaths, "include", nil, "concatenate sample rows from PATH before post-processing")
	cmd.Flags().StringVar(&splitVar, "split", "", "emit one partial configuration per value of VAR and exit")
	cmd.Flags().BoolVar(&includeFailed, "include-failed", false, "disable failure filtering in the post-processor")
	cmd.Flags().BoolVar(&includeOutliers, "include-outliers", false, "disable outlier filtering in the post-processor")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable info-level logging")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	if err := cmd.Execute(); err != nil {
		return exitCodeFor(err, runLogPath)
	}
	return 0
}

// exitCodeFor maps an error kind to the exit-code policy in spec.md
// §6/§7: configuration/system/IO/interrupt failures are non-zero;
// per-cell command failures never reach this layer as an error. The
// run's log file is left in place on any abnormal exit and its path
// reported, mirroring original_source/src/log.py's msg_log_file.
func exitCodeFor(err error, runLogPath string) int {
	fmt.Fprintln(os.Stderr, "benchalot:", err)
	if runLogPath != "" {
		fmt.Fprintln(os.Stderr, "benchalot: log file retained at", runLogPath)
	}
	return 1
}

func printPlan(cmd *cobra.Command, cfg *benchalot.Config) error {
	cells, err := benchalot.BuildPlan(cfg, time.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range cells {
		fmt.Fprintf(out, "cell %d: %s\n", c.ID, describeBindings(c.Point))
		for _, benchCmd := range benchmarkCommands(c.Benchmark) {
			fmt.Fprintf(out, "  %s\n", benchCmd)
		}
	}
	return nil
}

func describeBindings(p benchalot.MatrixPoint) string {
	if len(p.Order) == 0 {
		return "(no matrix variables)"
	}
	s := ""
	for i, name := range p.Order {
		if i > 0 {
			s += " "
		}
		b, _ := p.Get(name)
		if b.IsCompound() {
			s += fmt.Sprintf("%s=%v", name, b.Fields)
		} else {
			s += fmt.Sprintf("%s=%v", name, b.Value)
		}
	}
	return s
}

func benchmarkCommands(b benchalot.BenchmarkStages) []string {
	if b.IsExplicit() {
		var cmds []string
		for _, st := range b.Named {
			cmds = append(cmds, st.Commands...)
		}
		return cmds
	}
	return b.Implicit
}

// buildResultTable produces the Result Table either by loading
// --results-from-csv (skipping planning/execution entirely, per
// spec.md §6) or by building and running the plan, then appending any
// --include rows to either source.
func buildResultTable(cmd *cobra.Command, cfg *benchalot.Config, log zerolog.Logger, resultsFromCSV string, includePaths []string) (benchalot.Table, error) {
	var table benchalot.Table

	if resultsFromCSV != "" {
		loaded, err := benchalot.LoadCSVFile(resultsFromCSV)
		if err != nil {
			return benchalot.Table{}, err
		}
		table = loaded
	} else {
		rows, err := runPlan(cmd, cfg, log)
		if err != nil {
			return benchalot.Table{}, err
		}
		table = benchalot.NewTable(rows)
	}

	for _, path := range includePaths {
		included, err := benchalot.LoadCSVFile(path)
		if err != nil {
			return benchalot.Table{}, err
		}
		table = table.Append(included.Rows...)
	}

	return table, nil
}

// runPlan applies the system controls, builds the plan, and runs
// every cell in order, reporting progress per cell (spec.md §5, §7).
// A process-level interrupt is noticed by the Runner before a cell's
// next sample: that cell's remaining samples are skipped, its cleanup
// runs, and runPlan stops with an *Interrupted error, which fails the
// run.
func runPlan(cmd *cobra.Command, cfg *benchalot.Config, log zerolog.Logger) ([]benchalot.SampleRow, error) {
	cells, err := benchalot.BuildPlan(cfg, time.Now())
	if err != nil {
		return nil, err
	}

	controls := benchalot.NewSystemControls(cfg.System)
	if err := controls.Apply(); err != nil {
		return nil, err
	}
	defer func() {
		if err := controls.Revert(); err != nil {
			log.Warn().Err(err).Msg("reverting system controls")
		}
	}()

	launchDir, err := os.Getwd()
	if err != nil {
		return nil, &benchalot.IOError{Required: true, Err: err}
	}

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupted)

	var stop atomic.Bool
	go func() {
		<-interrupted
		stop.Store(true)
	}()

	runner := &benchalot.Runner{
		LaunchDir:   launchDir,
		Log:         log,
		Interrupted: stop.Load,
	}

	var rows []benchalot.SampleRow
	for _, c := range cells {
		log.Info().Int("cell", c.ID).Str("binding", describeBindings(c.Point)).Msg("running cell")
		cellRows, err := runner.RunCell(c)
		rows = append(rows, cellRows...)
		if err != nil {
			if _, ok := err.(*benchalot.Interrupted); ok {
				log.Warn().Int("cell", c.ID).Msg("interrupted")
				return rows, err
			}
			return rows, err
		}
	}
	return rows, nil
}

func summarize(cmd *cobra.Command, t benchalot.Table) error {
	failed := 0
	for _, r := range t.Rows {
		if r.Failed {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d failed sample row(s)\n", failed)
	}
	return nil
}
