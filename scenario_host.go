//go:build !tinygo

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"rtslic/hal"
	"rtslic/scenario"
)

var (
	runOpts = struct {
		verbose bool
		trace   bool
	}{}

	runCmd = &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios and check their expectations",
		Long: "Run each scenario file (or builtin scenario name) against the kernel and " +
			"compare the result with its expect block. Without arguments every builtin runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forScenarios(cmd.OutOrStdout(), args, runScenario)
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check [scenario...]",
		Short: "Validate scenario task tables without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return forScenarios(cmd.OutOrStdout(), args, func(w io.Writer, f *scenario.File) error {
				_, err := f.Build(nil)
				return f.CheckBuild(err)
			})
		},
	}
)

func init() {
	runCmd.Flags().BoolVarP(&runOpts.verbose, "verbose", "v", false, "Print task log output")
	runCmd.Flags().BoolVar(&runOpts.trace, "trace", false, "Print the kernel trace")
}

// writerLogger adapts an io.Writer to hal.Logger for the kernel's own lines.
type writerLogger struct{ w io.Writer }

func (l writerLogger) WriteLineString(s string) { fmt.Fprintln(l.w, s) }
func (l writerLogger) WriteLineBytes(b []byte)  { fmt.Fprintln(l.w, string(b)) }

func forScenarios(w io.Writer, names []string, fn func(io.Writer, *scenario.File) error) error {
	if len(names) == 0 {
		names = scenario.Builtin()
	}
	failed := 0
	for _, name := range names {
		f, err := scenario.Load(name)
		if err == nil {
			err = fn(w, f)
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "ok   %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(names))
	}
	return nil
}

func runScenario(w io.Writer, f *scenario.File) error {
	var log hal.Logger
	if runOpts.verbose {
		log = writerLogger{w: w}
	}
	sys, err := f.Build(log)
	if err != nil || f.Expect.BuildError != "" {
		return f.CheckBuild(err)
	}
	res, err := sys.Run()
	if err != nil {
		return err
	}
	err = f.Check(res)
	if runOpts.verbose || errors.Is(err, scenario.ErrMismatch) {
		for _, line := range res.Log {
			fmt.Fprintln(w, "  log:", line)
		}
	}
	if runOpts.trace || errors.Is(err, scenario.ErrMismatch) {
		for _, line := range res.Trace {
			fmt.Fprintln(w, "  ", line)
		}
	}
	return err
}
