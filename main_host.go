//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"rtslic/app"
	"rtslic/hal"
	"rtslic/internal/buildinfo"
)

var (
	demoOpts = struct {
		headless bool
		hz       int
		ticks    uint64
		budget   int
		trace    bool
		blink    uint32
		serial   uint32
	}{}

	rootCmd = &cobra.Command{
		Use:           "rtslic",
		Short:         "Priority scheduler with a software interrupt controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run the demo system",
		Long:  "Run the demo system in a window, or headless on the host timer.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config{
				Trace:       demoOpts.trace,
				BlinkEvery:  demoOpts.blink,
				SerialEvery: demoOpts.serial,
			}
			newApp := func(h hal.HAL) func() error {
				return app.NewWithConfig(h, cfg)
			}
			if !demoOpts.headless {
				return hal.RunWindow(newApp)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			err := hal.RunHeadless(ctx, newApp, hal.HeadlessConfig{
				Enabled:    true,
				Hz:         demoOpts.hz,
				Ticks:      demoOpts.ticks,
				StepBudget: demoOpts.budget,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
)

func init() {
	demoCmd.Flags().BoolVar(&demoOpts.headless, "headless", false, "Run without a window")
	demoCmd.Flags().IntVar(&demoOpts.hz, "hz", 60, "Timer rate in headless mode")
	demoCmd.Flags().Uint64Var(&demoOpts.ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever)")
	demoCmd.Flags().IntVar(&demoOpts.budget, "budget", 1, "Kernel steps per tick in headless mode")
	demoCmd.Flags().BoolVar(&demoOpts.trace, "trace", false, "Render the kernel trace on the display")
	demoCmd.Flags().Uint32Var(&demoOpts.blink, "blink", 50, "LED period in timer ticks")
	demoCmd.Flags().Uint32Var(&demoOpts.serial, "serial", 0, "Simulate a UART0 byte every N ticks (0 = off)")

	rootCmd.AddCommand(demoCmd, runCmd, checkCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtslic:", err)
		os.Exit(1)
	}
}
