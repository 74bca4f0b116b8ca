package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	escalateFlags := &EscalateFlags{}
	statusFlags := &StatusFlags{}
	serveFlags := &ServeFlags{}
	demoFlags := &DemoServiceFlags{}

	vigilCommand := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(vigilCommand, globalFlags, runFlags),
		createEscalateCommand(vigilCommand, globalFlags, escalateFlags),
		createStatusCommand(vigilCommand, globalFlags, statusFlags),
		createServeCommand(vigilCommand, globalFlags, serveFlags),
		createDemoServiceCommand(vigilCommand, demoFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Scheduled service run supervisor with failure escalation",
		Long: `Vigil runs an HTTP service for a bounded window under an external
scheduler, verifies it came up healthy, stops it cleanly when the window
ends, and escalates notifications as consecutive failures accumulate.

Examples:
  vigil run --config=vigil.toml            # one supervised run
  vigil run --config=vigil.toml --escalate # run and record the outcome
  vigil escalate failure --config=vigil.toml
  vigil status --config=vigil.toml
  vigil serve --config=vigil.toml          # status API + metrics`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "vigil.toml", "path to TOML config file")
	return root
}

func createRunCommand(c command, global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one supervised invocation of the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Run(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Escalate, "escalate", false, "record the run outcome in the failure counter")
	return cmd
}

func createEscalateCommand(c command, global *GlobalFlags, flags *EscalateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Record a run outcome in the failure counter",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "failure",
			Short: "Record a failed run and notify by tier",
			RunE: func(cmd *cobra.Command, args []string) error {
				flags.ConfigPath = global.ConfigPath
				return c.EscalateFailure(*flags)
			},
		},
		&cobra.Command{
			Use:   "success",
			Short: "Record a clean run and reset the failure counter",
			RunE: func(cmd *cobra.Command, args []string) error {
				flags.ConfigPath = global.ConfigPath
				return c.EscalateSuccess(*flags)
			},
		},
	)
	return cmd
}

func createStatusCommand(c command, global *GlobalFlags, flags *StatusFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last run record and failure streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Status(*flags)
		},
	}
}

func createServeCommand(c command, global *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = global.ConfigPath
			return c.Serve(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "base path for API routes")
	return cmd
}

func createDemoServiceCommand(c command, flags *DemoServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo-service",
		Short: "Run the built-in sample HTTP service",
		Long: `Runs a small HTTP application with health and task endpoints,
useful as the supervised command when trying vigil out. With --auto-run it
executes its task once and exits, the shape a scheduled run expects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DemoService(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "listen address (defaults to VIGIL_SERVICE_HOST/PORT)")
	cmd.Flags().BoolVar(&flags.AutoRun, "auto-run", false, "run the task once and exit")
	cmd.Flags().DurationVar(&flags.AutoRunDelay, "auto-run-delay", 0, "delay before the auto-run task starts")
	return cmd
}
