package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/planning"
)

var (
	// showStatus enables the live status line
	showStatus bool
	// planIDOverride replaces the id from the plan file
	planIDOverride string
)

func init() {
	runCmd.Flags().BoolVar(&showStatus, "status", false, "show a live status line while running")
	runCmd.Flags().StringVar(&planIDOverride, "id", "", "plan id to use instead of the one in the file")
}

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute every step of a plan file",
	Long: `Execute every step of a plan file in order.

Each step is dispatched to the agent named by its leading [type] tag, or to
default_agent when it has none. A failing step is recorded and the plan moves
on to the next one.

Examples:
  stepwise run plans/weekly.yaml
  stepwise run --id weekly-42 --status plans/weekly.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ec, err := planning.LoadPlanFile(args[0])
	if err != nil {
		return err
	}
	if planIDOverride != "" {
		ec.Plan.PlanID = planIDOverride
	}
	if err := ec.Plan.Validate(); err != nil {
		return err
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	model, err := a.newModel()
	if err != nil {
		return err
	}
	factory, memory, err := a.newFactory(model)
	if err != nil {
		return err
	}
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.serveMetrics(ctx)
	if showStatus {
		observability.PrintBanner(cmd.ErrOrStderr())
		statusCtx, cancelStatus := context.WithCancel(ctx)
		defer cancelStatus()
		go liveStatus(statusCtx)
	}

	exec := planning.NewPlanExecutor(factory.Descriptors(), factory, a.records, memory, a.logger, a.metrics)
	runErr := exec.ExecuteAllSteps(ctx, ec)

	fmt.Fprintln(cmd.OutOrStdout(), ec.Plan.StatusSnapshot(true))

	if notifier != nil {
		if err := notifier.NotifyRun(context.WithoutCancel(ctx), ec, runErr); err != nil {
			a.zap.Warn("run notification failed", zap.Error(err))
		}
	}
	return runErr
}
