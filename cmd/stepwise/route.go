package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rahul/stepwise/internal/planning"
	"github.com/rahul/stepwise/internal/routing"
	"github.com/rahul/stepwise/pkg/config"
)

var (
	// execRoute runs the chosen agent on the state
	execRoute bool
)

func init() {
	routeCmd.Flags().BoolVar(&execRoute, "exec", false, "run the chosen agent on the state")
}

var routeCmd = &cobra.Command{
	Use:   "route <state>",
	Short: "Ask the model which configured route should handle a state",
	Long: `Ask the model to choose one of the router candidates from the config for
the given state. An unknown answer or a model error selects the first
candidate.

Examples:
  stepwise route "the user wants this week's Go release notes"
  stepwise route --exec "summarise the notes in workspace/notes.md"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

func runRoute(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Router.Candidates) == 0 {
		return errors.New("no router candidates configured")
	}

	model, err := a.newModel()
	if err != nil {
		return err
	}
	factory, memory, err := a.newFactory(model)
	if err != nil {
		return err
	}

	state := strings.Join(args, " ")
	planID := "route-" + uuid.NewString()
	defer memory.ClearAgentMemory(planID)

	router, err := buildRouter(cmd.Context(), a.cfg.Router.Candidates, factory, planID, state, routing.NewLLMOracle(model), a)
	if err != nil {
		return err
	}

	chosen := router.Route(cmd.Context(), state)
	fmt.Fprintln(cmd.OutOrStdout(), chosen.Name)
	if !execRoute {
		return nil
	}

	defer chosen.Worker.ClearUp(planID)
	chosen.Worker.SetState(planning.StateInProgress)
	out, err := chosen.Worker.Run(cmd.Context())
	if err != nil {
		chosen.Worker.SetState(planning.StateFailed)
		return err
	}
	chosen.Worker.SetState(planning.StateCompleted)
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// buildRouter creates one worker per configured route, each primed with
// state as its step.
func buildRouter(ctx context.Context, routes []config.RouteConfig, factory planning.WorkerFactory, planID, state string, oracle routing.Oracle, a *app) (*routing.Router, error) {
	settings := planning.InitSettings{
		PlanStatus:       "Routing request:\n" + state,
		CurrentStepIndex: "0",
		StepText:         state,
	}

	candidates := make([]routing.Candidate, 0, len(routes))
	for _, rc := range routes {
		w, err := factory.CreateWorker(ctx, rc.Agent, planID, settings)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}
		candidates = append(candidates, routing.Candidate{
			Name:        rc.Name,
			Instruction: rc.Instruction,
			Worker:      w,
		})
	}

	cfg := routing.Config{Candidates: candidates, Oracle: oracle}
	if a != nil {
		cfg.Logger = a.logger
		cfg.Metrics = a.metrics
	}
	return routing.New(cfg)
}
