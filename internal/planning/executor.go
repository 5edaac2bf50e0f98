package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/recorder"
)

// PlanExecutor runs the steps of a plan one after another, each on a freshly
// created worker. A single failing step never aborts the rest of the plan.
//
// One executor may serve concurrent runs of different plans; all per-run
// state lives in the ExecutionContext owned by the calling goroutine.
type PlanExecutor struct {
	agents   []AgentDescriptor
	factory  WorkerFactory
	recorder Recorder
	memory   MemoryReleaser
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewPlanExecutor wires an executor. recorder, memory, logger and metrics may
// be nil.
func NewPlanExecutor(agents []AgentDescriptor, factory WorkerFactory, rec Recorder, memory MemoryReleaser, logger *observability.Logger, metrics *observability.Metrics) *PlanExecutor {
	if logger == nil {
		logger = observability.NewLogger(nil)
	}
	return &PlanExecutor{
		agents:   agents,
		factory:  factory,
		recorder: rec,
		memory:   memory,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ExecuteAllSteps executes every step of the plan in order and marks the run
// successful once all steps have been attempted. It returns an error only if
// the context has no plan or ctx is cancelled before the last step starts;
// steps not yet started then stay pending.
//
// Whatever happens, the plan's agent memory is released and the last worker
// that ran is cleared up before returning.
func (e *PlanExecutor) ExecuteAllSteps(ctx context.Context, ec *ExecutionContext) error {
	if ec == nil || ec.Plan == nil {
		return errors.New("execution context has no plan")
	}
	planID := ec.PlanID()

	var last Worker
	defer func() {
		if e.memory != nil {
			e.memory.ClearAgentMemory(planID)
		}
		if last != nil {
			last.ClearUp(planID)
		}
		observability.ClearStatus(planID)
	}()

	e.recordPlanStart(ctx, ec)
	e.logger.LogPlan(planID, "plan started", map[string]any{
		"title": ec.Plan.Title,
		"steps": len(ec.Plan.Steps),
	})

	for _, step := range ec.Plan.Steps {
		if err := ctx.Err(); err != nil {
			e.logger.LogPlan(planID, "plan cancelled", map[string]any{"next_step": step.Index})
			e.metrics.ObservePlanRun("cancelled")
			e.recordPlanEnd(ctx, ec)
			return err
		}
		if w := e.executeStep(ctx, ec, step); w != nil {
			last = w
		}
	}

	ec.Success = true
	e.metrics.ObservePlanRun("success")
	e.recordPlanEnd(ctx, ec)
	e.logger.LogPlan(planID, "plan finished", map[string]any{"success": true})
	return nil
}

// executeStep runs one step and returns the worker that ran it, if any.
func (e *PlanExecutor) executeStep(ctx context.Context, ec *ExecutionContext, step *ExecutionStep) (worker Worker) {
	planID := ec.PlanID()
	stepType := ResolveStepType(step.Requirement)
	agent := stepType
	start := e.now()

	defer e.recordStepEnd(ctx, ec, step)
	defer func() {
		if r := recover(); r != nil {
			step.Status = StepFailed
			step.Result = fmt.Sprintf("worker panicked: %v", r)
			if worker != nil {
				worker.SetState(StateFailed)
			}
			e.logger.LogStepError(planID, step.Index, "step failed", errors.New(step.Result))
			e.metrics.ObserveStep(agent, string(StepFailed), e.now().Sub(start).Seconds())
		}
	}()

	// Rendered here, not earlier, so the snapshot includes every prior result.
	settings := NewInitSettings(ec.Plan, step)

	w, name, err := e.dispatch(ctx, stepType, planID, settings)
	if err != nil {
		step.Status = StepFailed
		if errors.Is(err, ErrStepTypeNotFound) {
			step.Result = "No executor found for step type: " + stepType
			e.metrics.ObserveStep(agent, "no_executor", -1)
		} else {
			step.Result = err.Error()
			e.metrics.ObserveStep(agent, string(StepFailed), -1)
		}
		e.logger.LogStepError(planID, step.Index, "no executor for step", err)
		return nil
	}
	agent = name
	worker = w

	step.AgentName = name
	step.Worker = w
	step.Status = StepInProgress
	w.SetState(StateInProgress)
	observability.SetStatus(observability.RoleWorker, planID, step.Requirement)

	e.recordStepStart(ctx, ec, step)
	e.logger.LogStep(planID, step.Index, "step started", map[string]string{"agent": name})

	result, err := w.Run(ctx)
	if err != nil {
		step.Status = StepFailed
		step.Result = err.Error()
		w.SetState(StateFailed)
		e.logger.LogStepError(planID, step.Index, "step failed", err)
	} else {
		step.Status = StepCompleted
		step.Result = result
		w.SetState(StateCompleted)
		e.logger.LogStep(planID, step.Index, "step completed", map[string]string{"agent": name})
	}
	e.metrics.ObserveStep(agent, string(step.Status), e.now().Sub(start).Seconds())
	return w
}

// dispatch matches stepType case-insensitively against the registered agents
// and asks the factory for a new worker.
func (e *PlanExecutor) dispatch(ctx context.Context, stepType, planID string, settings InitSettings) (Worker, string, error) {
	for _, a := range e.agents {
		if !strings.EqualFold(a.Name, stepType) {
			continue
		}
		w, err := e.factory.CreateWorker(ctx, a.Name, planID, settings)
		if err != nil {
			return nil, a.Name, err
		}
		if w == nil {
			return nil, a.Name, fmt.Errorf("%w: %s", ErrStepTypeNotFound, stepType)
		}
		return w, a.Name, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrStepTypeNotFound, stepType)
}

func (e *PlanExecutor) recordPlanStart(ctx context.Context, ec *ExecutionContext) {
	e.updateRecord(ctx, ec, "plan_start", func(r *recorder.PlanExecutionRecord) {
		r.Title = ec.Plan.Title
		r.UserRequest = ec.UserRequest
		r.StartTime = e.now()
		r.EndTime = time.Time{}
		r.Completed = false
		r.CurrentStepIndex = 0
	})
}

func (e *PlanExecutor) recordStepStart(ctx context.Context, ec *ExecutionContext, step *ExecutionStep) {
	e.updateRecord(ctx, ec, "step_start", func(r *recorder.PlanExecutionRecord) {
		r.CurrentStepIndex = step.Index
	})
}

func (e *PlanExecutor) recordStepEnd(ctx context.Context, ec *ExecutionContext, step *ExecutionStep) {
	e.updateRecord(ctx, ec, "step_end", func(r *recorder.PlanExecutionRecord) {
		r.CurrentStepIndex = step.Index
	})
}

func (e *PlanExecutor) recordPlanEnd(ctx context.Context, ec *ExecutionContext) {
	e.updateRecord(ctx, ec, "plan_end", func(r *recorder.PlanExecutionRecord) {
		r.EndTime = e.now()
		r.Completed = ec.Success
	})
}

// updateRecord refreshes the step lines, applies mutate and saves. Recorder
// failures, panics included, are logged and otherwise ignored.
func (e *PlanExecutor) updateRecord(ctx context.Context, ec *ExecutionContext, op string, mutate func(*recorder.PlanExecutionRecord)) {
	if e.recorder == nil {
		return
	}
	planID := ec.PlanID()
	defer func() {
		if r := recover(); r != nil {
			e.logger.LogRecorderFailure(planID, op, fmt.Errorf("recorder panicked: %v", r))
			e.metrics.ObserveRecorderFailure(op)
		}
	}()
	// Records are still written after the run's context is cancelled.
	ctx = context.WithoutCancel(ctx)

	rec, err := e.recorder.GetOrCreateRecord(ctx, planID)
	if err != nil {
		e.logger.LogRecorderFailure(planID, op, err)
		e.metrics.ObserveRecorderFailure(op)
		return
	}
	rec.PlanID = planID
	rec.Steps = ec.Plan.StepLines()
	mutate(rec)
	if err := e.recorder.Save(ctx, rec); err != nil {
		e.logger.LogRecorderFailure(planID, op, err)
		e.metrics.ObserveRecorderFailure(op)
	}
}
