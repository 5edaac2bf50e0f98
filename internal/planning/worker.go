package planning

import (
	"context"
	"errors"
	"strconv"

	"github.com/rahul/stepwise/internal/recorder"
)

var (
	// ErrStepTypeNotFound is returned when no registered worker type matches
	// the type tag of a step.
	ErrStepTypeNotFound = errors.New("no agent executor found for step type")
	// ErrInvalidStepIndex is returned by Validate for non-contiguous plans.
	ErrInvalidStepIndex = errors.New("step indices must be contiguous from zero")
)

// State is the lifecycle state the executor pushes into a worker.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Worker executes exactly one step. Instances are never reused across steps.
type Worker interface {
	Run(ctx context.Context) (string, error)
	SetState(state State)
	ClearUp(planID string)
}

// Keys used when the init settings are rendered as a map.
const (
	PlanStatusKey       = "planStatus"
	CurrentStepIndexKey = "currentStepIndex"
	StepTextKey         = "stepText"
	ExtraParamsKey      = "extraParams"
)

// InitSettings is everything a worker learns about the plan it serves.
type InitSettings struct {
	PlanStatus       string
	CurrentStepIndex string
	StepText         string
	ExtraParams      map[string]string
}

// NewInitSettings builds the bundle for a step. The plan status is rendered
// at call time so it reflects every step executed so far.
func NewInitSettings(plan *ExecutionPlan, step *ExecutionStep) InitSettings {
	return InitSettings{
		PlanStatus:       plan.StatusSnapshot(true),
		CurrentStepIndex: strconv.Itoa(step.Index),
		StepText:         step.Requirement,
		ExtraParams:      plan.ExecutionParams,
	}
}

// Map returns the settings keyed by their well-known names.
func (s InitSettings) Map() map[string]any {
	return map[string]any{
		PlanStatusKey:       s.PlanStatus,
		CurrentStepIndexKey: s.CurrentStepIndex,
		StepTextKey:         s.StepText,
		ExtraParamsKey:      s.ExtraParams,
	}
}

// AgentDescriptor describes a registered worker type.
type AgentDescriptor struct {
	Name        string
	Description string
}

// WorkerFactory constructs a fresh worker for one step invocation.
type WorkerFactory interface {
	CreateWorker(ctx context.Context, typeName, planID string, settings InitSettings) (Worker, error)
}

// Recorder stores per-plan lifecycle records.
type Recorder interface {
	GetOrCreateRecord(ctx context.Context, planID string) (*recorder.PlanExecutionRecord, error)
	Save(ctx context.Context, record *recorder.PlanExecutionRecord) error
}

// MemoryReleaser drops the conversational memory the LLM layer holds for a plan.
type MemoryReleaser interface {
	ClearAgentMemory(planID string)
}
