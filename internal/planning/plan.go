package planning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// ExecutionStep is one unit of work within a plan.
type ExecutionStep struct {
	Index       int        `json:"index" yaml:"index"`
	Requirement string     `json:"requirement" yaml:"requirement"`
	Status      StepStatus `json:"status" yaml:"status"`
	Result      string     `json:"result,omitempty" yaml:"result,omitempty"`

	// AgentName and Worker are set once, by the executor, when a worker is
	// obtained for the step.
	AgentName string `json:"agent,omitempty" yaml:"-"`
	Worker    Worker `json:"-" yaml:"-"`
}

// StatusLine renders the step the way it is stored in execution records.
func (s *ExecutionStep) StatusLine() string {
	status := s.Status
	if status == "" {
		status = StepPending
	}
	return fmt.Sprintf("[%s] %d. %s", status, s.Index, s.Requirement)
}

// ExecutionPlan is an ordered set of steps sharing an identifier and parameters.
type ExecutionPlan struct {
	PlanID          string            `json:"plan_id" yaml:"id"`
	Title           string            `json:"title" yaml:"title"`
	Steps           []*ExecutionStep  `json:"steps" yaml:"steps"`
	ExecutionParams map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewPlan builds a plan with step indices assigned in order. An empty id is
// replaced with a random one.
func NewPlan(planID, title string, requirements ...string) *ExecutionPlan {
	if planID == "" {
		planID = "plan-" + uuid.NewString()
	}
	p := &ExecutionPlan{
		PlanID:          planID,
		Title:           title,
		ExecutionParams: map[string]string{},
	}
	for _, req := range requirements {
		p.AddStep(req)
	}
	return p
}

// AddStep appends a pending step with the next index.
func (p *ExecutionPlan) AddStep(requirement string) *ExecutionStep {
	step := &ExecutionStep{
		Index:       len(p.Steps),
		Requirement: requirement,
		Status:      StepPending,
	}
	p.Steps = append(p.Steps, step)
	return step
}

// Validate checks that step indices start at zero and have no gaps.
func (p *ExecutionPlan) Validate() error {
	if p.PlanID == "" {
		return fmt.Errorf("plan id is required")
	}
	for i, step := range p.Steps {
		if step == nil {
			return fmt.Errorf("step %d is nil", i)
		}
		if step.Index != i {
			return fmt.Errorf("%w: position %d has index %d", ErrInvalidStepIndex, i, step.Index)
		}
	}
	return nil
}

// StepLines returns the status line of every step, in plan order.
func (p *ExecutionPlan) StepLines() []string {
	lines := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		lines = append(lines, step.StatusLine())
	}
	return lines
}

// StatusSnapshot renders the plan and the state of its steps as text. With
// includeDetail the result text of every executed step is appended.
func (p *ExecutionPlan) StatusSnapshot(includeDetail bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Plan ID: %s\n", p.PlanID)
	fmt.Fprintf(&sb, "Title: %s\n", p.Title)

	if len(p.ExecutionParams) > 0 {
		keys := make([]string, 0, len(p.ExecutionParams))
		for k := range p.ExecutionParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nExecution parameters:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, p.ExecutionParams[k])
		}
	}

	sb.WriteString("\nSteps:\n")
	if len(p.Steps) == 0 {
		sb.WriteString("(no steps)\n")
	}
	for _, step := range p.Steps {
		sb.WriteString(step.StatusLine())
		sb.WriteByte('\n')
		if includeDetail && step.Result != "" {
			fmt.Fprintf(&sb, "   Result: %s\n", step.Result)
		}
	}
	return sb.String()
}

// ExecutionContext wraps one run of a plan.
type ExecutionContext struct {
	Plan        *ExecutionPlan
	UserRequest string
	Success     bool
}

// NewExecutionContext creates the context for a single run.
func NewExecutionContext(plan *ExecutionPlan, userRequest string) *ExecutionContext {
	return &ExecutionContext{Plan: plan, UserRequest: userRequest}
}

// PlanID returns the identifier of the plan being run.
func (c *ExecutionContext) PlanID() string {
	if c.Plan == nil {
		return ""
	}
	return c.Plan.PlanID
}
