package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request is a tool call a worker wants to make.
type Request struct {
	Tool      string
	Arguments string
	PlanID    string
	Agent     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// RuleEngine denies by tool name, by tool name per agent type, and by
// argument pattern. Rules are added at wiring time and only read afterwards.
type RuleEngine struct {
	DeniedTools      map[string]bool
	DeniedAgentTools map[string]map[string]bool
	DeniedRegex      []*regexp.Regexp
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{
		DeniedTools:      make(map[string]bool),
		DeniedAgentTools: make(map[string]map[string]bool),
	}
}

// NewRuleEngineFromConfig builds an engine from plain rule lists.
func NewRuleEngineFromConfig(deniedTools, deniedPatterns []string) (*RuleEngine, error) {
	e := NewRuleEngine()
	for _, t := range deniedTools {
		e.DenyTool(t)
	}
	for _, p := range deniedPatterns {
		if err := e.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
	}
	return e, nil
}

func (e *RuleEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

// DenyToolForAgent blocks a tool for one agent type only.
func (e *RuleEngine) DenyToolForAgent(agent, tool string) {
	if e.DeniedAgentTools[agent] == nil {
		e.DeniedAgentTools[agent] = make(map[string]bool)
	}
	e.DeniedAgentTools[agent][tool] = true
}

func (e *RuleEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *RuleEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}
	if e.DeniedAgentTools[req.Agent][req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is not available to agent '%s'", req.Tool, req.Agent),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
