// Package routing picks which of several candidate workers should run next
// by asking a decision oracle, falling back to a fixed candidate when the
// oracle fails or answers with an unknown name.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/planning"
)

var (
	ErrNoOracle         = errors.New("decision oracle must be provided")
	ErrNoCandidates     = errors.New("at least one candidate must be registered")
	ErrDuplicateName    = errors.New("duplicate candidate name")
	ErrBlankCandidateID = errors.New("candidate name must not be blank")
)

// Oracle answers a natural-language routing prompt with free text.
type Oracle interface {
	Decide(ctx context.Context, prompt string) (string, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, prompt string) (string, error)

func (f OracleFunc) Decide(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Candidate is a worker the router may select.
type Candidate struct {
	Name        string
	Instruction string
	Worker      planning.Worker
}

// Config is validated once by New. Candidates keep their registration order;
// the first one is the fallback.
type Config struct {
	Candidates []Candidate
	Oracle     Oracle
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Router is safe for concurrent use; it keeps no state between decisions.
// An oracle answer selects the candidate whose name it equals exactly, after
// surrounding whitespace is trimmed.
type Router struct {
	candidates []Candidate
	byName     map[string]int
	oracle     Oracle
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// New validates cfg and builds a router.
func New(cfg Config) (*Router, error) {
	if cfg.Oracle == nil {
		return nil, ErrNoOracle
	}
	if len(cfg.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	r := &Router{
		candidates: make([]Candidate, 0, len(cfg.Candidates)),
		byName:     make(map[string]int, len(cfg.Candidates)),
		oracle:     cfg.Oracle,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if r.logger == nil {
		r.logger = observability.NewLogger(nil)
	}
	for _, c := range cfg.Candidates {
		if strings.TrimSpace(c.Name) == "" {
			return nil, ErrBlankCandidateID
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, c.Name)
		}
		r.byName[c.Name] = len(r.candidates)
		r.candidates = append(r.candidates, c)
	}
	return r, nil
}

// Decide returns the name of the candidate that should run next. It never
// fails: an oracle error or an unknown answer yields the first registered
// candidate.
func (r *Router) Decide(ctx context.Context, state any) string {
	return r.Route(ctx, state).Name
}

// Route is Decide returning the whole candidate.
func (r *Router) Route(ctx context.Context, state any) Candidate {
	prompt := r.BuildPrompt(state)
	fallback := r.candidates[0]

	answer, err := r.oracle.Decide(ctx, prompt)
	if err != nil {
		r.metrics.ObserveRoute("oracle_error")
		r.logger.LogRoute(fallback.Name, true, err.Error())
		return fallback
	}

	name := strings.TrimSpace(answer)
	if idx, ok := r.byName[name]; ok {
		r.metrics.ObserveRoute("oracle")
		r.logger.LogRoute(name, false, "")
		return r.candidates[idx]
	}

	r.metrics.ObserveRoute("invalid_answer")
	r.logger.LogRoute(fallback.Name, true, fmt.Sprintf("unknown candidate %q", answer))
	return fallback
}

// BuildPrompt renders the routing prompt for state.
func (r *Router) BuildPrompt(state any) string {
	var sb strings.Builder
	sb.WriteString("You are a routing decider. Based on the current state and the available agents, choose the single most suitable agent to handle the task.\n\n")
	sb.WriteString("Available agents:\n")
	for _, c := range r.candidates {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Instruction)
	}
	sb.WriteString("\nCurrent state:\n")
	sb.WriteString(RenderState(state))
	sb.WriteString("\n\nReply with the agent name only, exactly as listed, and nothing else.")
	return sb.String()
}

// Candidate returns the registered candidate called name.
func (r *Router) Candidate(name string) (Candidate, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Candidate{}, false
	}
	return r.candidates[idx], true
}

// Names lists candidate names in registration order.
func (r *Router) Names() []string {
	names := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		names[i] = c.Name
	}
	return names
}

// RenderState turns an arbitrary state snapshot into prompt text. Strings and
// Stringers are used as is; anything else is rendered as indented JSON, with
// %v as the last resort.
func RenderState(state any) string {
	switch s := state.(type) {
	case nil:
		return "(empty)"
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", state)
	}
	return string(data)
}
