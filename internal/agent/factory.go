package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/stepwise/internal/governance"
	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/planning"
	"github.com/rahul/stepwise/internal/tools"
)

// Spec registers one worker type.
type Spec struct {
	Name        string
	Description string
	Prompt      string
	Tools       []string
}

// FactoryConfig carries what every worker shares.
type FactoryConfig struct {
	Model        llms.Model
	Agents       []Spec
	Prompts      *PromptManager
	Memory       *Memory
	Policy       governance.PolicyEngine
	Browser      *tools.BrowserSessions
	Search       tools.Tool
	Workspace    string
	MaxSteps     int
	ShellTimeout time.Duration
	Logger       *observability.Logger
}

// Factory builds a fresh LLMWorker per step. It implements
// planning.WorkerFactory.
type Factory struct {
	cfg    FactoryConfig
	agents map[string]Spec
	order  []Spec
}

var _ planning.WorkerFactory = (*Factory)(nil)

var knownTools = map[string]bool{
	"search":     true,
	"scraper":    true,
	"filesystem": true,
	"shell":      true,
	"browser":    true,
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent factory needs a model")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(nil)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = NewPromptManager("")
	}

	f := &Factory{cfg: cfg, agents: make(map[string]Spec, len(cfg.Agents))}
	for _, a := range cfg.Agents {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if key == "" {
			return nil, fmt.Errorf("agent name is required")
		}
		if _, dup := f.agents[key]; dup {
			return nil, fmt.Errorf("duplicate agent %q", a.Name)
		}
		for _, t := range a.Tools {
			if !knownTools[t] {
				return nil, fmt.Errorf("agent %s: unknown tool %q", a.Name, t)
			}
			if t == "search" && f.cfg.Search == nil {
				s, err := tools.NewSearchTool(10)
				if err != nil {
					return nil, fmt.Errorf("failed to create search tool: %w", err)
				}
				f.cfg.Search = s
			}
		}
		f.agents[key] = a
		f.order = append(f.order, a)
	}
	if f.cfg.Browser == nil {
		f.cfg.Browser = tools.NewBrowserSessions(true, 0)
	}
	return f, nil
}

// Descriptors lists the registered agents in registration order.
func (f *Factory) Descriptors() []planning.AgentDescriptor {
	out := make([]planning.AgentDescriptor, 0, len(f.order))
	for _, a := range f.order {
		out = append(out, planning.AgentDescriptor{Name: a.Name, Description: a.Description})
	}
	return out
}

func (f *Factory) CreateWorker(ctx context.Context, typeName, planID string, settings planning.InitSettings) (planning.Worker, error) {
	spec, ok := f.agents[strings.ToLower(typeName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", planning.ErrStepTypeNotFound, typeName)
	}

	prompt, err := f.cfg.Prompts.GetAgentPrompt(spec.Name, spec.Prompt)
	if err != nil {
		// A worker without a system prompt still works from the step text.
		f.cfg.Logger.Zap().Warn("no system prompt for agent",
			zap.String("plan_id", planID),
			zap.String("agent", spec.Name),
			zap.Error(err))
		prompt = ""
	}

	return &LLMWorker{
		Name:         spec.Name,
		PlanID:       planID,
		Settings:     settings,
		Model:        f.cfg.Model,
		Registry:     f.registry(spec, planID),
		Policy:       f.cfg.Policy,
		Memory:       f.cfg.Memory,
		SystemPrompt: prompt,
		MaxSteps:     f.cfg.MaxSteps,
		Logger:       f.cfg.Logger,
		Release:      f.cfg.Browser.Close,
	}, nil
}

func (f *Factory) registry(spec Spec, planID string) *tools.Registry {
	reg := tools.NewRegistry()
	workspace := f.cfg.Workspace
	if workspace == "" {
		workspace = "workspace"
	}
	for _, name := range spec.Tools {
		switch name {
		case "search":
			reg.Register(f.cfg.Search)
		case "scraper":
			reg.Register(tools.NewScraperTool())
		case "filesystem":
			reg.Register(tools.NewFilesystemTool(workspace, planID))
		case "shell":
			reg.Register(tools.NewShellTool(filepath.Join(workspace, planID), f.cfg.ShellTimeout))
		case "browser":
			reg.Register(f.cfg.Browser.Tool(planID))
		}
	}
	return reg
}
