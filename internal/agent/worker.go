package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/stepwise/internal/governance"
	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/planning"
	"github.com/rahul/stepwise/internal/tools"
)

// ErrMaxSteps is returned when the model keeps calling tools past the
// reasoning budget.
var ErrMaxSteps = errors.New("reached the maximum reasoning steps")

// LLMWorker is a ReAct agent that carries out a single plan step.
type LLMWorker struct {
	Name         string
	PlanID       string
	Settings     planning.InitSettings
	Model        llms.Model
	Registry     *tools.Registry
	Policy       governance.PolicyEngine
	Memory       *Memory
	SystemPrompt string
	MaxSteps     int
	Logger       *observability.Logger
	// Release frees per-plan resources held by the worker's tools.
	Release func(planID string)

	mu    sync.Mutex
	state planning.State
}

func (w *LLMWorker) SetState(state planning.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

func (w *LLMWorker) State() planning.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == "" {
		return planning.StateNotStarted
	}
	return w.state
}

func (w *LLMWorker) ClearUp(planID string) {
	if w.Release != nil {
		w.Release(planID)
	}
}

// StepMessage renders the init settings as the worker's task.
func StepMessage(s planning.InitSettings) string {
	var sb strings.Builder
	sb.WriteString("CURRENT PLAN STATUS:\n")
	sb.WriteString(s.PlanStatus)
	fmt.Fprintf(&sb, "\n\nCURRENT STEP INDEX: %s\n", s.CurrentStepIndex)
	fmt.Fprintf(&sb, "STEP REQUIREMENT: %s\n", s.StepText)
	if len(s.ExtraParams) > 0 {
		keys := make([]string, 0, len(s.ExtraParams))
		for k := range s.ExtraParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nEXTRA PARAMETERS:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, s.ExtraParams[k])
		}
	}
	sb.WriteString("\nComplete only the current step and reply with its result.")
	return sb.String()
}

func (w *LLMWorker) Run(ctx context.Context) (string, error) {
	var messages []llms.MessageContent
	if w.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, w.SystemPrompt))
	}
	if w.Memory != nil {
		history, err := w.Memory.Messages(ctx, w.PlanID)
		if err != nil {
			w.Logger.Zap().Warn("failed to load plan memory", zap.String("plan_id", w.PlanID), zap.Error(err))
		}
		messages = append(messages, history...)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, StepMessage(w.Settings)))

	var llmTools []llms.Tool
	if w.Registry != nil {
		for _, t := range w.Registry.List() {
			llmTools = append(llmTools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}

	var opts []llms.CallOption
	if len(llmTools) > 0 {
		opts = append(opts, llms.WithTools(llmTools))
	}

	maxSteps := w.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	for i := 0; i < maxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := w.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", fmt.Errorf("model call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		choice := resp.Choices[0]
		w.Logger.LogLLM(w.PlanID, messages[len(messages)-1], choice.Content, choice.ToolCalls)
		w.logUsage(choice.GenerationInfo)

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			w.remember(ctx, choice.Content)
			return choice.Content, nil
		}

		for _, tc := range choice.ToolCalls {
			result := w.callTool(ctx, tc)
			var name string
			if tc.FunctionCall != nil {
				name = tc.FunctionCall.Name
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       name,
						Content:    result,
					},
				},
			})
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrMaxSteps, maxSteps)
}

// callTool runs one tool call. Every outcome, including a denial or a
// missing tool, becomes text the model can react to.
func (w *LLMWorker) callTool(ctx context.Context, tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return "Error: empty tool call"
	}
	name, args := tc.FunctionCall.Name, tc.FunctionCall.Arguments

	var tool tools.Tool
	if w.Registry != nil {
		tool = w.Registry.Get(name)
	}
	if tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	if w.Policy != nil {
		res, err := w.Policy.Evaluate(ctx, governance.Request{
			Tool:      name,
			Arguments: args,
			PlanID:    w.PlanID,
			Agent:     w.Name,
		})
		if err != nil {
			return fmt.Sprintf("Error: policy check failed: %v", err)
		}
		if res.Effect == governance.EffectDeny {
			w.Logger.LogPolicyDenied(w.PlanID, name, res.Reason)
			return fmt.Sprintf("Error: tool call blocked by policy: %s", res.Reason)
		}
	}

	w.Logger.LogToolCall(w.PlanID, name, args)
	out, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func (w *LLMWorker) remember(ctx context.Context, result string) {
	if w.Memory == nil {
		return
	}
	index, _ := strconv.Atoi(w.Settings.CurrentStepIndex)
	if err := w.Memory.RecordStep(ctx, w.PlanID, index, w.Settings.StepText, result); err != nil {
		w.Logger.Zap().Warn("failed to record step in plan memory", zap.String("plan_id", w.PlanID), zap.Error(err))
	}
}

func (w *LLMWorker) logUsage(info map[string]any) {
	prompt, okP := info["PromptTokens"].(int)
	completion, okC := info["CompletionTokens"].(int)
	if !okP && !okC {
		return
	}
	model, _ := info["Model"].(string)
	w.Logger.LogCost(w.PlanID, prompt, completion, model)
}
