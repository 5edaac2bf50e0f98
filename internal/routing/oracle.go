package routing

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
)

// LLMOracle asks a chat model for the routing decision.
type LLMOracle struct {
	Model   llms.Model
	Options []llms.CallOption
}

func NewLLMOracle(model llms.Model, opts ...llms.CallOption) *LLMOracle {
	return &LLMOracle{Model: model, Options: opts}
}

func (o *LLMOracle) Decide(ctx context.Context, prompt string) (string, error) {
	if o.Model == nil {
		return "", errors.New("no model configured")
	}
	return llms.GenerateFromSinglePrompt(ctx, o.Model, prompt, o.Options...)
}
