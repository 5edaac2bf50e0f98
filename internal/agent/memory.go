package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// Memory keeps the conversation of each running plan so later steps see
// what earlier steps did. It implements planning.MemoryReleaser.
type Memory struct {
	mu        sync.Mutex
	histories map[string]*memory.ChatMessageHistory
	max       int
}

// NewMemory caps each plan's history at maxMessages; 0 means unbounded.
func NewMemory(maxMessages int) *Memory {
	return &Memory{
		histories: make(map[string]*memory.ChatMessageHistory),
		max:       maxMessages,
	}
}

func (m *Memory) history(planID string) *memory.ChatMessageHistory {
	h, ok := m.histories[planID]
	if !ok {
		h = memory.NewChatMessageHistory()
		m.histories[planID] = h
	}
	return h
}

// RecordStep appends one finished step as a human/AI exchange.
func (m *Memory) RecordStep(ctx context.Context, planID string, index int, requirement, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history(planID)
	if err := h.AddUserMessage(ctx, fmt.Sprintf("Step %d: %s", index, requirement)); err != nil {
		return err
	}
	if err := h.AddAIMessage(ctx, result); err != nil {
		return err
	}
	return m.trim(ctx, h)
}

func (m *Memory) trim(ctx context.Context, h *memory.ChatMessageHistory) error {
	if m.max <= 0 {
		return nil
	}
	msgs, err := h.Messages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) <= m.max {
		return nil
	}
	return h.SetMessages(ctx, msgs[len(msgs)-m.max:])
}

// Messages returns the plan's history as model input.
func (m *Memory) Messages(ctx context.Context, planID string) ([]llms.MessageContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[planID]
	if !ok {
		return nil, nil
	}

	msgs, err := h.Messages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	return out, nil
}

// Len reports how many messages planID holds.
func (m *Memory) Len(planID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histories[planID]
	if !ok {
		return 0
	}
	msgs, _ := h.Messages(context.Background())
	return len(msgs)
}

// ClearAgentMemory drops everything remembered for planID.
func (m *Memory) ClearAgentMemory(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, planID)
}
