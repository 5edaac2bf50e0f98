package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeRoute       EventType = "route"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeRecorder    EventType = "recorder"
	EventTypeCost        EventType = "cost"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType     `json:"type"`
	PlanID    string        `json:"plan_id,omitempty"`
	StepIndex *int          `json:"step_index,omitempty"`
	Message   string        `json:"message"`
	Data      any           `json:"data,omitempty"`
	Level     zapcore.Level `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

// Logger writes typed events through zap. LLM events are also appended to a
// size-capped JSONL file.
type Logger struct {
	zap        *zap.Logger
	mu         sync.Mutex
	llmLogPath string
	maxSize    int64
}

// NewZap builds a production zap logger at the given level, "json" or
// "console" encoded, writing to stderr.
func NewZap(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(NewTermWriter())), lvl)
	return zap.New(core), nil
}

// NewLogger wraps z. A nil z yields a no-op logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		zap:        z,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// WithLLMLogPath redirects the LLM transcript file.
func (l *Logger) WithLLMLogPath(path string) *Logger {
	l.llmLogPath = path
	return l
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	fields := []zap.Field{zap.String("type", string(evt.Type))}
	if evt.PlanID != "" {
		fields = append(fields, zap.String("plan_id", evt.PlanID))
	}
	if evt.StepIndex != nil {
		fields = append(fields, zap.Int("step_index", *evt.StepIndex))
	}
	if evt.Data != nil {
		fields = append(fields, zap.Any("data", evt.Data))
	}
	if ce := l.zap.Check(evt.Level, evt.Message); ce != nil {
		ce.Write(fields...)
	}

	if evt.Type == EventTypeLLM {
		data, err := json.Marshal(evt)
		if err != nil {
			l.zap.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.zap.Warn("failed to create log directory", zap.Error(err))
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.zap.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.zap.Warn("failed to write to log file", zap.Error(err))
	}
}

// Keeps a single .old generation.
func (l *Logger) rotateLogs() {
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) LogPlan(planID, message string, data any) {
	l.Log(Event{Type: EventTypePlan, PlanID: planID, Message: message, Data: data, Level: zapcore.InfoLevel})
}

func (l *Logger) LogStep(planID string, index int, message string, data any) {
	l.Log(Event{Type: EventTypeStep, PlanID: planID, StepIndex: &index, Message: message, Data: data, Level: zapcore.InfoLevel})
}

// LogStepError records a step that did not complete.
func (l *Logger) LogStepError(planID string, index int, message string, err error) {
	l.Log(Event{
		Type:      EventTypeStep,
		PlanID:    planID,
		StepIndex: &index,
		Message:   message,
		Data:      map[string]string{"error": err.Error()},
		Level:     zapcore.ErrorLevel,
	})
}

func (l *Logger) LogRoute(decision string, fallback bool, reason string) {
	lvl := zapcore.InfoLevel
	if fallback {
		lvl = zapcore.WarnLevel
	}
	l.Log(Event{
		Type:    EventTypeRoute,
		Message: "route decided",
		Data: map[string]any{
			"decision": decision,
			"fallback": fallback,
			"reason":   reason,
		},
		Level: lvl,
	})
}

func (l *Logger) LogToolCall(planID, tool, args string) {
	l.Log(Event{
		Type:    EventTypeToolCall,
		PlanID:  planID,
		Message: "tool call",
		Data:    map[string]string{"tool": tool, "args": args},
		Level:   zapcore.InfoLevel,
	})
}

func (l *Logger) LogPolicyDenied(planID, tool, reason string) {
	l.Log(Event{
		Type:    EventTypePolicyCheck,
		PlanID:  planID,
		Message: "tool call denied",
		Data:    map[string]string{"tool": tool, "reason": reason},
		Level:   zapcore.WarnLevel,
	})
}

// LogRecorderFailure notes a best-effort recorder write that failed.
func (l *Logger) LogRecorderFailure(planID, op string, err error) {
	l.Log(Event{
		Type:    EventTypeRecorder,
		PlanID:  planID,
		Message: "recorder unavailable",
		Data:    map[string]string{"op": op, "error": err.Error()},
		Level:   zapcore.WarnLevel,
	})
}

func (l *Logger) LogCost(planID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:    EventTypeCost,
		PlanID:  planID,
		Message: "token usage",
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
		Level: zapcore.DebugLevel,
	})
}

func (l *Logger) LogLLM(planID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:    EventTypeLLM,
		PlanID:  planID,
		Message: "llm exchange",
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
		Level: zapcore.DebugLevel,
	})
}
