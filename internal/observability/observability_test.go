package observability

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_LogStepFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLogger(zap.New(core))

	logger.LogStep("p1", 2, "step started", map[string]string{"agent": "websearch"})

	entries := logs.FilterMessage("step started").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "step", fields["type"])
	assert.Equal(t, "p1", fields["plan_id"])
	assert.EqualValues(t, 2, fields["step_index"])
}

func TestLogger_StepErrorIsErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLogger(zap.New(core))

	logger.LogStepError("p1", 0, "step failed", errors.New("boom"))

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "step failed", entries[0].Message)
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	logger := NewLogger(nil).WithLLMLogPath(path)

	logger.LogLLM("p1", "prompt text", "response text", nil)
	logger.LogLLM("p1", "second", "again", nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"llm"`)
	assert.Contains(t, lines[0], "response text")
}

func TestLogger_RotatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0644))

	logger := NewLogger(nil).WithLLMLogPath(path)
	logger.maxSize = 10
	logger.LogLLM("p1", "p", "r", nil)

	_, err := os.Stat(path + ".old")
	assert.NoError(t, err)
}

func TestNewZap_RejectsBadLevel(t *testing.T) {
	_, err := NewZap("loud", "json")
	assert.Error(t, err)

	z, err := NewZap("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, z)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePlanRun("success")
	m.ObserveStep("a", "completed", 1)
	m.ObserveRoute("oracle")
	m.ObserveRecorderFailure("save")
}

func TestMetrics_Counts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStep("websearch", "failed", 0.5)
	m.ObserveStep("websearch", "failed", 0.5)
	m.ObserveRoute("oracle_error")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("websearch", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteDecisionsTotal.WithLabelValues("oracle_error")))
}

func TestClearStatus_KeepsOtherPlan(t *testing.T) {
	SetStatus(RoleWorker, "p1", "step one")
	SetStatus(RoleWorker, "p2", "step two")
	defer SetStatus(RoleIdle, "", "")

	ClearStatus("p1")
	role, plan, task, _ := GetStatus()
	assert.Equal(t, RoleWorker, role)
	assert.Equal(t, "p2", plan)
	assert.Equal(t, "step two", task)

	ClearStatus("p2")
	role, plan, task, _ = GetStatus()
	assert.Equal(t, RoleIdle, role)
	assert.Empty(t, plan)
	assert.Empty(t, task)
}

func TestStatusLine(t *testing.T) {
	SetStatus(RoleWorker, "p1", "[websearch] find the latest release notes for the project")
	defer SetStatus(RoleIdle, "", "")

	line := StatusLine(1)
	assert.Contains(t, line, "WORKER")
	assert.Contains(t, line, "plan=p1")
	assert.Contains(t, line, "...")
}
