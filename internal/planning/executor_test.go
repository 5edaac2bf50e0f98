package planning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/recorder"
)

type fakeWorker struct {
	mu       sync.Mutex
	typeName string
	settings InitSettings
	result   string
	err      error
	panicMsg string
	onRun    func(ctx context.Context)
	states   []State
	clearUps []string
	runs     int
}

func (w *fakeWorker) Run(ctx context.Context) (string, error) {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()
	if w.onRun != nil {
		w.onRun(ctx)
	}
	if w.panicMsg != "" {
		panic(w.panicMsg)
	}
	return w.result, w.err
}

func (w *fakeWorker) SetState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states = append(w.states, s)
}

func (w *fakeWorker) ClearUp(planID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearUps = append(w.clearUps, planID)
}

// fakeFactory builds a new fakeWorker per call using the per-type template.
type fakeFactory struct {
	mu       sync.Mutex
	build    func(typeName string, settings InitSettings) *fakeWorker
	created  []*fakeWorker
	names    []string
	failWith error
}

func (f *fakeFactory) CreateWorker(ctx context.Context, typeName, planID string, settings InitSettings) (Worker, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	w := &fakeWorker{result: "ok:" + typeName}
	if f.build != nil {
		w = f.build(typeName, settings)
	}
	w.typeName = typeName
	w.settings = settings

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, w)
	f.names = append(f.names, typeName)
	return w, nil
}

type fakeMemory struct {
	mu      sync.Mutex
	cleared []string
}

func (m *fakeMemory) ClearAgentMemory(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, planID)
}

type failingRecorder struct{}

func (failingRecorder) GetOrCreateRecord(ctx context.Context, planID string) (*recorder.PlanExecutionRecord, error) {
	return nil, errors.New("recorder offline")
}

func (failingRecorder) Save(ctx context.Context, record *recorder.PlanExecutionRecord) error {
	return errors.New("recorder offline")
}

type panickingRecorder struct{}

func (panickingRecorder) GetOrCreateRecord(ctx context.Context, planID string) (*recorder.PlanExecutionRecord, error) {
	panic("disk gone")
}

func (panickingRecorder) Save(ctx context.Context, record *recorder.PlanExecutionRecord) error {
	return nil
}

var testAgents = []AgentDescriptor{
	{Name: "WebSearch", Description: "searches the web"},
	{Name: "writer", Description: "writes text"},
	{Name: DefaultStepType, Description: "general purpose"},
}

func newTestExecutor(f WorkerFactory, rec Recorder, mem MemoryReleaser) *PlanExecutor {
	return NewPlanExecutor(testAgents, f, rec, mem, nil, nil)
}

func TestExecuteAllSteps_RunsStepsInOrder(t *testing.T) {
	factory := &fakeFactory{}
	rec := recorder.NewMemoryRecorder()
	exec := newTestExecutor(factory, rec, nil)

	plan := NewPlan("p1", "demo", "[websearch] find", "[Writer] write", "plain step")
	ec := NewExecutionContext(plan, "do it")

	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, []string{"WebSearch", "writer", DefaultStepType}, factory.names)
	for i, s := range plan.Steps {
		assert.Equal(t, StepCompleted, s.Status, "step %d", i)
		assert.Equal(t, "ok:"+factory.names[i], s.Result)
		assert.Equal(t, factory.names[i], s.AgentName)
		assert.Same(t, factory.created[i], s.Worker)
	}

	r, ok := rec.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "demo", r.Title)
	assert.Equal(t, "do it", r.UserRequest)
	assert.Equal(t, 2, r.CurrentStepIndex)
	assert.True(t, r.Completed)
	assert.False(t, r.StartTime.IsZero())
	assert.False(t, r.EndTime.IsZero())
	assert.Equal(t, plan.StepLines(), r.Steps)
	assert.Equal(t, "[completed] 2. plain step", r.Steps[2])
}

func TestExecuteAllSteps_FailingStepDoesNotAbort(t *testing.T) {
	factory := &fakeFactory{
		build: func(typeName string, s InitSettings) *fakeWorker {
			if s.CurrentStepIndex == "1" {
				return &fakeWorker{err: errors.New("search backend timed out")}
			}
			return &fakeWorker{result: "fine"}
		},
	}
	exec := newTestExecutor(factory, recorder.NewMemoryRecorder(), nil)

	plan := NewPlan("p1", "demo", "[writer] a", "[websearch] b", "[writer] c", "[writer] d")
	ec := NewExecutionContext(plan, "")

	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, StepFailed, plan.Steps[1].Status)
	assert.Equal(t, "search backend timed out", plan.Steps[1].Result)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, StepCompleted, plan.Steps[i].Status)
		assert.Equal(t, "fine", plan.Steps[i].Result)
	}
	assert.Len(t, factory.created, 4)
	assert.Equal(t, []State{StateInProgress, StateFailed}, factory.created[1].states)
}

func TestExecuteAllSteps_UnknownTypeIsPerStepFailure(t *testing.T) {
	factory := &fakeFactory{}
	exec := newTestExecutor(factory, recorder.NewMemoryRecorder(), nil)

	plan := NewPlan("p1", "demo", "[writer] a", "[painter] b", "[writer] c")
	ec := NewExecutionContext(plan, "")

	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, StepFailed, plan.Steps[1].Status)
	assert.Equal(t, "No executor found for step type: painter", plan.Steps[1].Result)
	assert.Nil(t, plan.Steps[1].Worker)
	assert.Equal(t, StepCompleted, plan.Steps[2].Status)
	assert.Len(t, factory.created, 2)
}

func TestExecuteAllSteps_FactoryErrorIsPerStepFailure(t *testing.T) {
	factory := &fakeFactory{failWith: errors.New("model unavailable")}
	exec := newTestExecutor(factory, nil, nil)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	ec := NewExecutionContext(plan, "")

	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))
	assert.True(t, ec.Success)
	for _, s := range plan.Steps {
		assert.Equal(t, StepFailed, s.Status)
		assert.Equal(t, "model unavailable", s.Result)
	}
}

func TestDispatch(t *testing.T) {
	factory := &fakeFactory{}
	exec := newTestExecutor(factory, nil, nil)

	w, name, err := exec.dispatch(context.Background(), "websearch", "p1", InitSettings{})
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.Equal(t, "WebSearch", name)

	_, _, err = exec.dispatch(context.Background(), "unknown", "p1", InitSettings{})
	assert.ErrorIs(t, err, ErrStepTypeNotFound)
}

func TestExecuteAllSteps_InitSettingsSeePriorResults(t *testing.T) {
	factory := &fakeFactory{
		build: func(typeName string, s InitSettings) *fakeWorker {
			return &fakeWorker{result: "result-" + s.CurrentStepIndex}
		},
	}
	exec := newTestExecutor(factory, nil, nil)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b", "[writer] c")
	plan.ExecutionParams["lang"] = "en"
	ec := NewExecutionContext(plan, "")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	third := factory.created[2].settings
	assert.Equal(t, "2", third.CurrentStepIndex)
	assert.Equal(t, "[writer] c", third.StepText)
	assert.Equal(t, map[string]string{"lang": "en"}, third.ExtraParams)
	assert.Contains(t, third.PlanStatus, "Result: result-0")
	assert.Contains(t, third.PlanStatus, "Result: result-1")
	assert.NotContains(t, third.PlanStatus, "Result: result-2")

	assert.NotContains(t, factory.created[0].settings.PlanStatus, "Result:")
}

func TestExecuteAllSteps_FreshWorkerPerStep(t *testing.T) {
	factory := &fakeFactory{}
	exec := newTestExecutor(factory, nil, nil)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b", "[writer] c")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), NewExecutionContext(plan, "")))

	require.Len(t, factory.created, 3)
	seen := map[*fakeWorker]bool{}
	for _, w := range factory.created {
		assert.False(t, seen[w])
		seen[w] = true
		assert.Equal(t, 1, w.runs)
	}
}

func TestExecuteAllSteps_Finalization(t *testing.T) {
	factory := &fakeFactory{}
	mem := &fakeMemory{}
	exec := newTestExecutor(factory, nil, mem)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), NewExecutionContext(plan, "")))

	assert.Equal(t, []string{"p1"}, mem.cleared)
	assert.Empty(t, factory.created[0].clearUps)
	assert.Equal(t, []string{"p1"}, factory.created[1].clearUps)
}

func TestExecuteAllSteps_FinalizationAfterPanic(t *testing.T) {
	factory := &fakeFactory{
		build: func(typeName string, s InitSettings) *fakeWorker {
			if s.CurrentStepIndex == "1" {
				return &fakeWorker{panicMsg: "nil map write"}
			}
			return &fakeWorker{result: "fine"}
		},
	}
	mem := &fakeMemory{}
	exec := newTestExecutor(factory, nil, mem)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	ec := NewExecutionContext(plan, "")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, StepFailed, plan.Steps[1].Status)
	assert.Contains(t, plan.Steps[1].Result, "nil map write")
	assert.Equal(t, []string{"p1"}, mem.cleared)
	assert.Equal(t, []string{"p1"}, factory.created[1].clearUps)
}

func TestExecuteAllSteps_EmptyPlan(t *testing.T) {
	mem := &fakeMemory{}
	rec := recorder.NewMemoryRecorder()
	exec := newTestExecutor(&fakeFactory{}, rec, mem)

	ec := NewExecutionContext(NewPlan("p0", "nothing"), "")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, []string{"p0"}, mem.cleared)
	r, ok := rec.Get("p0")
	require.True(t, ok)
	assert.Empty(t, r.Steps)
	assert.True(t, r.Completed)
}

func TestExecuteAllSteps_RecorderFailureIsNotFatal(t *testing.T) {
	factory := &fakeFactory{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	exec := NewPlanExecutor(testAgents, factory, failingRecorder{}, nil, nil, metrics)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	ec := NewExecutionContext(plan, "")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, StepCompleted, plan.Steps[1].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecorderFailureTotal.WithLabelValues("plan_start")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecorderFailureTotal.WithLabelValues("step_end")))
}

func TestExecuteAllSteps_RecorderPanicIsNotFatal(t *testing.T) {
	factory := &fakeFactory{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	exec := NewPlanExecutor(testAgents, factory, panickingRecorder{}, nil, nil, metrics)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	ec := NewExecutionContext(plan, "")
	require.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))

	assert.True(t, ec.Success)
	assert.Equal(t, StepCompleted, plan.Steps[0].Status)
	assert.Equal(t, StepCompleted, plan.Steps[1].Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecorderFailureTotal.WithLabelValues("step_end")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RecorderFailureTotal.WithLabelValues("plan_end")))
}

func TestExecuteAllSteps_CancelledContextStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	factory := &fakeFactory{
		build: func(typeName string, s InitSettings) *fakeWorker {
			return &fakeWorker{result: "fine", onRun: func(context.Context) { cancel() }}
		},
	}
	mem := &fakeMemory{}
	rec := recorder.NewMemoryRecorder()
	exec := newTestExecutor(factory, rec, mem)

	plan := NewPlan("p1", "demo", "[writer] a", "[writer] b")
	ec := NewExecutionContext(plan, "")

	err := exec.ExecuteAllSteps(ctx, ec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ec.Success)
	assert.Equal(t, StepCompleted, plan.Steps[0].Status)
	assert.Equal(t, StepPending, plan.Steps[1].Status)
	assert.Equal(t, []string{"p1"}, mem.cleared)
	assert.Equal(t, []string{"p1"}, factory.created[0].clearUps)

	r, ok := rec.Get("p1")
	require.True(t, ok)
	assert.False(t, r.Completed)
}

func TestExecuteAllSteps_NilPlan(t *testing.T) {
	exec := newTestExecutor(&fakeFactory{}, nil, nil)
	assert.Error(t, exec.ExecuteAllSteps(context.Background(), &ExecutionContext{}))
}

func TestExecuteAllSteps_ConcurrentPlansKeepSeparateRecords(t *testing.T) {
	rec := recorder.NewMemoryRecorder()
	factory := &fakeFactory{}
	exec := newTestExecutor(factory, rec, nil)

	plans := map[string]int{"p1": 3, "p2": 7}
	var wg sync.WaitGroup
	for id, n := range plans {
		steps := make([]string, n)
		for i := range steps {
			steps[i] = fmt.Sprintf("[writer] %s step %d", id, i)
		}
		ec := NewExecutionContext(NewPlan(id, id, steps...), "req-"+id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exec.ExecuteAllSteps(context.Background(), ec); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	for id, n := range plans {
		r, ok := rec.Get(id)
		require.True(t, ok)
		assert.Equal(t, "req-"+id, r.UserRequest)
		assert.Equal(t, n-1, r.CurrentStepIndex)
		require.Len(t, r.Steps, n)
		for _, line := range r.Steps {
			assert.Contains(t, line, id+" step")
		}
	}
}
