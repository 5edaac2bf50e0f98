package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/stepwise/internal/planning"
	"github.com/rahul/stepwise/internal/recorder"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	return rec
}

func TestSQLiteRecorder_GetOrCreateIsIdempotent(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	first, err := rec.GetOrCreateRecord(ctx, "p1")
	require.NoError(t, err)
	second, err := rec.GetOrCreateRecord(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "p1", first.PlanID)
	assert.Empty(t, first.Steps)
	assert.True(t, first.StartTime.IsZero())
}

func TestSQLiteRecorder_SaveRoundTrip(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &recorder.PlanExecutionRecord{
		PlanID:           "p1",
		Title:            "digest",
		UserRequest:      "summarise",
		StartTime:        start,
		EndTime:          start.Add(time.Minute),
		Steps:            []string{"[completed] 0. a", "[failed] 1. b"},
		CurrentStepIndex: 1,
		Completed:        true,
	}
	require.NoError(t, rec.Save(ctx, in))

	out, err := rec.GetOrCreateRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "digest", out.Title)
	assert.Equal(t, "summarise", out.UserRequest)
	assert.True(t, start.Equal(out.StartTime))
	assert.True(t, start.Add(time.Minute).Equal(out.EndTime))
	assert.Equal(t, in.Steps, out.Steps)
	assert.Equal(t, 1, out.CurrentStepIndex)
	assert.True(t, out.Completed)

	in.Title = "renamed"
	require.NoError(t, rec.Save(ctx, in))
	out, err = rec.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", out.Title)
}

func TestSQLiteRecorder_GetMissing(t *testing.T) {
	rec := newTestRecorder(t)
	out, err := rec.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSQLiteRecorder_RejectsEmptyPlanID(t *testing.T) {
	rec := newTestRecorder(t)
	_, err := rec.GetOrCreateRecord(context.Background(), "")
	assert.ErrorIs(t, err, recorder.ErrEmptyPlanID)
	assert.ErrorIs(t, rec.Save(context.Background(), &recorder.PlanExecutionRecord{}), recorder.ErrEmptyPlanID)
}

func TestSQLiteRecorder_List(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := rec.GetOrCreateRecord(ctx, id)
		require.NoError(t, err)
	}

	all, err := rec.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := rec.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

type okWorker struct{ text string }

func (w okWorker) Run(ctx context.Context) (string, error) { return w.text, nil }
func (okWorker) SetState(planning.State) {}
func (okWorker) ClearUp(string) {}

type okFactory struct{}

func (okFactory) CreateWorker(ctx context.Context, typeName, planID string, s planning.InitSettings) (planning.Worker, error) {
	return okWorker{text: planID + "/" + s.CurrentStepIndex}, nil
}

func TestSQLiteRecorder_BacksPlanExecutor(t *testing.T) {
	rec := newTestRecorder(t)
	exec := planning.NewPlanExecutor(
		[]planning.AgentDescriptor{{Name: planning.DefaultStepType}},
		okFactory{}, rec, nil, nil, nil,
	)

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2"} {
		ec := planning.NewExecutionContext(planning.NewPlan(id, "t-"+id, "a", "b", "c"), "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, exec.ExecuteAllSteps(context.Background(), ec))
		}()
	}
	wg.Wait()

	for _, id := range []string{"p1", "p2"} {
		r, err := rec.Get(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "t-"+id, r.Title)
		assert.Equal(t, 2, r.CurrentStepIndex)
		assert.True(t, r.Completed)
		assert.Equal(t, []string{"[completed] 0. a", "[completed] 1. b", "[completed] 2. c"}, r.Steps)
	}
}
