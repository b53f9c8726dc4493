// internal/orchestrator/orchestrator_test.go
package orchestrator

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
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/agent"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Mock Implementations for Testing --

type mockPlanner struct {
	mu       sync.Mutex
	calls    int
	subtasks []string
	err      error
}

func (m *mockPlanner) Plan(_ context.Context, _ string, _ schemas.ScreenshotHandle) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.subtasks, m.err
}

// mockExecutor returns a new screenshot per subtask and fails on the subtask
// listed in failOn.
type mockExecutor struct {
	mu       sync.Mutex
	requests []schemas.SubtaskRequest
	failOn   string
	err      error
}

func (m *mockExecutor) Execute(_ context.Context, req schemas.SubtaskRequest) (schemas.ScreenshotHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	shot := schemas.ScreenshotHandle(fmt.Sprintf("shot-after-%d", req.Index))
	req.Callbacks.Screenshot(shot)
	if req.Subtask == m.failOn {
		return shot, m.err
	}
	return shot, nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []schemas.RunEvent
}

func (r *memoryRecorder) Record(_ context.Context, ev schemas.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRecorder) kinds() []schemas.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// -- Test Fixture Setup --

type orchestratorTestFixture struct {
	Planner  *mockPlanner
	Executor *mockExecutor
	Recorder *memoryRecorder
	Metrics  *observability.Metrics
	Statuses []string
	Shots    []schemas.ScreenshotHandle
}

func setupTest(t *testing.T) *orchestratorTestFixture {
	t.Helper()
	return &orchestratorTestFixture{
		Planner:  &mockPlanner{},
		Executor: &mockExecutor{},
		Recorder: &memoryRecorder{},
		Metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *orchestratorTestFixture) callbacks() schemas.Callbacks {
	return schemas.Callbacks{
		OnStatus:     func(s string) { f.Statuses = append(f.Statuses, s) },
		OnScreenshot: func(h schemas.ScreenshotHandle) { f.Shots = append(f.Shots, h) },
	}
}

func (f *orchestratorTestFixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := New(zap.NewNop(), f.Planner, f.Executor, WithEventRecorder(f.Recorder), WithMetrics(f.Metrics))
	require.NoError(t, err)
	orch.newRunID = func() string { return "run-1" }
	return orch
}

// -- Test Cases --

func TestNewOrchestrator(t *testing.T) {
	fixture := setupTest(t)

	orch, err := New(zap.NewNop(), fixture.Planner, fixture.Executor)
	require.NoError(t, err)
	assert.NotNil(t, orch)

	_, err = New(nil, fixture.Planner, fixture.Executor)
	assert.Error(t, err, "Should fail with nil logger")
	_, err = New(zap.NewNop(), nil, fixture.Executor)
	assert.Error(t, err, "Should fail with nil planner")
	_, err = New(zap.NewNop(), fixture.Planner, nil)
	assert.Error(t, err, "Should fail with nil executor")
}

func TestRun_Success(t *testing.T) {
	fixture := setupTest(t)
	fixture.Planner.subtasks = []string{"Open Settings app", "Toggle Bluetooth"}
	orch := fixture.orchestrator(t)

	err := orch.Run(context.Background(), "Turn on Bluetooth", "shot-0", fixture.callbacks())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Generating plan...",
		"Executing subtask 1/2: Open Settings app",
		"Executing subtask 2/2: Toggle Bluetooth",
		"Automation complete!",
	}, fixture.Statuses)
	assert.Equal(t, 1, fixture.Planner.calls)

	reqs := fixture.Executor.requests
	require.Len(t, reqs, 2)
	assert.Equal(t, "Open Settings app", reqs[0].Subtask)
	assert.Equal(t, schemas.ScreenshotHandle("shot-0"), reqs[0].Screenshot)
	assert.Equal(t, "Toggle Bluetooth", reqs[1].Subtask)
	assert.Equal(t, schemas.ScreenshotHandle("shot-after-1"), reqs[1].Screenshot, "the latest screenshot is threaded to the next subtask")
	assert.Equal(t, []schemas.ScreenshotHandle{"shot-after-1", "shot-after-2"}, fixture.Shots)

	assert.Equal(t, []schemas.EventKind{
		schemas.EventRunStarted,
		schemas.EventStatus,
		schemas.EventPlan,
		schemas.EventStatus,
		schemas.EventStatus,
		schemas.EventStatus,
		schemas.EventRunFinished,
	}, fixture.Recorder.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(fixture.Metrics.Runs.WithLabelValues("ok")))
}

func TestRun_PlanningFailed(t *testing.T) {
	fixture := setupTest(t)
	fixture.Planner.err = fmt.Errorf("%w: no <subtask> entries in model reply", agent.ErrPlanningFailed)
	orch := fixture.orchestrator(t)

	err := orch.Run(context.Background(), "Do something", "shot-0", fixture.callbacks())
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrPlanningFailed)
	assert.Empty(t, fixture.Executor.requests, "no executor runs after a planning failure")
	assert.Equal(t, []string{
		"Generating plan...",
		"Automation failed: " + err.Error(),
	}, fixture.Statuses)
	assert.Equal(t, 1.0, testutil.ToFloat64(fixture.Metrics.Runs.WithLabelValues("error")))
}

func TestRun_SubtaskFailureAbortsRemaining(t *testing.T) {
	fixture := setupTest(t)
	fixture.Planner.subtasks = []string{"Open Settings", "Tap Bluetooth", "Toggle switch"}
	subtaskErr := &agent.SubtaskFailedError{Subtask: "Tap Bluetooth", Attempts: 5, Last: errors.New("touch: INVALID_ARGUMENT")}
	fixture.Executor.failOn = "Tap Bluetooth"
	fixture.Executor.err = subtaskErr
	orch := fixture.orchestrator(t)

	err := orch.Run(context.Background(), "Turn on Bluetooth", "shot-0", fixture.callbacks())
	require.Error(t, err)
	assert.Same(t, subtaskErr, err, "the executor error is returned verbatim")
	assert.ErrorIs(t, err, agent.ErrSubtaskFailed)
	assert.Len(t, fixture.Executor.requests, 2)

	last := fixture.Statuses[len(fixture.Statuses)-1]
	assert.Equal(t, "Automation failed: "+subtaskErr.Error(), last)
	assert.NotContains(t, fixture.Statuses, "Automation complete!")

	fixture.Recorder.mu.Lock()
	finished := fixture.Recorder.events[len(fixture.Recorder.events)-1]
	fixture.Recorder.mu.Unlock()
	assert.Equal(t, schemas.EventRunFinished, finished.Kind)
	assert.False(t, finished.Success)
	assert.Equal(t, subtaskErr.Error(), finished.Message)
}

func TestRun_Cancelled(t *testing.T) {
	fixture := setupTest(t)
	fixture.Planner.subtasks = []string{"Open Settings"}
	orch := fixture.orchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := orch.Run(ctx, "Turn on Bluetooth", "shot-0", fixture.callbacks())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fixture.Executor.requests)
	assert.Len(t, fixture.Recorder.kinds(), 5, "history is still written for a cancelled run")
}

func TestRun_NilCallbacks(t *testing.T) {
	fixture := setupTest(t)
	fixture.Planner.subtasks = []string{"Open Settings"}
	orch := fixture.orchestrator(t)

	assert.NotPanics(t, func() {
		require.NoError(t, orch.Run(context.Background(), "task", "shot-0", schemas.Callbacks{}))
	})
}
