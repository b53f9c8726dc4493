// File: internal/orchestrator/orchestrator.go
// Description: Manages the high-level lifecycle of an automation run. It is
// injected with the planner and executor via interfaces, making it decoupled and testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

// Status strings published to the presentation layer.
const (
	StatusGeneratingPlan = "Generating plan..."
	StatusComplete       = "Automation complete!"
	statusSubtaskFormat  = "Executing subtask %d/%d: %s"
	statusFailedFormat   = "Automation failed: %s"
)

// Orchestrator runs the planner once and then each subtask in order.
type Orchestrator struct {
	logger   *zap.Logger
	planner  schemas.Planner
	executor schemas.SubtaskExecutor
	recorder schemas.EventRecorder
	metrics  *observability.Metrics
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventRecorder persists the run's status transitions and plan.
func WithEventRecorder(r schemas.EventRecorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithMetrics counts finished runs by outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates a new Orchestrator with its dependencies provided as interfaces.
func New(logger *zap.Logger, planner schemas.Planner, executor schemas.SubtaskExecutor, opts ...Option) (*Orchestrator, error) {
	if logger == nil || planner == nil || executor == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		logger:   logger.Named("orchestrator"),
		planner:  planner,
		executor: executor,
		recorder: schemas.NopRecorder{},
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run automates task starting from the given screen. Either every subtask
// completes and nil is returned, or the first planner or executor error is
// returned after "Automation failed: <message>" has been published.
func (o *Orchestrator) Run(ctx context.Context, task string, screenshot schemas.ScreenshotHandle, cb schemas.Callbacks) (err error) {
	runID := o.newRunID()
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("Orchestrator starting run", zap.String("task", task))
	o.record(ctx, logger, schemas.RunEvent{RunID: runID, Kind: schemas.EventRunStarted, Message: task})

	publish := func(text string) {
		cb.Status(text)
		o.record(ctx, logger, schemas.RunEvent{RunID: runID, Kind: schemas.EventStatus, Message: text})
	}

	defer func() {
		o.metrics.ObserveRun(err)
		finished := schemas.RunEvent{RunID: runID, Kind: schemas.EventRunFinished, Success: err == nil}
		if err != nil {
			finished.Message = err.Error()
			publish(fmt.Sprintf(statusFailedFormat, err.Error()))
			logger.Error("Automation failed", zap.Error(err))
		} else {
			publish(StatusComplete)
			logger.Info("Automation complete")
		}
		o.record(ctx, logger, finished)
	}()

	// 1. Plan once. There is no retry at this level.
	publish(StatusGeneratingPlan)
	subtasks, err := o.planner.Plan(ctx, task, screenshot)
	if err != nil {
		return err
	}
	o.record(ctx, logger, schemas.RunEvent{RunID: runID, Kind: schemas.EventPlan, Plan: subtasks})

	// 2. Execute subtasks strictly in order, threading the latest screenshot.
	current := screenshot
	for i, subtask := range subtasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		publish(fmt.Sprintf(statusSubtaskFormat, i+1, len(subtasks), subtask))

		next, err := o.executor.Execute(ctx, schemas.SubtaskRequest{
			RunID:      runID,
			Index:      i + 1,
			Total:      len(subtasks),
			Subtask:    subtask,
			Screenshot: current,
			Callbacks:  cb,
		})
		if next != "" {
			current = next
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, logger *zap.Logger, ev schemas.RunEvent) {
	ev.Timestamp = time.Now().UTC()
	// History writes must outlive a cancelled run so its failure is recorded.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(recCtx, ev); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to record run event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
