package schemas

import (
	"context"
	"time"
)

// -- Presentation Interface --

// Callbacks are invoked synchronously as an automation run progresses.
// Either field may be nil.
type Callbacks struct {
	OnStatus     func(text string)
	OnScreenshot func(handle ScreenshotHandle)
}

// Status publishes a status line if a sink is registered.
func (c Callbacks) Status(text string) {
	if c.OnStatus != nil {
		c.OnStatus(text)
	}
}

// Screenshot publishes a new screenshot if a sink is registered.
func (c Callbacks) Screenshot(handle ScreenshotHandle) {
	if c.OnScreenshot != nil {
		c.OnScreenshot(handle)
	}
}

// -- Engine Interfaces --

// Planner decomposes a task into an ordered list of subtask descriptions.
type Planner interface {
	Plan(ctx context.Context, task string, screenshot ScreenshotHandle) ([]string, error)
}

// SubtaskRequest is the input to one executor run.
type SubtaskRequest struct {
	RunID      string
	Index      int
	Total      int
	Subtask    string
	Screenshot ScreenshotHandle
	// Callbacks receive every screenshot captured while the subtask runs.
	Callbacks Callbacks
}

// SubtaskExecutor drives one subtask to completion and returns the latest
// screenshot handle.
type SubtaskExecutor interface {
	Execute(ctx context.Context, req SubtaskRequest) (ScreenshotHandle, error)
}

// -- Run History --

// EventKind classifies a run history entry.
type EventKind string

const (
	EventRunStarted  EventKind = "run_started"
	EventPlan        EventKind = "plan"
	EventStatus      EventKind = "status"
	EventAttempt     EventKind = "attempt"
	EventRunFinished EventKind = "run_finished"
)

// RunEvent is one entry in the history of an automation run.
type RunEvent struct {
	RunID   string
	Kind    EventKind
	Subtask string
	Attempt int
	Message string
	Success bool
	Plan    []string

	// Transcript must already be redacted.
	Transcript []Message
	Timestamp  time.Time
}

// EventRecorder persists run history.
type EventRecorder interface {
	Record(ctx context.Context, ev RunEvent) error
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, RunEvent) error { return nil }
