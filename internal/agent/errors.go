// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

// ErrorCode is a string type used for structured error reporting from the
// gateway and the executor. Codes are surfaced to the model in tool results.
type ErrorCode string

const (
	// -- Tool contract errors --
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeUnknownTool     ErrorCode = "UNKNOWN_TOOL"

	// -- Device errors --
	ErrCodeDriverFailure       ErrorCode = "DRIVER_ERROR"
	ErrCodeServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeGeometryUnavailable ErrorCode = "GEOMETRY_UNAVAILABLE"
	ErrCodeNoFocusedField      ErrorCode = "NO_FOCUSED_FIELD"
	ErrCodeScreenshotFailed    ErrorCode = "SCREENSHOT_FAILED"

	// -- Model errors --
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeProtocol  ErrorCode = "PROTOCOL_ERROR"

	// -- Attempt outcomes --
	ErrCodeSubtaskReportedFailure ErrorCode = "SUBTASK_REPORTED_FAILURE"
	ErrCodeStepBudgetExhausted    ErrorCode = "STEP_BUDGET_EXHAUSTED"
)

var (
	// ErrPlanningFailed is returned when the model reply yields no subtasks.
	ErrPlanningFailed = errors.New("planning failed")
	// ErrSubtaskFailed is matched by every *SubtaskFailedError.
	ErrSubtaskFailed = errors.New("subtask failed")
)

// TransportError wraps a network or protocol failure talking to the model.
type TransportError struct {
	Code ErrorCode
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToolArgumentError reports a tool call whose arguments violate the tool contract.
type ToolArgumentError struct {
	Tool    ToolName
	Code    ErrorCode
	Message string
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Code, e.Message)
}

// DriverError reports a device-level failure during a tool dispatch.
type DriverError struct {
	Tool ToolName
	Code ErrorCode
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Code, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// ReportedFailureError carries the reason the model gave when it ended a
// subtask unsuccessfully.
type ReportedFailureError struct {
	Reason string
}

func (e *ReportedFailureError) Error() string {
	if e.Reason == "" {
		return "subtask reported failure"
	}
	return "subtask reported failure: " + e.Reason
}

// errStepBudgetExhausted is recorded when an attempt uses all of its model turns.
var errStepBudgetExhausted = fmt.Errorf("%s: no completion after %d model turns", ErrCodeStepBudgetExhausted, MaxToolCallsPerStep)

// SubtaskFailedError is raised once every execution attempt for a subtask has failed.
type SubtaskFailedError struct {
	Subtask  string
	Attempts int
	Last     error
}

func (e *SubtaskFailedError) Error() string {
	return fmt.Sprintf("subtask %q failed after %d attempts: %v", e.Subtask, e.Attempts, e.Last)
}

func (e *SubtaskFailedError) Unwrap() error { return e.Last }

// Is reports ErrSubtaskFailed as a match so callers need not know the concrete type.
func (e *SubtaskFailedError) Is(target error) bool { return target == ErrSubtaskFailed }
