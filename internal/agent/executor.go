// internal/agent/executor.go
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"go.uber.org/zap"
)

const (
	// MaxExecutionAttempts bounds the full attempts made for one subtask.
	MaxExecutionAttempts = 5
	// MaxToolCallsPerStep bounds the model turns within one attempt.
	MaxToolCallsPerStep = 10

	recordTimeout = 5 * time.Second
)

// AttemptContext is the immutable input to one execution attempt. Only the
// previous attempt's error is carried from one attempt to the next.
type AttemptContext struct {
	Number        int
	Subtask       string
	Screenshot    schemas.ScreenshotHandle
	PreviousError string
}

// Seed returns the opening messages of the attempt's conversation.
func (a AttemptContext) Seed() []schemas.Message {
	msgs := make([]schemas.Message, 0, 3)
	if a.PreviousError != "" {
		msgs = append(msgs, schemas.Message{Role: schemas.RoleSystem, Content: failureSummaryPrompt(a.Number-1, a.PreviousError)})
	}
	return append(msgs,
		schemas.Message{Role: schemas.RoleSystem, Content: executorSystemPrompt},
		schemas.Message{Role: schemas.RoleUser, Content: executorUserPrompt(a.Subtask), Images: imagesOf(a.Screenshot)},
	)
}

// Next derives the context of the following attempt.
func (a AttemptContext) Next(failure error, screenshot schemas.ScreenshotHandle) AttemptContext {
	return AttemptContext{
		Number:        a.Number + 1,
		Subtask:       a.Subtask,
		Screenshot:    screenshot,
		PreviousError: failure.Error(),
	}
}

// attemptResult is the outcome of one pass of the inner loop.
type attemptResult struct {
	screenshot schemas.ScreenshotHandle
	err        error
	turns      int
	transcript []schemas.Message
}

// Executor drives one subtask through bounded model/tool turns with
// whole-subtask retries.
type Executor struct {
	client    schemas.ChatClient
	gateway   *Gateway
	logger    *zap.Logger
	metrics   *observability.Metrics
	recorder  schemas.EventRecorder
	newCallID func() string
}

var _ schemas.SubtaskExecutor = (*Executor)(nil)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEventRecorder persists a redacted transcript of every attempt.
func WithEventRecorder(r schemas.EventRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// NewExecutor creates an Executor.
func NewExecutor(client schemas.ChatClient, gateway *Gateway, logger *zap.Logger, metrics *observability.Metrics, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:    client,
		gateway:   gateway,
		logger:    logger.Named("executor"),
		metrics:   metrics,
		recorder:  schemas.NopRecorder{},
		newCallID: func() string { return "call_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the subtask until the model ends it successfully, an attempt
// finishes without a recorded error, or MaxExecutionAttempts attempts fail.
// The returned handle is the most recent screenshot in every case.
func (e *Executor) Execute(ctx context.Context, req schemas.SubtaskRequest) (schemas.ScreenshotHandle, error) {
	logger := e.logger.With(zap.String("run_id", req.RunID), zap.String("subtask", req.Subtask))
	actx := AttemptContext{Number: 1, Subtask: req.Subtask, Screenshot: req.Screenshot}

	for {
		logger.Info("Starting attempt", zap.Int("attempt", actx.Number))
		res := e.runAttempt(ctx, req, actx, logger)
		e.metrics.ObserveAttempt(res.err)
		e.recordAttempt(ctx, req, actx, res, logger)

		if res.err == nil {
			logger.Info("Subtask completed", zap.Int("attempt", actx.Number), zap.Int("turns", res.turns))
			return res.screenshot, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res.screenshot, ctxErr
		}

		logger.Warn("Attempt failed", zap.Int("attempt", actx.Number), zap.Error(res.err))
		if actx.Number >= MaxExecutionAttempts {
			return res.screenshot, &SubtaskFailedError{Subtask: req.Subtask, Attempts: actx.Number, Last: res.err}
		}
		actx = actx.Next(res.err, res.screenshot)
	}
}

func (e *Executor) runAttempt(ctx context.Context, req schemas.SubtaskRequest, actx AttemptContext, logger *zap.Logger) attemptResult {
	conv := NewConversation(actx.Seed()...)
	res := attemptResult{screenshot: actx.Screenshot}
	tools := ToolDefinitions()

	for {
		res.turns++
		if res.turns > MaxToolCallsPerStep {
			res.turns = MaxToolCallsPerStep
			res.err = errStepBudgetExhausted
			break
		}
		if err := ctx.Err(); err != nil {
			res.err = err
			break
		}

		// -- ModelQuery --
		msgs := conv.Messages()
		logger.Debug("Querying model",
			zap.Int("attempt", actx.Number),
			zap.Int("turn", res.turns),
			observability.Transcript("messages", msgs))

		started := time.Now()
		resp, err := e.client.Chat(ctx, schemas.ChatRequest{Messages: msgs, Tools: tools, ToolChoice: schemas.ToolChoiceAuto})
		e.metrics.ObserveModelRequest("execute", started, err)
		if err != nil {
			res.err = &TransportError{Code: ErrCodeTransport, Err: err}
			break
		}

		reply := resp.Message
		reply.Role = schemas.RoleAssistant
		reply.ToolCalls = e.ensureCallIDs(conv, reply.ToolCalls)
		if err := conv.AppendAssistant(reply); err != nil {
			res.err = &TransportError{Code: ErrCodeProtocol, Err: err}
			break
		}
		if len(reply.ToolCalls) == 0 {
			logger.Debug("Model replied without tool calls", zap.String("content", observability.RedactDataURIs(reply.Content)))
			break
		}

		// -- ToolDispatch --
		done, failed, screenChanged := e.dispatchAll(ctx, req, conv, reply.ToolCalls, &res, logger)
		if done {
			res.transcript = conv.Messages()
			return res
		}
		if failed {
			e.skipPending(conv, logger)
			break
		}
		if screenChanged {
			conv.AppendUser(screenUpdatePrompt, res.screenshot)
		}
	}

	res.transcript = conv.Messages()
	return res
}

// dispatchAll executes the calls of one reply in order and stops at the first
// failure, which is recorded in res.err.
func (e *Executor) dispatchAll(ctx context.Context, req schemas.SubtaskRequest, conv *Conversation, calls []schemas.ToolCall, res *attemptResult, logger *zap.Logger) (done, failed, screenChanged bool) {
	for _, call := range calls {
		out, err := e.gateway.Dispatch(ctx, call)
		if err != nil {
			e.answer(conv, call, "Error: "+err.Error(), logger)
			res.err = err
			return false, true, screenChanged
		}

		if out.Screenshot != "" {
			res.screenshot = out.Screenshot
			screenChanged = true
			req.Callbacks.Screenshot(out.Screenshot)
		}
		e.answer(conv, call, out.Text, logger)
		if out.EndSubtask {
			return true, false, screenChanged
		}
	}
	return false, false, screenChanged
}

// skipPending answers every outstanding call so that no correlation id is
// left without a result.
func (e *Executor) skipPending(conv *Conversation, logger *zap.Logger) {
	for _, call := range conv.Pending() {
		e.answer(conv, call, skippedResult, logger)
	}
}

func (e *Executor) answer(conv *Conversation, call schemas.ToolCall, text string, logger *zap.Logger) {
	if err := conv.AppendToolResult(call.ID, ToolName(call.Name), text); err != nil {
		logger.Error("Failed to record tool result", zap.String("call_id", call.ID), zap.Error(err))
	}
}

// ensureCallIDs assigns fresh correlation ids to calls whose id is missing
// or was already issued in this conversation.
func (e *Executor) ensureCallIDs(conv *Conversation, calls []schemas.ToolCall) []schemas.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schemas.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] || conv.Issued(c.ID) {
			c.ID = e.newCallID()
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}

func (e *Executor) recordAttempt(ctx context.Context, req schemas.SubtaskRequest, actx AttemptContext, res attemptResult, logger *zap.Logger) {
	ev := schemas.RunEvent{
		RunID:      req.RunID,
		Kind:       schemas.EventAttempt,
		Subtask:    req.Subtask,
		Attempt:    actx.Number,
		Success:    res.err == nil,
		Transcript: observability.RedactMessages(res.transcript),
		Timestamp:  time.Now().UTC(),
	}
	if res.err != nil {
		ev.Message = res.err.Error()
	}
	// The attempt that a cancellation interrupted is still recorded.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := e.recorder.Record(recCtx, ev); err != nil {
		logger.Warn("Failed to record attempt", zap.Error(err))
	}
}
