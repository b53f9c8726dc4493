// internal/agent/gateway.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"go.uber.org/zap"
)

// Outcome is the normalized result of one tool dispatch.
type Outcome struct {
	// Text is appended to the conversation as the tool result.
	Text string
	// Screenshot is set when the tool changed the screen and a fresh capture was taken.
	Screenshot schemas.ScreenshotHandle
	// EndSubtask is set when the model declared the subtask complete.
	EndSubtask bool
}

// handlerResult is what an individual tool handler reports back to Dispatch.
type handlerResult struct {
	text        string
	screenDirty bool
	endSubtask  bool
}

type toolHandler func(ctx context.Context, args json.RawMessage) (handlerResult, error)

// Gateway executes tool calls against a DeviceDriver.
type Gateway struct {
	logger   *zap.Logger
	driver   schemas.DeviceDriver
	metrics  *observability.Metrics
	handlers map[ToolName]toolHandler
}

// NewGateway binds the gateway to a driver. It panics if a registry tool has
// no handler, which can only happen when the registry and the gateway drift apart.
func NewGateway(driver schemas.DeviceDriver, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	g := &Gateway{
		logger:   logger.Named("gateway"),
		driver:   driver,
		metrics:  metrics,
		handlers: make(map[ToolName]toolHandler),
	}
	g.registerHandlers()
	for _, t := range registry {
		if _, ok := g.handlers[t.Name]; !ok {
			panic(fmt.Sprintf("gateway: no handler registered for tool %q", t.Name))
		}
	}
	return g
}

func (g *Gateway) registerHandlers() {
	g.handlers[ToolTouch] = g.handleTouch
	g.handlers[ToolSwipe] = g.handleSwipe
	g.handlers[ToolType] = g.handleType
	g.handlers[ToolSearchApps] = g.handleSearchApps
	g.handlers[ToolOpenApp] = g.handleOpenApp
	g.handlers[ToolOpenLink] = g.handleOpenLink
	g.handlers[ToolEndSubtask] = g.handleEndSubtask
}

// Dispatch runs one tool call. Contract violations return *ToolArgumentError,
// device failures return *DriverError, and an unsuccessful end_subtask returns
// *ReportedFailureError.
func (g *Gateway) Dispatch(ctx context.Context, call schemas.ToolCall) (*Outcome, error) {
	tool, ok := LookupTool(call.Name)
	if !ok {
		err := &ToolArgumentError{Tool: ToolName(call.Name), Code: ErrCodeUnknownTool, Message: "no such tool"}
		g.metrics.ObserveToolCall(call.Name, err)
		return nil, err
	}

	args := json.RawMessage(call.Arguments)
	if len(strings.TrimSpace(call.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}

	res, err := g.handlers[tool.Name](ctx, args)
	g.metrics.ObserveToolCall(string(tool.Name), err)
	if err != nil {
		g.logger.Warn("Tool dispatch failed",
			zap.String("tool", string(tool.Name)),
			zap.String("call_id", call.ID),
			zap.Error(err))
		return nil, err
	}

	out := &Outcome{Text: res.text, EndSubtask: res.endSubtask}
	if tool.ChangesScreen && res.screenDirty {
		shot, err := g.driver.TakeScreenshot(ctx)
		if err != nil {
			return nil, &DriverError{Tool: tool.Name, Code: ErrCodeScreenshotFailed, Err: err}
		}
		out.Screenshot = shot
	}

	g.logger.Debug("Tool dispatched",
		zap.String("tool", string(tool.Name)),
		zap.String("call_id", call.ID),
		zap.String("result", res.text))
	return out, nil
}

// -- Argument helpers --

func invalidArgument(tool ToolName, format string, a ...any) error {
	return &ToolArgumentError{Tool: tool, Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, a...)}
}

func decodeArgs(tool ToolName, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidArgument(tool, "arguments are not a valid JSON object: %v", err)
	}
	return nil
}

func checkNormalized(tool ToolName, name string, v *float64) error {
	if v == nil {
		return invalidArgument(tool, "%s is required", name)
	}
	if *v < 0 || *v > 1 {
		return invalidArgument(tool, "%s=%g is outside [0,1]", name, *v)
	}
	return nil
}

// driverError classifies a failure reported by the driver.
func driverError(tool ToolName, err error) error {
	code := ErrCodeDriverFailure
	switch {
	case errors.Is(err, schemas.ErrServiceUnavailable):
		code = ErrCodeServiceUnavailable
	case errors.Is(err, schemas.ErrGeometryUnavailable):
		code = ErrCodeGeometryUnavailable
	case errors.Is(err, schemas.ErrTooFewBreakpoints):
		return invalidArgument(tool, "%v", err)
	}
	return &DriverError{Tool: tool, Code: code, Err: err}
}

// -- Handlers --

func (g *Gateway) handleTouch(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		X       *float64 `json:"x"`
		Y       *float64 `json:"y"`
		Amount  *int     `json:"amount"`
		Spacing *int     `json:"spacing"`
	}
	if err := decodeArgs(ToolTouch, raw, &args); err != nil {
		return handlerResult{}, err
	}
	if err := checkNormalized(ToolTouch, "x", args.X); err != nil {
		return handlerResult{}, err
	}
	if err := checkNormalized(ToolTouch, "y", args.Y); err != nil {
		return handlerResult{}, err
	}
	amount, spacing := 1, 0
	if args.Amount != nil {
		amount = *args.Amount
	}
	if args.Spacing != nil {
		spacing = *args.Spacing
	}
	if amount < 1 {
		return handlerResult{}, invalidArgument(ToolTouch, "amount must be at least 1")
	}
	if spacing < 0 {
		return handlerResult{}, invalidArgument(ToolTouch, "spacing must not be negative")
	}

	px, err := g.driver.PerformTouch(ctx, *args.X, *args.Y, amount, spacing)
	if err != nil {
		return handlerResult{}, driverError(ToolTouch, err)
	}
	return handlerResult{
		text:        fmt.Sprintf("Touched (%d, %d) %d time(s).", px.X, px.Y, amount),
		screenDirty: true,
	}, nil
}

func (g *Gateway) handleSwipe(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		Breakpoints []struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		} `json:"breakpoints"`
	}
	if err := decodeArgs(ToolSwipe, raw, &args); err != nil {
		return handlerResult{}, err
	}
	if len(args.Breakpoints) < 2 {
		return handlerResult{}, invalidArgument(ToolSwipe, "at least 2 breakpoints are required, got %d", len(args.Breakpoints))
	}
	points := make([]schemas.NormalizedPoint, len(args.Breakpoints))
	for i, bp := range args.Breakpoints {
		if err := checkNormalized(ToolSwipe, fmt.Sprintf("breakpoints[%d].x", i), bp.X); err != nil {
			return handlerResult{}, err
		}
		if err := checkNormalized(ToolSwipe, fmt.Sprintf("breakpoints[%d].y", i), bp.Y); err != nil {
			return handlerResult{}, err
		}
		points[i] = schemas.NormalizedPoint{X: *bp.X, Y: *bp.Y}
	}

	if err := g.driver.PerformSwipe(ctx, points); err != nil {
		return handlerResult{}, driverError(ToolSwipe, err)
	}
	return handlerResult{text: fmt.Sprintf("Swiped through %d points.", len(points)), screenDirty: true}, nil
}

func (g *Gateway) handleType(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		Text *string `json:"text"`
	}
	if err := decodeArgs(ToolType, raw, &args); err != nil {
		return handlerResult{}, err
	}
	if args.Text == nil {
		return handlerResult{}, invalidArgument(ToolType, "text is required")
	}

	typed, err := g.driver.TypeText(ctx, *args.Text)
	if err != nil {
		return handlerResult{}, driverError(ToolType, err)
	}
	if !typed {
		return handlerResult{}, &DriverError{Tool: ToolType, Code: ErrCodeNoFocusedField, Err: errors.New("no focused input field; tap a text field first")}
	}
	return handlerResult{text: fmt.Sprintf("Typed %d characters.", len([]rune(*args.Text))), screenDirty: true}, nil
}

func (g *Gateway) handleSearchApps(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(ToolSearchApps, raw, &args); err != nil {
		return handlerResult{}, err
	}

	apps, err := g.driver.SearchApps(ctx, args.Query)
	if err != nil {
		g.logger.Warn("App search failed", zap.String("query", args.Query), zap.Error(err))
		return handlerResult{text: fmt.Sprintf("No apps found matching %q (search unavailable: %v).", args.Query, err)}, nil
	}
	if len(apps) == 0 {
		return handlerResult{text: fmt.Sprintf("No apps found matching %q.", args.Query)}, nil
	}
	lines := make([]string, len(apps))
	for i, app := range apps {
		lines[i] = app.Name + ": " + app.Identifier
	}
	return handlerResult{text: strings.Join(lines, "\n")}, nil
}

func (g *Gateway) handleOpenApp(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		PackageName string `json:"packageName"`
	}
	if err := decodeArgs(ToolOpenApp, raw, &args); err != nil {
		return handlerResult{}, err
	}
	if args.PackageName == "" {
		return handlerResult{}, invalidArgument(ToolOpenApp, "packageName is required")
	}

	err := g.driver.OpenApp(ctx, args.PackageName)
	var notFound *schemas.AppNotFoundError
	if errors.As(err, &notFound) {
		return handlerResult{
			text: fmt.Sprintf("%s. The app is not installed; use open_link with the service's website instead.", notFound.Error()),
		}, nil
	}
	if err != nil {
		return handlerResult{}, driverError(ToolOpenApp, err)
	}
	return handlerResult{text: fmt.Sprintf("Opened %s.", args.PackageName), screenDirty: true}, nil
}

func (g *Gateway) handleOpenLink(ctx context.Context, raw json.RawMessage) (handlerResult, error) {
	var args map[string]any
	if err := decodeArgs(ToolOpenLink, raw, &args); err != nil {
		return handlerResult{}, err
	}
	link, ok := args["url"].(string)
	if !ok {
		return handlerResult{}, invalidArgument(ToolOpenLink, "url must be a string")
	}
	if strings.TrimSpace(link) == "" {
		return handlerResult{}, invalidArgument(ToolOpenLink, "url must not be empty")
	}

	if err := g.driver.OpenLink(ctx, link); err != nil {
		return handlerResult{}, driverError(ToolOpenLink, err)
	}
	return handlerResult{text: fmt.Sprintf("Opened %s.", link), screenDirty: true}, nil
}

func (g *Gateway) handleEndSubtask(_ context.Context, raw json.RawMessage) (handlerResult, error) {
	var args struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := decodeArgs(ToolEndSubtask, raw, &args); err != nil {
		return handlerResult{}, err
	}
	if args.Success == nil {
		return handlerResult{}, invalidArgument(ToolEndSubtask, "success is required")
	}
	if !*args.Success {
		return handlerResult{}, &ReportedFailureError{Reason: args.Error}
	}
	return handlerResult{text: "Subtask completed.", endSubtask: true}, nil
}
