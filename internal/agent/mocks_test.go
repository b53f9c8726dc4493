package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// -- Chat Client Mocks --

// MockChatClient mocks the schemas.ChatClient interface.
type MockChatClient struct {
	mock.Mock
}

func (m *MockChatClient) Chat(ctx context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*schemas.ChatResponse); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

// scriptedChatClient replays a fixed sequence of replies and keeps a copy of
// every request it received.
type scriptedChatClient struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []schemas.ChatRequest
	// repeat, when set, is returned once the script is exhausted.
	repeat *scriptedReply
}

type scriptedReply struct {
	msg schemas.Message
	err error
}

func (c *scriptedChatClient) Chat(_ context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := req
	snapshot.Messages = append([]schemas.Message(nil), req.Messages...)
	c.requests = append(c.requests, snapshot)

	var next scriptedReply
	switch {
	case len(c.replies) > 0:
		next, c.replies = c.replies[0], c.replies[1:]
	case c.repeat != nil:
		next = *c.repeat
	default:
		return nil, fmt.Errorf("script exhausted after %d requests", len(c.requests))
	}
	if next.err != nil {
		return nil, next.err
	}
	return &schemas.ChatResponse{Message: next.msg}, nil
}

func (c *scriptedChatClient) Requests() []schemas.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schemas.ChatRequest(nil), c.requests...)
}

func toolReply(calls ...schemas.ToolCall) scriptedReply {
	return scriptedReply{msg: schemas.Message{Role: schemas.RoleAssistant, ToolCalls: calls}}
}

func textReply(text string) scriptedReply {
	return scriptedReply{msg: schemas.Message{Role: schemas.RoleAssistant, Content: text}}
}

func call(id string, name ToolName, args string) schemas.ToolCall {
	return schemas.ToolCall{ID: id, Name: string(name), Arguments: args}
}

// -- Device Driver Mocks --

// MockDeviceDriver mocks the schemas.DeviceDriver interface.
type MockDeviceDriver struct {
	mock.Mock
}

func (m *MockDeviceDriver) PerformTouch(ctx context.Context, x, y float64, amount, spacingMs int) (schemas.Point, error) {
	args := m.Called(ctx, x, y, amount, spacingMs)
	return args.Get(0).(schemas.Point), args.Error(1)
}

func (m *MockDeviceDriver) PerformSwipe(ctx context.Context, breakpoints []schemas.NormalizedPoint) error {
	return m.Called(ctx, breakpoints).Error(0)
}

func (m *MockDeviceDriver) TypeText(ctx context.Context, text string) (bool, error) {
	args := m.Called(ctx, text)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeviceDriver) SearchApps(ctx context.Context, query string) ([]schemas.AppInfo, error) {
	args := m.Called(ctx, query)
	apps, _ := args.Get(0).([]schemas.AppInfo)
	return apps, args.Error(1)
}

func (m *MockDeviceDriver) OpenApp(ctx context.Context, identifier string) error {
	return m.Called(ctx, identifier).Error(0)
}

func (m *MockDeviceDriver) OpenLink(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDeviceDriver) TakeScreenshot(ctx context.Context) (schemas.ScreenshotHandle, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.ScreenshotHandle), args.Error(1)
}

func (m *MockDeviceDriver) ScreenDimensions(ctx context.Context) (schemas.Dimensions, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Dimensions), args.Error(1)
}

func (m *MockDeviceDriver) Status(ctx context.Context) (schemas.DriverStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.DriverStatus), args.Error(1)
}

func (m *MockDeviceDriver) Close() error { return m.Called().Error(0) }

// fakeDriver is a permissive driver that hands out a new screenshot handle on
// every capture.
type fakeDriver struct {
	mu      sync.Mutex
	shots   int
	touches []schemas.NormalizedPoint
}

func (d *fakeDriver) PerformTouch(_ context.Context, x, y float64, _, _ int) (schemas.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touches = append(d.touches, schemas.NormalizedPoint{X: x, Y: y})
	return schemas.Point{X: int(x * 1080), Y: int(y * 1920)}, nil
}

func (d *fakeDriver) PerformSwipe(context.Context, []schemas.NormalizedPoint) error { return nil }
func (d *fakeDriver) TypeText(context.Context, string) (bool, error)                { return true, nil }
func (d *fakeDriver) SearchApps(context.Context, string) ([]schemas.AppInfo, error) { return nil, nil }
func (d *fakeDriver) OpenApp(context.Context, string) error                         { return nil }
func (d *fakeDriver) OpenLink(context.Context, string) error                        { return nil }
func (d *fakeDriver) Close() error                                                  { return nil }

func (d *fakeDriver) TakeScreenshot(context.Context) (schemas.ScreenshotHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	return schemas.ScreenshotHandle(fmt.Sprintf("data:image/jpeg;base64,c2hvdC0%d", d.shots)), nil
}

func (d *fakeDriver) ScreenDimensions(context.Context) (schemas.Dimensions, error) {
	return schemas.Dimensions{Width: 1080, Height: 1920}, nil
}

func (d *fakeDriver) Status(context.Context) (schemas.DriverStatus, error) {
	return schemas.DriverStatus{Enabled: true, Connected: true}, nil
}

// -- Event Recorder --

type captureRecorder struct {
	mu      sync.Mutex
	events  []schemas.RunEvent
	ctxErrs []error
}

func (r *captureRecorder) Record(ctx context.Context, ev schemas.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil
}

func (r *captureRecorder) attempts() []schemas.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.RunEvent
	for _, ev := range r.events {
		if ev.Kind == schemas.EventAttempt {
			out = append(out, ev)
		}
	}
	return out
}
