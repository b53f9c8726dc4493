// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/device"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"github.com/xkilldash9x/automate-cli/internal/store"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(func() {
		cfgFile = ""
		observability.ResetForTest()
	})
}

// newTestConfig returns the default configuration with the simulated driver,
// an API key and a settings file inside the test's temporary directory.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetDeviceDriver(config.DriverSimulated)
	cfg.LLMCfg.APIKey = "sk-test"
	cfg.LLMCfg.Model = "gpt-4o"
	cfg.SettingsCfg.Path = filepath.Join(t.TempDir(), "settings.yaml")
	return cfg
}

// executeWithConfig runs a standalone subcommand with cfg already in its
// context, bypassing the root command's configuration loading.
func executeWithConfig(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	ctx := context.WithValue(context.Background(), configKey, cfg)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// createTempConfig writes content to a temporary YAML file.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// simulatedDriverFactory hands out one shared simulated handset so tests can
// inspect what was done to it.
func simulatedDriverFactory(d *device.SimulatedDriver) driverFactory {
	return func(context.Context, config.DeviceConfig, *zap.Logger) (schemas.DeviceDriver, error) {
		return d, nil
	}
}

func newSimulatedDriver() *device.SimulatedDriver {
	return device.NewSimulatedDriver(device.DefaultDimensions, device.DefaultSimulatedApps, zap.NewNop())
}

// -- Model double --

// scriptedClient answers planning requests with plan and every executor turn
// with a tap followed by a successful end_subtask.
type scriptedClient struct {
	plan string

	mu       sync.Mutex
	requests []schemas.ChatRequest
}

func (c *scriptedClient) Chat(_ context.Context, req schemas.ChatRequest) (*schemas.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if len(req.Tools) == 0 {
		return &schemas.ChatResponse{Message: schemas.Message{Role: schemas.RoleAssistant, Content: c.plan}}, nil
	}
	return &schemas.ChatResponse{Message: schemas.Message{
		Role: schemas.RoleAssistant,
		ToolCalls: []schemas.ToolCall{
			{ID: "call_touch", Name: "touch", Arguments: `{"x":0.5,"y":0.25}`},
			{ID: "call_end", Name: "end_subtask", Arguments: `{"success":true}`},
		},
	}}, nil
}

func (c *scriptedClient) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func clientFactoryFor(c schemas.ChatClient) clientFactory {
	return func(context.Context, config.LLMConfig, *zap.Logger) (schemas.ChatClient, error) {
		return c, nil
	}
}

// -- Store doubles --

type memoryStore struct {
	ensureErr error

	mu      sync.Mutex
	events  []schemas.RunEvent
	batches int
	runs    []store.RunSummary
}

func (m *memoryStore) PersistEvents(_ context.Context, events []schemas.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.events = append(m.events, events...)
	return nil
}

func (m *memoryStore) EnsureSchema(context.Context) error { return m.ensureErr }

func (m *memoryStore) ListRuns(_ context.Context, limit int) ([]store.RunSummary, error) {
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func (m *memoryStore) RunEvents(_ context.Context, runID string) ([]schemas.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.RunEvent
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memoryStore) Kinds() []schemas.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]schemas.EventKind, len(m.events))
	for i, ev := range m.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

type fakeStoreProvider struct {
	store   *memoryStore
	err     error
	cleaned bool
}

func (p *fakeStoreProvider) Create(context.Context, config.Interface) (historyStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}
