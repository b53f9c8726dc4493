// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/agent"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"github.com/xkilldash9x/automate-cli/internal/orchestrator"
	"github.com/xkilldash9x/automate-cli/internal/settings"
	"github.com/xkilldash9x/automate-cli/internal/store"
)

// driverFactory creates the device driver selected by the configuration.
type driverFactory func(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger) (schemas.DeviceDriver, error)

// clientFactory creates the chat model client selected by the configuration.
type clientFactory func(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.ChatClient, error)

// runDeps are the injectable constructors used by the run command.
type runDeps struct {
	stores    storeProvider
	newDriver driverFactory
	newClient clientFactory
}

type runOptions struct {
	task          string
	screenshotDir string
}

func newRunCmd(deps runDeps) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Plans and executes a task on the connected handset",
		Long: `Run takes a natural language task, asks the model for a plan and then
drives the handset through each subtask, printing status lines as it goes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			opts.task = strings.Join(args, " ")
			return runAutomation(cmd.Context(), cfg, deps, opts, cmd.OutOrStdout())
		},
	}

	runCmd.Flags().String("driver", "", "Device driver to use (adb, browser, simulated)")
	runCmd.Flags().String("provider", "", "Model provider to use (openai, gemini, ollama)")
	runCmd.Flags().String("model", "", "Model name, overrides the settings file")
	runCmd.Flags().String("serial", "", "ADB serial of the target device")
	runCmd.Flags().StringVar(&opts.screenshotDir, "screenshot-dir", "", "Directory to save every captured screenshot to")
	return runCmd
}

// runComponents holds everything a run needs and releases it in Shutdown.
type runComponents struct {
	Driver       schemas.DeviceDriver
	Store        historyStore
	History      *store.BufferedRecorder
	Orchestrator *orchestrator.Orchestrator

	storeCleanup  func()
	metricsServer *http.Server
	logger        *zap.Logger
}

// Shutdown releases the components in reverse order of creation.
func (c *runComponents) Shutdown(ctx context.Context) {
	if c.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.metricsServer.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Metrics server did not shut down cleanly", zap.Error(err))
		}
		cancel()
	}
	if c.History != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.History.Flush(flushCtx); err != nil {
			c.logger.Warn("Failed to write run history", zap.Int("events", c.History.Pending()), zap.Error(err))
		}
		cancel()
	}
	if c.storeCleanup != nil {
		c.storeCleanup()
	}
	if c.Driver != nil {
		if err := c.Driver.Close(); err != nil {
			c.logger.Warn("Failed to close device driver", zap.Error(err))
		}
	}
}

// runAutomation is the testable core of the run command.
func runAutomation(ctx context.Context, cfg config.Interface, deps runDeps, opts runOptions, out io.Writer) error {
	logger := observability.GetLogger()

	if strings.TrimSpace(opts.task) == "" {
		return fmt.Errorf("task must not be empty")
	}

	// 1. Resolve the model configuration against the saved settings.
	llmCfg, err := resolveLLMConfig(cfg, logger)
	if err != nil {
		return err
	}

	// 2. Initialize core components.
	components, err := initializeRunComponents(ctx, cfg, llmCfg, deps, logger)
	if err != nil {
		if components != nil {
			components.Shutdown(ctx)
		}
		return fmt.Errorf("failed to initialize automation components: %w", err)
	}
	defer components.Shutdown(ctx)

	// 3. The automation service must be ready before anything is planned.
	status, err := components.Driver.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query device status: %w", err)
	}
	if !status.Ready() {
		return fmt.Errorf("%w (enabled=%t, connected=%t)", schemas.ErrServiceUnavailable, status.Enabled, status.Connected)
	}

	screenshot, err := components.Driver.TakeScreenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture initial screenshot: %w", err)
	}

	sink, err := newScreenshotSink(opts.screenshotDir, logger)
	if err != nil {
		return err
	}
	sink.Save(screenshot)

	cb := schemas.Callbacks{
		OnStatus:     func(text string) { fmt.Fprintln(out, text) },
		OnScreenshot: sink.Save,
	}

	// 4. Execute.
	logger.Info("Starting automation", zap.String("task", opts.task), zap.String("driver", string(cfg.Device().Driver)), zap.String("provider", string(llmCfg.Provider)))
	if err := components.Orchestrator.Run(ctx, opts.task, screenshot, cb); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Automation aborted gracefully")
			return err
		}
		return fmt.Errorf("automation failed: %w", err)
	}
	return nil
}

// resolveLLMConfig fills the model configuration from the settings file.
func resolveLLMConfig(cfg config.Interface, logger *zap.Logger) (config.LLMConfig, error) {
	llmCfg := cfg.LLM()
	if llmCfg.Provider != config.ProviderOpenAI {
		return llmCfg, nil
	}

	fileStore, err := settings.NewFileStore(cfg.Settings().Path, logger)
	if err != nil {
		return llmCfg, err
	}
	saved, err := fileStore.Load()
	if err != nil {
		return llmCfg, err
	}
	llmCfg = saved.Apply(llmCfg)
	if llmCfg.APIKey == "" {
		return llmCfg, fmt.Errorf("no API key configured: run 'automate settings set --api-key <key>' or set AUTOMATE_LLM_API_KEY")
	}
	return llmCfg, nil
}

// initializeRunComponents wires the driver, model client, history store,
// metrics and engine together. On error the partially built components are
// returned so the caller can release them.
func initializeRunComponents(ctx context.Context, cfg config.Interface, llmCfg config.LLMConfig, deps runDeps, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{logger: logger}

	// -- Metrics --
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	if addr := cfg.Metrics().ListenAddr; addr != "" {
		srv, err := startMetricsServer(addr, reg, logger)
		if err != nil {
			return components, err
		}
		components.metricsServer = srv
	}

	// -- Device --
	driver, err := deps.newDriver(ctx, cfg.Device(), logger)
	if err != nil {
		return components, fmt.Errorf("failed to create device driver: %w", err)
	}
	components.Driver = driver

	// -- Model --
	client, err := deps.newClient(ctx, llmCfg, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create LLM client: %w", err)
	}

	// -- Run history (optional) --
	var recorder schemas.EventRecorder = schemas.NopRecorder{}
	if cfg.Database().URL != "" && deps.stores != nil {
		st, cleanup, err := deps.stores.Create(ctx, cfg)
		if err != nil {
			logger.Warn("Run history disabled, database unavailable", zap.Error(err))
		} else {
			components.storeCleanup = cleanup
			if err := st.EnsureSchema(ctx); err != nil {
				logger.Warn("Run history disabled, schema could not be created", zap.Error(err))
			} else {
				components.Store = st
				components.History = store.NewBufferedRecorder(st, logger)
				recorder = components.History
			}
		}
	}

	// -- Engine --
	gateway := agent.NewGateway(driver, logger, metrics)
	planner := agent.NewPlanner(client, logger, metrics)
	executor := agent.NewExecutor(client, gateway, logger, metrics, agent.WithEventRecorder(recorder))
	orch, err := orchestrator.New(logger, planner, executor,
		orchestrator.WithEventRecorder(recorder),
		orchestrator.WithMetrics(metrics))
	if err != nil {
		return components, err
	}
	components.Orchestrator = orch
	return components, nil
}

func startMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

// screenshotSink writes every published screenshot to a directory as
// 000.jpg, 001.jpg and so on. A sink without a directory discards them.
type screenshotSink struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	next int
}

func newScreenshotSink(dir string, logger *zap.Logger) (*screenshotSink, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}
	return &screenshotSink{dir: dir, logger: logger}, nil
}

func (s *screenshotSink) Save(handle schemas.ScreenshotHandle) {
	if s.dir == "" {
		return
	}
	mime, data, err := handle.Decode()
	if err != nil {
		s.logger.Warn("Skipping undecodable screenshot", zap.Error(err))
		return
	}

	ext := "jpg"
	if mime == "image/png" {
		ext = "png"
	}

	s.mu.Lock()
	name := filepath.Join(s.dir, fmt.Sprintf("%03d.%s", s.next, ext))
	s.next++
	s.mu.Unlock()

	if err := os.WriteFile(name, data, 0o644); err != nil {
		s.logger.Warn("Failed to save screenshot", zap.String("path", name), zap.Error(err))
	}
}
