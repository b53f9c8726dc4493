// internal/device/browser.go
package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"go.uber.org/zap"
)

// focusedEditableScript reports whether the focused element accepts text.
const focusedEditableScript = `(() => {
	const el = document.activeElement;
	if (!el || el === document.body) return false;
	if (el.isContentEditable) return true;
	const tag = el.tagName.toLowerCase();
	if (tag === 'textarea') return !el.readOnly && !el.disabled;
	if (tag !== 'input') return false;
	const type = (el.getAttribute('type') || 'text').toLowerCase();
	const textual = ['text', 'search', 'email', 'url', 'tel', 'password', 'number'];
	return textual.includes(type) && !el.readOnly && !el.disabled;
})()`

// BrowserDriver emulates a touch handset in a Chrome tab driven over the
// DevTools protocol. Apps are URL shortcuts from the configuration.
type BrowserDriver struct {
	cfg      config.BrowserDeviceConfig
	logger   *zap.Logger
	allocCtx context.Context
	tabCtx   context.Context

	closeOnce sync.Once
	cancel    func()
}

var _ schemas.DeviceDriver = (*BrowserDriver)(nil)

func browserExecOptions(cfg config.BrowserDeviceConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// NewBrowserDriver launches the browser, applies the handset emulation and
// opens the home page.
func NewBrowserDriver(ctx context.Context, cfg config.BrowserDeviceConfig, logger *zap.Logger) (*BrowserDriver, error) {
	logger = logger.Named("browser_device")
	logger.Info("Launching emulated handset", zap.Int("width", cfg.Width), zap.Int("height", cfg.Height), zap.Float64("scale", cfg.Scale))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), browserExecOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	d := &BrowserDriver{
		cfg:      cfg,
		logger:   logger,
		allocCtx: allocCtx,
		tabCtx:   tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	scale := cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	home := cfg.HomeURL
	if home == "" {
		home = "about:blank"
	}

	startCtx, cancelStart := context.WithTimeout(ctx, 30*time.Second)
	defer cancelStart()
	if err := d.launch(startCtx); err != nil {
		d.cancel()
		return nil, fmt.Errorf("browser failed to start: %w", err)
	}
	err := d.run(startCtx,
		chromedp.EmulateViewport(int64(cfg.Width), int64(cfg.Height),
			chromedp.EmulateScale(scale), chromedp.EmulateMobile, chromedp.EmulateTouch),
		emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(1),
		chromedp.Navigate(home),
	)
	if err != nil {
		d.cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}
	logger.Info("Emulated handset ready", zap.String("home", home))
	return d, nil
}

// launch starts the browser and opens the tab on the long-lived tab context.
// Per-call child contexts in run are only valid after this.
func (d *BrowserDriver) launch(ctx context.Context) error {
	stop := context.AfterFunc(ctx, d.cancel)
	err := chromedp.Run(d.tabCtx)
	if !stop() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// run executes actions on the tab, aborting when ctx is done.
func (d *BrowserDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.tabCtx.Err() != nil {
			return fmt.Errorf("%w: %v", schemas.ErrServiceUnavailable, err)
		}
		return err
	}
	return nil
}

func (d *BrowserDriver) settle(ctx context.Context) error {
	return sleepContext(ctx, d.cfg.SettleDelay)
}

// cssPoint converts a normalized point to CSS pixels of the viewport.
func (d *BrowserDriver) cssPoint(p schemas.NormalizedPoint) *input.TouchPoint {
	return &input.TouchPoint{
		X: p.X * float64(d.cfg.Width),
		Y: p.Y * float64(d.cfg.Height),
	}
}

// Status reports whether the browser tab is still alive and responsive.
func (d *BrowserDriver) Status(ctx context.Context) (schemas.DriverStatus, error) {
	if d.tabCtx.Err() != nil {
		return schemas.DriverStatus{}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var ok bool
	if err := d.run(pingCtx, chromedp.Evaluate(`true`, &ok)); err != nil {
		return schemas.DriverStatus{Enabled: true}, nil
	}
	return schemas.DriverStatus{Enabled: true, Connected: ok}, nil
}

// ScreenDimensions returns the emulated screen in device pixels.
func (d *BrowserDriver) ScreenDimensions(context.Context) (schemas.Dimensions, error) {
	scale := d.cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	dims := schemas.Dimensions{
		Width:  int(math.Round(float64(d.cfg.Width) * scale)),
		Height: int(math.Round(float64(d.cfg.Height) * scale)),
	}
	if !validDimensions(dims) {
		return schemas.Dimensions{}, schemas.ErrGeometryUnavailable
	}
	return dims, nil
}

// PerformTouch taps amount times at the normalized position.
func (d *BrowserDriver) PerformTouch(ctx context.Context, x, y float64, amount, spacingMs int) (schemas.Point, error) {
	dims, err := d.ScreenDimensions(ctx)
	if err != nil {
		return schemas.Point{}, err
	}
	np := schemas.NormalizedPoint{X: x, Y: y}
	tp := d.cssPoint(np)
	if amount < 1 {
		amount = 1
	}

	for i := 0; i < amount; i++ {
		if i > 0 {
			if err := sleepContext(ctx, time.Duration(spacingMs)*time.Millisecond); err != nil {
				return schemas.Point{}, err
			}
		}
		err := d.run(ctx,
			input.DispatchTouchEvent(input.TouchStart, []*input.TouchPoint{tp}),
			input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{}),
		)
		if err != nil {
			return schemas.Point{}, fmt.Errorf("failed to dispatch touch: %w", err)
		}
	}
	return ToPixels(np, dims), d.settle(ctx)
}

// PerformSwipe drags one finger through the breakpoints, pacing the moves
// by SwipeDuration.
func (d *BrowserDriver) PerformSwipe(ctx context.Context, breakpoints []schemas.NormalizedPoint) error {
	if len(breakpoints) < 2 {
		return schemas.ErrTooFewBreakpoints
	}
	dims, err := d.ScreenDimensions(ctx)
	if err != nil {
		return err
	}
	segments := SegmentDurations(ToPixelPath(breakpoints, dims))

	if err := d.run(ctx, input.DispatchTouchEvent(input.TouchStart, []*input.TouchPoint{d.cssPoint(breakpoints[0])})); err != nil {
		return fmt.Errorf("failed to start swipe: %w", err)
	}
	for i, seg := range segments {
		if err := sleepContext(ctx, seg); err != nil {
			return err
		}
		if err := d.run(ctx, input.DispatchTouchEvent(input.TouchMove, []*input.TouchPoint{d.cssPoint(breakpoints[i+1])})); err != nil {
			return fmt.Errorf("failed to move swipe: %w", err)
		}
	}
	if err := d.run(ctx, input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{})); err != nil {
		return fmt.Errorf("failed to end swipe: %w", err)
	}
	return d.settle(ctx)
}

// TypeText inserts text into the focused editable element.
func (d *BrowserDriver) TypeText(ctx context.Context, text string) (bool, error) {
	var editable bool
	if err := d.run(ctx, chromedp.Evaluate(focusedEditableScript, &editable)); err != nil {
		return false, fmt.Errorf("failed to inspect focused element: %w", err)
	}
	if !editable {
		return false, nil
	}
	if err := d.run(ctx, input.InsertText(text)); err != nil {
		return false, fmt.Errorf("failed to insert text: %w", err)
	}
	return true, d.settle(ctx)
}

func (d *BrowserDriver) apps() []schemas.AppInfo {
	apps := make([]schemas.AppInfo, 0, len(d.cfg.Apps))
	for _, a := range d.cfg.Apps {
		apps = append(apps, schemas.AppInfo{Name: a.Name, Identifier: a.Identifier})
	}
	return apps
}

// SearchApps searches the configured app shortcuts.
func (d *BrowserDriver) SearchApps(_ context.Context, query string) ([]schemas.AppInfo, error) {
	return FilterApps(d.apps(), query), nil
}

// OpenApp navigates to the URL of the shortcut with the given identifier.
func (d *BrowserDriver) OpenApp(ctx context.Context, identifier string) error {
	for _, a := range d.cfg.Apps {
		if a.Identifier == identifier {
			return d.OpenLink(ctx, a.URL)
		}
	}
	return &schemas.AppNotFoundError{Identifier: identifier}
}

// OpenLink navigates the tab to url.
func (d *BrowserDriver) OpenLink(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return d.settle(ctx)
}

// TakeScreenshot captures the viewport as a JPEG handle.
func (d *BrowserDriver) TakeScreenshot(ctx context.Context) (schemas.ScreenshotHandle, error) {
	var data []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(JPEGQuality).
			Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return JPEGHandle(data), nil
}

// Close shuts down the tab and the browser process.
func (d *BrowserDriver) Close() error {
	d.closeOnce.Do(func() {
		d.logger.Debug("Closing emulated handset")
		d.cancel()
	})
	return nil
}
