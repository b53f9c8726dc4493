// internal/device/adb.go
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"go.uber.org/zap"
)

// CommandRunner executes an external program and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

var (
	wmSizePattern     = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)
	inputShownPattern = regexp.MustCompile(`mInputShown=true`)
)

// ADBDriver automates a physical or emulated Android device through the
// Android Debug Bridge.
type ADBDriver struct {
	cfg      config.ADBConfig
	fallback bool
	runner   CommandRunner
	logger   *zap.Logger

	mu   sync.Mutex
	dims schemas.Dimensions
}

var _ schemas.DeviceDriver = (*ADBDriver)(nil)

// NewADBDriver creates a driver for the device selected by cfg.Serial, or
// the only attached device when no serial is set.
func NewADBDriver(cfg config.ADBConfig, fallbackToDefaultSize bool, runner CommandRunner, logger *zap.Logger) *ADBDriver {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ADBDriver{
		cfg:      cfg,
		fallback: fallbackToDefaultSize,
		runner:   runner,
		logger:   logger.Named("adb"),
	}
}

func (d *ADBDriver) adb(ctx context.Context, args ...string) ([]byte, error) {
	if d.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CommandTimeout)
		defer cancel()
	}
	full := args
	if d.cfg.Serial != "" {
		full = append([]string{"-s", d.cfg.Serial}, args...)
	}
	d.logger.Debug("Running adb command", zap.Strings("args", full))

	out, err := d.runner.Run(ctx, d.cfg.Path, full...)
	if err != nil {
		return out, classifyADBError(err, out)
	}
	return out, nil
}

func (d *ADBDriver) shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.adb(ctx, append([]string{"shell"}, args...)...)
	return string(out), err
}

// classifyADBError maps connection failures to ErrServiceUnavailable.
func classifyADBError(err error, out []byte) error {
	text := strings.ToLower(err.Error() + " " + string(out))
	switch {
	case errors.Is(err, exec.ErrNotFound),
		strings.Contains(text, "no devices/emulators found"),
		strings.Contains(text, "device offline"),
		strings.Contains(text, "unauthorized"),
		strings.Contains(text, "device '") && strings.Contains(text, "not found"):
		return fmt.Errorf("%w: %w", schemas.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("adb command failed: %w", err)
}

// Status reports whether adb is usable and a device is attached.
func (d *ADBDriver) Status(ctx context.Context) (schemas.DriverStatus, error) {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return schemas.DriverStatus{}, nil
		}
		return schemas.DriverStatus{Enabled: true}, nil
	}
	return schemas.DriverStatus{Enabled: true, Connected: strings.TrimSpace(string(out)) == "device"}, nil
}

// ScreenDimensions returns the effective display size reported by wm,
// preferring an override size over the physical size.
func (d *ADBDriver) ScreenDimensions(ctx context.Context) (schemas.Dimensions, error) {
	d.mu.Lock()
	cached := d.dims
	d.mu.Unlock()
	if validDimensions(cached) {
		return cached, nil
	}

	out, err := d.shell(ctx, "wm", "size")
	if err == nil {
		if dims, ok := parseWMSize(out); ok {
			d.mu.Lock()
			d.dims = dims
			d.mu.Unlock()
			return dims, nil
		}
		err = fmt.Errorf("unrecognized wm size output %q", strings.TrimSpace(out))
	}
	if errors.Is(err, schemas.ErrServiceUnavailable) {
		return schemas.Dimensions{}, err
	}
	if d.fallback {
		d.logger.Warn("Screen size unavailable, assuming default", zap.Error(err),
			zap.Int("width", DefaultDimensions.Width), zap.Int("height", DefaultDimensions.Height))
		return DefaultDimensions, nil
	}
	return schemas.Dimensions{}, fmt.Errorf("%w: %v", schemas.ErrGeometryUnavailable, err)
}

func parseWMSize(out string) (schemas.Dimensions, bool) {
	var dims schemas.Dimensions
	found := false
	for _, m := range wmSizePattern.FindAllStringSubmatch(out, -1) {
		w, _ := strconv.Atoi(m[2])
		h, _ := strconv.Atoi(m[3])
		if !found || m[1] == "Override" {
			dims = schemas.Dimensions{Width: w, Height: h}
			found = true
		}
	}
	return dims, found && validDimensions(dims)
}

// PerformTouch taps amount times at the normalized position.
func (d *ADBDriver) PerformTouch(ctx context.Context, x, y float64, amount, spacingMs int) (schemas.Point, error) {
	dims, err := d.ScreenDimensions(ctx)
	if err != nil {
		return schemas.Point{}, err
	}
	px := ToPixels(schemas.NormalizedPoint{X: x, Y: y}, dims)
	if amount < 1 {
		amount = 1
	}

	for i := 0; i < amount; i++ {
		if i > 0 && spacingMs > 0 {
			if err := sleepContext(ctx, time.Duration(spacingMs)*time.Millisecond); err != nil {
				return px, err
			}
		}
		if _, err := d.shell(ctx, "input", "tap", strconv.Itoa(px.X), strconv.Itoa(px.Y)); err != nil {
			return px, err
		}
	}
	return px, nil
}

// PerformSwipe drags through the breakpoints. Two-point gestures use
// "input swipe"; longer paths are replayed as a motion event sequence.
func (d *ADBDriver) PerformSwipe(ctx context.Context, breakpoints []schemas.NormalizedPoint) error {
	if len(breakpoints) < 2 {
		return schemas.ErrTooFewBreakpoints
	}
	dims, err := d.ScreenDimensions(ctx)
	if err != nil {
		return err
	}
	path := ToPixelPath(breakpoints, dims)

	if len(path) == 2 {
		_, err := d.shell(ctx, "input", "swipe",
			strconv.Itoa(path[0].X), strconv.Itoa(path[0].Y),
			strconv.Itoa(path[1].X), strconv.Itoa(path[1].Y),
			strconv.FormatInt(SwipeDuration(path).Milliseconds(), 10))
		return err
	}

	if _, err := d.shell(ctx, "input", "motionevent", "DOWN", strconv.Itoa(path[0].X), strconv.Itoa(path[0].Y)); err != nil {
		return err
	}
	for i, seg := range SegmentDurations(path) {
		if err := sleepContext(ctx, seg); err != nil {
			return err
		}
		p := path[i+1]
		if _, err := d.shell(ctx, "input", "motionevent", "MOVE", strconv.Itoa(p.X), strconv.Itoa(p.Y)); err != nil {
			return err
		}
	}
	last := path[len(path)-1]
	_, err = d.shell(ctx, "input", "motionevent", "UP", strconv.Itoa(last.X), strconv.Itoa(last.Y))
	return err
}

// TypeText enters text into the focused field. It reports false when the
// soft keyboard is not shown, which means no editable element has focus.
func (d *ADBDriver) TypeText(ctx context.Context, text string) (bool, error) {
	state, err := d.shell(ctx, "dumpsys", "input_method")
	if err != nil {
		return false, err
	}
	if !inputShownPattern.MatchString(state) {
		return false, nil
	}
	if text == "" {
		return true, nil
	}
	for _, chunk := range inputTextChunks(text) {
		if _, err := d.shell(ctx, "input", "text", escapeInputText(chunk)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// inputTextChunks splits text between every literal "%s" pair. "input text"
// turns %s into a space and has no escape for it, so the two characters
// must arrive in separate invocations.
func inputTextChunks(text string) []string {
	var chunks []string
	for {
		idx := strings.Index(text, "%s")
		if idx < 0 {
			return append(chunks, text)
		}
		chunks = append(chunks, text[:idx+1])
		text = text[idx+1:]
	}
}

// escapeInputText quotes text for "input text" in the device shell. Spaces
// become %s, which is how the command spells a space.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\'"()<>|;&*~$!?#`+"`", r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SearchApps lists launchable packages whose derived name or identifier
// contains query, case-insensitively, sorted by name.
func (d *ADBDriver) SearchApps(ctx context.Context, query string) ([]schemas.AppInfo, error) {
	out, err := d.shell(ctx, "cmd", "package", "query-activities", "--brief",
		"-a", "android.intent.action.MAIN", "-c", "android.intent.category.LAUNCHER")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var apps []schemas.AppInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		pkg, _, ok := strings.Cut(line, "/")
		if !ok || pkg == "" || strings.Contains(pkg, " ") || seen[pkg] {
			continue
		}
		seen[pkg] = true
		apps = append(apps, schemas.AppInfo{Name: AppNameFromIdentifier(pkg), Identifier: pkg})
	}
	return FilterApps(apps, query), nil
}

// OpenApp launches the package's launcher activity.
func (d *ADBDriver) OpenApp(ctx context.Context, identifier string) error {
	out, err := d.shell(ctx, "monkey", "-p", identifier, "-c", "android.intent.category.LAUNCHER", "1")
	if strings.Contains(out, "No activities found to run") {
		return &schemas.AppNotFoundError{Identifier: identifier}
	}
	return err
}

// OpenLink sends a VIEW intent for url.
func (d *ADBDriver) OpenLink(ctx context.Context, url string) error {
	out, err := d.shell(ctx, "am", "start", "-a", "android.intent.action.VIEW", "-d", shellQuote(url))
	if err != nil {
		return err
	}
	if idx := strings.Index(out, "Error:"); idx >= 0 {
		return fmt.Errorf("failed to open %s: %s", url, strings.TrimSpace(out[idx:]))
	}
	return nil
}

// shellQuote wraps s in single quotes for the device shell, which receives
// the joined arguments of "adb shell".
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// TakeScreenshot captures the display as PNG and returns it as a JPEG handle.
func (d *ADBDriver) TakeScreenshot(ctx context.Context) (schemas.ScreenshotHandle, error) {
	raw, err := d.adb(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return "", err
	}
	return TranscodeToHandle(raw)
}

func (d *ADBDriver) Close() error { return nil }

// -- Shared helpers --

// AppNameFromIdentifier derives a display name from a package identifier,
// e.g. "com.google.android.apps.maps" becomes "Maps".
func AppNameFromIdentifier(identifier string) string {
	parts := strings.Split(identifier, ".")
	name := parts[len(parts)-1]
	if name == "" {
		return identifier
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// FilterApps keeps apps whose name or identifier contains query,
// case-insensitively, and sorts them by name.
func FilterApps(apps []schemas.AppInfo, query string) []schemas.AppInfo {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []schemas.AppInfo
	for _, app := range apps {
		if q == "" ||
			strings.Contains(strings.ToLower(app.Name), q) ||
			strings.Contains(strings.ToLower(app.Identifier), q) {
			out = append(out, app)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
