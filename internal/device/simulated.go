// internal/device/simulated.go
package device

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"go.uber.org/zap"
)

// DefaultSimulatedApps is the app catalog of a fresh simulated handset.
var DefaultSimulatedApps = []schemas.AppInfo{
	{Name: "Calendar", Identifier: "com.google.android.calendar"},
	{Name: "Camera", Identifier: "com.android.camera2"},
	{Name: "Chrome", Identifier: "com.android.chrome"},
	{Name: "Clock", Identifier: "com.google.android.deskclock"},
	{Name: "Maps", Identifier: "com.google.android.apps.maps"},
	{Name: "Messages", Identifier: "com.google.android.apps.messaging"},
	{Name: "Settings", Identifier: "com.android.settings"},
}

// Action is one input recorded by the simulated driver.
type Action struct {
	Kind   string
	Detail string
}

// SimulatedDriver is an in-memory handset. Touching the screen focuses a
// text field, opening an app or link clears focus, and each screenshot is
// rendered from the current state.
type SimulatedDriver struct {
	logger *zap.Logger
	dims   schemas.Dimensions

	mu         sync.Mutex
	apps       []schemas.AppInfo
	foreground string
	focused    bool
	typed      strings.Builder
	lastTouch  *schemas.Point
	actions    []Action
	closed     bool
}

var _ schemas.DeviceDriver = (*SimulatedDriver)(nil)

// NewSimulatedDriver creates a handset with the given screen size and apps.
// Zero values select DefaultDimensions and DefaultSimulatedApps.
func NewSimulatedDriver(dims schemas.Dimensions, apps []schemas.AppInfo, logger *zap.Logger) *SimulatedDriver {
	if !validDimensions(dims) {
		dims = DefaultDimensions
	}
	if len(apps) == 0 {
		apps = DefaultSimulatedApps
	}
	return &SimulatedDriver{
		logger:     logger.Named("simulated_device"),
		dims:       dims,
		apps:       append([]schemas.AppInfo(nil), apps...),
		foreground: "launcher",
	}
}

func (d *SimulatedDriver) record(kind, format string, a ...any) {
	d.actions = append(d.actions, Action{Kind: kind, Detail: fmt.Sprintf(format, a...)})
	d.logger.Debug("Simulated action", zap.String("kind", kind), zap.String("detail", d.actions[len(d.actions)-1].Detail))
}

func (d *SimulatedDriver) checkOpen() error {
	if d.closed {
		return schemas.ErrServiceUnavailable
	}
	return nil
}

// Actions returns every recorded input in order.
func (d *SimulatedDriver) Actions() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.actions...)
}

// Foreground is the identifier or URL currently shown.
func (d *SimulatedDriver) Foreground() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground
}

// TypedText is everything typed since the handset was created.
func (d *SimulatedDriver) TypedText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typed.String()
}

func (d *SimulatedDriver) Status(context.Context) (schemas.DriverStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return schemas.DriverStatus{Enabled: true, Connected: !d.closed}, nil
}

func (d *SimulatedDriver) ScreenDimensions(context.Context) (schemas.Dimensions, error) {
	return d.dims, nil
}

func (d *SimulatedDriver) PerformTouch(_ context.Context, x, y float64, amount, spacingMs int) (schemas.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return schemas.Point{}, err
	}
	px := ToPixels(schemas.NormalizedPoint{X: x, Y: y}, d.dims)
	d.lastTouch = &px
	d.focused = true
	d.record("touch", "(%d, %d) x%d spacing=%dms", px.X, px.Y, amount, spacingMs)
	return px, nil
}

func (d *SimulatedDriver) PerformSwipe(_ context.Context, breakpoints []schemas.NormalizedPoint) error {
	if len(breakpoints) < 2 {
		return schemas.ErrTooFewBreakpoints
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	path := ToPixelPath(breakpoints, d.dims)
	d.record("swipe", "%d points over %s", len(path), SwipeDuration(path))
	return nil
}

func (d *SimulatedDriver) TypeText(_ context.Context, text string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	if !d.focused {
		return false, nil
	}
	d.typed.WriteString(text)
	d.record("type", "%q", text)
	return true, nil
}

func (d *SimulatedDriver) SearchApps(_ context.Context, query string) ([]schemas.AppInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return FilterApps(d.apps, query), nil
}

func (d *SimulatedDriver) OpenApp(_ context.Context, identifier string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	for _, a := range d.apps {
		if a.Identifier == identifier {
			d.foreground = identifier
			d.focused = false
			d.record("open_app", "%s", identifier)
			return nil
		}
	}
	return &schemas.AppNotFoundError{Identifier: identifier}
}

func (d *SimulatedDriver) OpenLink(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.foreground = url
	d.focused = false
	d.record("open_link", "%s", url)
	return nil
}

// TakeScreenshot renders the state as a solid color derived from the
// foreground, with a marker at the last touch.
func (d *SimulatedDriver) TakeScreenshot(context.Context) (schemas.ScreenshotHandle, error) {
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return "", err
	}
	foreground, touch, actions := d.foreground, d.lastTouch, len(d.actions)
	d.mu.Unlock()

	// Render at a quarter of the screen size.
	w, h := max(d.dims.Width/4, 1), max(d.dims.Height/4, 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	hash := fnv.New32a()
	fmt.Fprintf(hash, "%s/%d", foreground, actions)
	sum := hash.Sum32()
	bg := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	if touch != nil {
		cx, cy := touch.X/4, touch.Y/4
		marker := image.Rect(cx-6, cy-6, cx+6, cy+6).Intersect(img.Bounds())
		draw.Draw(img, marker, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}
	return EncodeImage(img)
}

func (d *SimulatedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
