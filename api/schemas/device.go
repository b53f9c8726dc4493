package schemas

import (
	"context"
	"errors"
	"fmt"
)

// -- Device geometry --

// NormalizedPoint is a screen position with both axes in [0,1].
type NormalizedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point is a screen position in device pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Dimensions is the screen size in device pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AppInfo describes one launchable application.
type AppInfo struct {
	Name       string `json:"appName"`
	Identifier string `json:"packageName"`
}

// DriverStatus reports readiness of the automation service.
type DriverStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// Ready is true when the service is both enabled and connected.
func (s DriverStatus) Ready() bool { return s.Enabled && s.Connected }

// -- Driver errors --

var (
	// ErrServiceUnavailable is returned when the automation service is not active.
	ErrServiceUnavailable = errors.New("automation service not active")
	// ErrGeometryUnavailable is returned when the screen size cannot be determined.
	ErrGeometryUnavailable = errors.New("screen geometry unavailable")
	// ErrTooFewBreakpoints is returned by drivers asked to swipe through fewer than two points.
	ErrTooFewBreakpoints = errors.New("swipe requires at least 2 breakpoints")
)

// AppNotFoundError is returned by OpenApp when no launchable activity exists.
type AppNotFoundError struct {
	Identifier string
}

func (e *AppNotFoundError) Error() string {
	return fmt.Sprintf("No launchable activity found for package %s", e.Identifier)
}

// DeviceDriver performs simulated input on a handset and observes its screen.
type DeviceDriver interface {
	// PerformTouch taps amount times at the normalized position, waiting
	// spacingMs between taps, and returns the pixel position touched.
	PerformTouch(ctx context.Context, x, y float64, amount, spacingMs int) (Point, error)
	PerformSwipe(ctx context.Context, breakpoints []NormalizedPoint) error
	// TypeText returns false when no editable element has focus.
	TypeText(ctx context.Context, text string) (bool, error)
	SearchApps(ctx context.Context, query string) ([]AppInfo, error)
	OpenApp(ctx context.Context, identifier string) error
	OpenLink(ctx context.Context, url string) error
	TakeScreenshot(ctx context.Context) (ScreenshotHandle, error)
	ScreenDimensions(ctx context.Context) (Dimensions, error)
	Status(ctx context.Context) (DriverStatus, error)
	Close() error
}
