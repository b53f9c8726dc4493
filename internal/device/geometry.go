// internal/device/geometry.go
package device

import (
	"math"
	"time"

	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// DefaultDimensions is assumed when a device cannot report its screen size
// and fallback is enabled.
var DefaultDimensions = schemas.Dimensions{Width: 1080, Height: 1920}

const (
	// minimumSwipeDuration is used for gestures with fewer than two points.
	minimumSwipeDuration = 300 * time.Millisecond
	swipeBaseDuration    = 100 * time.Millisecond
)

// ToPixels scales a normalized point to the given screen.
func ToPixels(p schemas.NormalizedPoint, d schemas.Dimensions) schemas.Point {
	return schemas.Point{
		X: int(math.Round(p.X * float64(d.Width))),
		Y: int(math.Round(p.Y * float64(d.Height))),
	}
}

// ToPixelPath scales every breakpoint of a gesture.
func ToPixelPath(points []schemas.NormalizedPoint, d schemas.Dimensions) []schemas.Point {
	out := make([]schemas.Point, len(points))
	for i, p := range points {
		out[i] = ToPixels(p, d)
	}
	return out
}

// PathLength is the total Euclidean length of the polyline in pixels.
func PathLength(path []schemas.Point) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		dx := float64(path[i].X - path[i-1].X)
		dy := float64(path[i].Y - path[i-1].Y)
		total += math.Hypot(dx, dy)
	}
	return total
}

// SwipeDuration is one millisecond per pixel of travel plus 100ms.
func SwipeDuration(path []schemas.Point) time.Duration {
	if len(path) < 2 {
		return minimumSwipeDuration
	}
	return time.Duration(PathLength(path))*time.Millisecond + swipeBaseDuration
}

// SegmentDurations splits the total gesture duration across segments in
// proportion to their length.
func SegmentDurations(path []schemas.Point) []time.Duration {
	if len(path) < 2 {
		return nil
	}
	total := SwipeDuration(path)
	length := PathLength(path)
	out := make([]time.Duration, len(path)-1)
	for i := 1; i < len(path); i++ {
		if length == 0 {
			out[i-1] = total / time.Duration(len(out))
			continue
		}
		seg := math.Hypot(float64(path[i].X-path[i-1].X), float64(path[i].Y-path[i-1].Y))
		out[i-1] = time.Duration(float64(total) * seg / length)
	}
	return out
}

func validDimensions(d schemas.Dimensions) bool {
	return d.Width > 0 && d.Height > 0
}
