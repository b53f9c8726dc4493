// internal/device/gesture.go
package device

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// FormatTouchCommand renders a tap as the equivalent tool call text.
func FormatTouchCommand(p schemas.NormalizedPoint) string {
	return fmt.Sprintf("touch({ x: %.3f, y: %.3f, num: 1 })", p.X, p.Y)
}

// FormatSwipeCommand renders a gesture as the equivalent tool call text.
func FormatSwipeCommand(points []schemas.NormalizedPoint) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("{\n  x: %.3f,\n  y: %.3f\n}", p.X, p.Y)
	}
	return fmt.Sprintf("swipe({ breakpoints: [%s] })", strings.Join(parts, ","))
}

// ParsePoint reads "x,y" with both values in [0,1].
func ParsePoint(s string) (schemas.NormalizedPoint, error) {
	var p schemas.NormalizedPoint
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g,%g", &p.X, &p.Y); err != nil {
		return p, fmt.Errorf("invalid point %q: expected x,y", s)
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return p, fmt.Errorf("point %q is outside [0,1]", s)
	}
	return p, nil
}
