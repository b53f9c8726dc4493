package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/automate-cli/api/schemas"
)

func TestToPixels(t *testing.T) {
	dims := schemas.Dimensions{Width: 1080, Height: 2400}
	assert.Equal(t, schemas.Point{X: 540, Y: 1200}, ToPixels(schemas.NormalizedPoint{X: 0.5, Y: 0.5}, dims))
	assert.Equal(t, schemas.Point{X: 0, Y: 0}, ToPixels(schemas.NormalizedPoint{}, dims))
	assert.Equal(t, schemas.Point{X: 1080, Y: 2400}, ToPixels(schemas.NormalizedPoint{X: 1, Y: 1}, dims))
	assert.Equal(t, schemas.Point{X: 108, Y: 2160}, ToPixels(schemas.NormalizedPoint{X: 0.1, Y: 0.9}, dims))
}

func TestSwipeDuration(t *testing.T) {
	tests := []struct {
		name string
		path []schemas.Point
		want time.Duration
	}{
		{"no points", nil, 300 * time.Millisecond},
		{"single point", []schemas.Point{{X: 10, Y: 10}}, 300 * time.Millisecond},
		{"vertical", []schemas.Point{{X: 540, Y: 1500}, {X: 540, Y: 500}}, 1100 * time.Millisecond},
		{"3-4-5 polyline", []schemas.Point{{X: 0, Y: 0}, {X: 30, Y: 40}, {X: 30, Y: 140}}, 250 * time.Millisecond},
		{"stationary", []schemas.Point{{X: 5, Y: 5}, {X: 5, Y: 5}}, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SwipeDuration(tt.path))
		})
	}
}

func TestSegmentDurations(t *testing.T) {
	path := []schemas.Point{{X: 0, Y: 0}, {X: 0, Y: 100}, {X: 0, Y: 400}}
	segs := SegmentDurations(path)
	assert.Equal(t, []time.Duration{125 * time.Millisecond, 375 * time.Millisecond}, segs)

	var total time.Duration
	for _, s := range segs {
		total += s
	}
	assert.Equal(t, SwipeDuration(path), total)

	assert.Nil(t, SegmentDurations(path[:1]))
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		SegmentDurations([]schemas.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}))
}
