package overlay

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"paperscope/tracking"
)

var (
	green  = color.RGBA{G: 255, A: 255}
	red    = color.RGBA{R: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
	white  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	orange = color.RGBA{R: 255, G: 128, A: 255}

	histInside  = color.RGBA{R: 0, G: 80, B: 255, A: 255}
	histOutside = color.RGBA{R: 180, G: 50, B: 180, A: 255}
)

// shapeColor is red for streets and green for everything else.
func shapeColor(s tracking.ShapeType) color.RGBA {
	if s == tracking.ShapeStreet {
		return red
	}
	return green
}

// SwatchColor converts an OpenCV-range HSV sample to a drawable color.
func SwatchColor(c tracking.HSV) color.RGBA {
	h := c.H * 2
	if h >= 360 {
		h -= 360
	}
	rgb := colorful.Hsv(h, clamp01(c.S/255), clamp01(c.V/255)).Clamped()
	r, g, b := rgb.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
