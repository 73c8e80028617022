package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"paperscope/tracking"
)

func TestSwatchColor(t *testing.T) {
	tests := []struct {
		name    string
		in      tracking.HSV
		r, g, b uint8
	}{
		{"red", tracking.HSV{H: 0, S: 255, V: 255}, 255, 0, 0},
		{"green", tracking.HSV{H: 60, S: 255, V: 255}, 0, 255, 0},
		{"blue", tracking.HSV{H: 120, S: 255, V: 255}, 0, 0, 255},
		{"black", tracking.HSV{}, 0, 0, 0},
		{"wraps hue", tracking.HSV{H: 180, S: 255, V: 255}, 255, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := SwatchColor(tt.in)
			assert.Equal(t, tt.r, c.R)
			assert.Equal(t, tt.g, c.G)
			assert.Equal(t, tt.b, c.B)
			assert.Equal(t, uint8(255), c.A)
		})
	}
}

func TestValueHistogram(t *testing.T) {
	values := []byte{0, 10, 29, 30, 30, 128, 235, 254, 255}
	hist := ValueHistogram(values)
	assert.Zero(t, hist[0])
	assert.Zero(t, hist[29])
	assert.Equal(t, 2.0, hist[30])
	assert.Equal(t, 1.0, hist[128])
	assert.Zero(t, hist[235])
	assert.Zero(t, hist[254])
	assert.Equal(t, 1.0, hist[255])

	norm := normalizeHistogram(hist, histHeight)
	assert.Equal(t, float64(histHeight), norm[30])
	assert.Equal(t, float64(histHeight)/2, norm[128])
	assert.Zero(t, norm[0])
}

func TestModes(t *testing.T) {
	assert.True(t, RenderCamera.Emits())
	assert.True(t, RenderPaperScope.Emits())
	assert.False(t, RenderNone.Emits())
	assert.Equal(t, "contours", ViewContours.String())
	assert.Equal(t, "unknown", ViewMode(42).String())
}
