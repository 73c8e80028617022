package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestColor(t *testing.T) {
	tests := []struct {
		name string
		in   HSV
		want ColorType
	}{
		{"black", HSV{H: 90, S: 25, V: 25}, ColorBlack},
		{"blue", HSV{H: 112, S: 160, V: 130}, ColorBlue},
		{"green", HSV{H: 70, S: 150, V: 120}, ColorGreen},
		{"bright yellow", HSV{H: 40, S: 140, V: 230}, ColorYellow},
		{"dark yellow", HSV{H: 25, S: 150, V: 150}, ColorYellow},
		{"empty sample", HSV{}, ColorBlack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NearestColor(tt.in))
		})
	}
}

func TestNearestColorTieKeepsFirst(t *testing.T) {
	// halfway between blue and green
	mid := HSV{H: 92.5, S: 159, V: 128}
	assert.Equal(t, ColorBlue, NearestColor(mid))
}

func TestAverageHSV(t *testing.T) {
	px := []byte{
		100, 200, 200,
		110, 100, 100,
		0, 0, 0, // masked out
		50, 30, 255, // too little saturation
		50, 255, 30, // too dark
	}
	avg, ok := AverageHSV(px)
	assert.True(t, ok)
	assert.Equal(t, HSV{H: 105, S: 150, V: 150}, avg)

	_, ok = AverageHSV([]byte{0, 0, 0})
	assert.False(t, ok)
}
