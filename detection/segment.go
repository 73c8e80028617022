package detection

import "sync/atomic"

// Default thresholds used until settings say otherwise.
const (
	DefaultThresholdDark  = 50
	DefaultThresholdLight = 180
	DefaultThresholdRed   = 150
)

// Thresholds are the live-tunable segmentation levels. Setters run on the
// command side while the worker reads a snapshot per tick.
type Thresholds struct {
	dark  atomic.Int32
	light atomic.Int32
	red   atomic.Int32
}

// ThresholdValues is a consistent copy of Thresholds.
type ThresholdValues struct {
	Dark  int
	Light int
	Red   int
}

// NewThresholds stores the initial levels as given.
func NewThresholds(dark, light, red int) *Thresholds {
	t := &Thresholds{}
	t.dark.Store(int32(dark))
	t.light.Store(int32(light))
	t.red.Store(int32(red))
	return t
}

// SetDark keeps dark below light.
func (t *Thresholds) SetDark(v int) int {
	light := int(t.light.Load())
	if v >= light {
		v = light - 1
	}
	t.dark.Store(int32(v))
	return v
}

// SetLight keeps light above dark.
func (t *Thresholds) SetLight(v int) int {
	dark := int(t.dark.Load())
	if v <= dark {
		v = dark + 1
	}
	t.light.Store(int32(v))
	return v
}

// SetRed sets the street hue sensitivity.
func (t *Thresholds) SetRed(v int) {
	t.red.Store(int32(v))
}

// Values returns the current levels.
func (t *Thresholds) Values() ThresholdValues {
	return ThresholdValues{
		Dark:  int(t.dark.Load()),
		Light: int(t.light.Load()),
		Red:   int(t.red.Load()),
	}
}

// redHueRange is the hue distance from 0/180 that still counts as red.
func (v ThresholdValues) redHueRange() float64 {
	return float64(v.Red) / 255.0 * 50
}

// ClassifyPixels turns packed BGR and HSV frames into the foreground value
// plane and the street mask. The value channel is inverted so ink is
// bright. Rules are applied in order, first match wins:
//
//	red ink          -> street mask 255, value 0
//	gray             -> value 0
//	dark and dull    -> value 0
//	light            -> value 255
//	saturated        -> value 255
//
// Pixels matching no rule keep their inverted value.
func ClassifyPixels(bgr, hsv []byte, t ThresholdValues) (value, streets []byte) {
	n := len(bgr) / 3
	if len(hsv)/3 < n {
		n = len(hsv) / 3
	}
	value = make([]byte, n)
	streets = make([]byte, n)
	rng := t.redHueRange()

	for i := 0; i < n; i++ {
		b, g, r := int(bgr[3*i]), int(bgr[3*i+1]), int(bgr[3*i+2])
		hue, sat := float64(hsv[3*i]), int(hsv[3*i+1])
		val := 255 - int(hsv[3*i+2])
		out := val

		switch {
		case r > 50 && (hue < rng || hue > 180-rng) && val > 50 && sat > 50:
			streets[i] = 255
			out = 0
		case r > 150 && abs(r-g) < 10 && abs(g-b) < 20:
			out = 0
		case val < t.Dark && sat < t.Dark:
			out = 0
		case val > t.Light:
			out = 255
		case sat > val && sat > 70 && val > 60:
			out = 255
		}
		value[i] = byte(out)
	}
	return value, streets
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
