package tracking

import "math"

// minSampleLevel drops near-black and unsaturated pixels from the average.
const minSampleLevel = 30

// Palette lists the reference HSV points of each ColorType, indexed by the
// ColorType value.
var Palette = [][]HSV{
	ColorBlack:  {{H: 90, S: 20, V: 20}},
	ColorBlue:   {{H: 110, S: 165, V: 128}},
	ColorGreen:  {{H: 75, S: 153, V: 128}},
	ColorYellow: {{H: 43, S: 140, V: 235}, {H: 25, S: 153, V: 155}},
}

// AverageHSV averages packed 3-channel HSV bytes, skipping pixels whose
// value or saturation is at most 30. Averages are truncated to integers.
// ok is false when no pixel qualified.
func AverageHSV(hsv []byte) (avg HSV, ok bool) {
	var h, s, v, n int
	for i := 0; i+2 < len(hsv); i += 3 {
		sat, val := int(hsv[i+1]), int(hsv[i+2])
		if val <= minSampleLevel || sat <= minSampleLevel {
			continue
		}
		h += int(hsv[i])
		s += sat
		v += val
		n++
	}
	if n == 0 {
		return HSV{}, false
	}
	return HSV{H: float64(h / n), S: float64(s / n), V: float64(v / n)}, true
}

// NearestColor picks the palette entry closest to c. Ties keep the
// earlier entry.
func NearestColor(c HSV) ColorType {
	best := ColorBlack
	bestDist := math.Inf(1)
	for i, refs := range Palette {
		for _, ref := range refs {
			d := math.Sqrt((c.H-ref.H)*(c.H-ref.H) + (c.S-ref.S)*(c.S-ref.S) + (c.V-ref.V)*(c.V-ref.V))
			if d < bestDist {
				bestDist = d
				best = ColorType(i)
			}
		}
	}
	return best
}
