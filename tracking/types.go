package tracking

import (
	"image"

	"github.com/golang/geo/r2"
)

// TrackingMode represents the current mode of the tracking system
type TrackingMode int

const (
	ModeIdle TrackingMode = iota
	ModePreview
	ModeTracking
	ModeStopped
	ModeCalibrating
)

func (m TrackingMode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModePreview:
		return "PREVIEW"
	case ModeTracking:
		return "TRACKING"
	case ModeStopped:
		return "STOPPED"
	case ModeCalibrating:
		return "CALIBRATING"
	default:
		return "UNKNOWN"
	}
}

// Rectifies reports whether the capture stage warps frames onto the plane
// in this mode.
func (m TrackingMode) Rectifies() bool {
	return m == ModePreview || m == ModeTracking || m == ModeStopped
}

// ShapeType is the classified shape of a candidate. The numeric values are
// sent to the project server.
type ShapeType int

const (
	ShapeRectangle ShapeType = iota
	ShapeCircle
	ShapeTriangle
	ShapeCross
	ShapeOrganic
	ShapeStreet
)

// ClassifiedShapes is the number of shapes the classifier distinguishes.
// Streets are found by color, not classified.
const ClassifiedShapes = 5

func (s ShapeType) String() string {
	switch s {
	case ShapeRectangle:
		return "rectangle"
	case ShapeCircle:
		return "circle"
	case ShapeTriangle:
		return "triangle"
	case ShapeCross:
		return "cross"
	case ShapeOrganic:
		return "organic"
	case ShapeStreet:
		return "street"
	default:
		return "unknown"
	}
}

// ColorType is the palette category of an object.
type ColorType int

const (
	ColorBlack ColorType = iota
	ColorBlue
	ColorGreen
	ColorYellow
)

func (c ColorType) String() string {
	switch c {
	case ColorBlack:
		return "black"
	case ColorBlue:
		return "blue"
	case ColorGreen:
		return "green"
	case ColorYellow:
		return "yellow"
	default:
		return "unknown"
	}
}

// Candidate is a per-frame shape detection before identity is assigned.
type Candidate struct {
	Contour []image.Point
	Shape   ShapeType
	// Points is the shape-specific outline used for matching and export.
	Points []image.Point
}

// HSV is an OpenCV-range HSV color (hue 0-180, saturation and value 0-255).
type HSV struct {
	H, S, V float64
}

// TrackedObject is a shape with a stable identity across frames
type TrackedObject struct {
	ID         string
	Shape      ShapeType
	Color      ColorType
	AvgColor   HSV
	Confidence int

	// Points is the creation outline normalized by the frame size.
	Points []r2.Point
	// Pixels is the creation outline in frame pixels. Matching always runs
	// against it, so an object never drifts with its candidates.
	Pixels []image.Point
	// LastSeen is the outline of the last matched candidate.
	LastSeen []image.Point
}

// Bounds is the bounding box of the creation outline.
func (o *TrackedObject) Bounds() image.Rectangle {
	return BoundingRect(o.Pixels)
}

// Stable reports whether the object is confident enough to be exported.
func (o *TrackedObject) Stable() bool {
	return o.Confidence > StableConfidence
}

// BoundingRect is the smallest rectangle containing pts, with an exclusive
// max corner.
func BoundingRect(pts []image.Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0].Add(image.Pt(1, 1))}
	for _, p := range pts[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}
	return r
}
