// Package geometry holds the planar math behind rectification: paper plane
// sizing, homographies, pinhole intrinsics with Brown-Conrady distortion and
// single-marker planar pose.
package geometry

import (
	"image"

	"github.com/golang/geo/r2"
)

// Physical paper layout in meters. The workspace is an A4 sheet in landscape
// with the marker printed in its top-left corner.
const (
	PaperWidth    = 0.300
	PaperHeight   = 0.210
	MarkerPadding = 0.013
	MarkerSize    = 0.030

	// CanonicalWidth is the pixel width of the rectified plane raster.
	CanonicalWidth = 960

	// markerStampMargin is added around the marker when it is blanked out
	// of the rectified image.
	markerStampMargin = 40
)

// DefaultRatio is the aspect ratio of the bare sheet.
const DefaultRatio = PaperWidth / PaperHeight

// PlaneGeometry is the usable plane area next to the marker.
type PlaneGeometry struct {
	Width         float64
	Height        float64
	MarkerSize    float64
	MarkerPadding float64
}

// NewPlaneGeometry derives the plane size from the project aspect ratio and
// a scaling factor. Non-positive inputs fall back to the sheet ratio and 1.0,
// as does a ratio too extreme to leave a positive area on the sheet.
func NewPlaneGeometry(ratio, scaling float64) PlaneGeometry {
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	if scaling <= 0 {
		scaling = 1
	}

	w, h := planeSize(ratio)
	if w <= 0 || h <= 0 {
		w, h = planeSize(DefaultRatio)
	}

	return PlaneGeometry{
		Width:         w * scaling,
		Height:        h * scaling,
		MarkerSize:    MarkerSize,
		MarkerPadding: MarkerPadding,
	}
}

func planeSize(ratio float64) (w, h float64) {
	if ratio >= DefaultRatio {
		return PaperWidth - 2*MarkerPadding, PaperWidth/ratio - 2*MarkerPadding
	}
	return PaperHeight*ratio - 2*MarkerPadding, PaperHeight - 2*MarkerPadding
}

// CanonicalHeight is the pixel height of the rectified raster for a
// CanonicalWidth wide image.
func (p PlaneGeometry) CanonicalHeight() int {
	if p.Width <= 0 {
		return 0
	}
	return int(p.Height * CanonicalWidth / p.Width)
}

// CanonicalCorners are the rectified destinations of the plane corners in
// top-left, top-right, bottom-right, bottom-left order.
func (p PlaneGeometry) CanonicalCorners() []r2.Point {
	h := float64(p.CanonicalHeight())
	return []r2.Point{
		{X: 0, Y: 0},
		{X: CanonicalWidth, Y: 0},
		{X: CanonicalWidth, Y: h},
		{X: 0, Y: h},
	}
}

// Corners returns the plane corners in marker coordinates (meters, marker
// center at the origin, y up), ordered top-left, top-right, bottom-right,
// bottom-left.
func (p PlaneGeometry) Corners() []r2.Point {
	half := p.MarkerSize / 2
	return []r2.Point{
		{X: -half, Y: half},
		{X: -half + p.Width, Y: half},
		{X: -half + p.Width, Y: half - p.Height},
		{X: -half, Y: half - p.Height},
	}
}

// MarkerCorners returns the marker corners in marker coordinates in the
// detector's top-left, top-right, bottom-right, bottom-left order.
func (p PlaneGeometry) MarkerCorners() []r2.Point {
	half := p.MarkerSize / 2
	return []r2.Point{
		{X: -half, Y: half},
		{X: half, Y: half},
		{X: half, Y: -half},
		{X: -half, Y: -half},
	}
}

// MarkerStamp is the region of the rectified raster covered by the marker.
func (p PlaneGeometry) MarkerStamp() image.Rectangle {
	if p.Width <= 0 || p.Height <= 0 {
		return image.Rectangle{}
	}
	h := float64(p.CanonicalHeight())
	return image.Rect(0, 0,
		int(p.MarkerSize*CanonicalWidth/p.Width+markerStampMargin),
		int(p.MarkerSize*h/p.Height+markerStampMargin))
}
