// Package overlay draws the diagnostic layers of the render buffer.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"paperscope/tracking"
)

const (
	histWidth  = 200
	histHeight = 180
	histBins   = 256
)

// Renderer handles visualization and overlay rendering
type Renderer struct {
	font      gocv.HersheyFont
	labelSize float64
	textSize  float64
}

// NewRenderer creates a renderer with the default fonts.
func NewRenderer() *Renderer {
	return &Renderer{
		font:      gocv.FontHersheySimplex,
		labelSize: 0.5,
		textSize:  0.75,
	}
}

func (r *Renderer) text(img *gocv.Mat, s string, at image.Point, size float64, c color.RGBA, thickness int) {
	gocv.PutTextWithParams(img, s, at, r.font, size, c, thickness, gocv.LineAA, false)
}

// DrawMarker outlines a detected marker.
func (r *Renderer) DrawMarker(img *gocv.Mat, corners []image.Point, id int) {
	if len(corners) < 4 {
		return
	}
	r.polyline(img, corners, green, 2)
	gocv.Circle(img, corners[0], 4, red, -1)
	r.text(img, fmt.Sprintf("id=%d", id), corners[0].Add(image.Pt(0, -10)), r.labelSize, green, 1)
}

// DrawPlane outlines the projected plane corners.
func (r *Renderer) DrawPlane(img *gocv.Mat, corners []image.Point) {
	if len(corners) < 4 {
		return
	}
	r.polyline(img, corners, orange, 2)
	for _, p := range corners {
		gocv.Circle(img, p, 5, yellow, -1)
	}
}

func (r *Renderer) polyline(img *gocv.Mat, pts []image.Point, c color.RGBA, thickness int) {
	for i := range pts {
		gocv.Line(img, pts[i], pts[(i+1)%len(pts)], c, thickness)
	}
}

// DrawCalibrationProgress prints the observation count and the seconds
// left until the next capture.
func (r *Renderer) DrawCalibrationProgress(img *gocv.Mat, captured, target, countdown int) {
	r.text(img, fmt.Sprintf("%d/%d", captured, target), image.Pt(30, 40), 1, white, 2)
	r.text(img, fmt.Sprintf("%d", countdown), image.Pt(30, 80), 1, white, 2)
}

// DrawCorners marks detected board corners.
func (r *Renderer) DrawCorners(img *gocv.Mat, corners []image.Point) {
	for i, p := range corners {
		if i > 0 {
			gocv.Line(img, corners[i-1], p, orange, 1)
		}
		gocv.Circle(img, p, 4, green, 2)
	}
}

// DrawStatus prints the frame rate and mode in the top-left corner.
func (r *Renderer) DrawStatus(img *gocv.Mat, fps float64, mode tracking.TrackingMode) {
	r.text(img, fmt.Sprintf("FPS: %.1f", fps), image.Pt(30, 40), r.textSize, white, 1)
	r.text(img, mode.String(), image.Pt(img.Cols()-160, 40), r.textSize, white, 1)
}

// DrawCandidates draws bounding boxes and shape labels.
func (r *Renderer) DrawCandidates(img *gocv.Mat, candidates []tracking.Candidate) {
	for _, c := range candidates {
		if len(c.Contour) == 0 {
			continue
		}
		col := shapeColor(c.Shape)
		rect := tracking.BoundingRect(c.Contour)
		gocv.Rectangle(img, rect, col, 1)
		r.text(img, c.Shape.String(), image.Pt(rect.Min.X, rect.Min.Y-10), r.textSize, col, 2)
	}
}

// DrawObjects draws stable objects with their outline, color sample and
// confidence, followed by candidate and object counts.
func (r *Renderer) DrawObjects(img *gocv.Mat, objects []*tracking.TrackedObject, candidates int) {
	shown := 0
	for _, o := range objects {
		if o.Confidence < tracking.StableConfidence || len(o.Pixels) == 0 {
			continue
		}
		shown++
		r.drawOutline(img, o)

		rect := o.Bounds()
		if rect.Dx() < 1 || rect.Dy() < 1 {
			continue
		}
		if o.Shape != tracking.ShapeStreet {
			swatch := image.Pt(rect.Min.X, rect.Max.Y+20)
			gocv.Circle(img, swatch, 10, SwatchColor(o.AvgColor), -1)
			r.text(img, o.Color.String(), image.Pt(rect.Min.X+16, rect.Max.Y+25), r.labelSize, white, 1)
		}
		r.text(img, fmt.Sprintf("%d", o.Confidence), image.Pt(rect.Min.X, rect.Min.Y-8), r.labelSize, white, 1)
	}

	r.text(img, fmt.Sprintf("Candidates: %d", candidates), image.Pt(30, 80), r.textSize, white, 1)
	r.text(img, fmt.Sprintf("Objects: %d", shown), image.Pt(30, 110), r.textSize, white, 1)
}

func (r *Renderer) drawOutline(img *gocv.Mat, o *tracking.TrackedObject) {
	// crosses are a single point
	if o.Shape == tracking.ShapeCross {
		gocv.Circle(img, o.Pixels[0], 5, yellow, -1)
		return
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{o.Pixels})
	defer pv.Close()
	gocv.DrawContours(img, pv, -1, shapeColor(o.Shape), 1)
	if o.Shape == tracking.ShapeStreet {
		return
	}
	for _, p := range o.Pixels {
		gocv.Circle(img, p, 5, yellow, -1)
	}
}

// ValueHistogram counts gray levels, ignoring the darkest 30 bins and the
// near-white 235..254 range which are dominated by paper and ink.
func ValueHistogram(values []byte) [histBins]float64 {
	var hist [histBins]float64
	for _, v := range values {
		hist[v]++
	}
	for i := 0; i < 30; i++ {
		hist[i] = 0
	}
	for i := 235; i < 255; i++ {
		hist[i] = 0
	}
	return hist
}

// normalizeHistogram scales bins to [0, height] by min-max.
func normalizeHistogram(hist [histBins]float64, height float64) [histBins]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range hist {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	var out [histBins]float64
	if hi <= lo {
		return out
	}
	for i, v := range hist {
		out[i] = (v - lo) / (hi - lo) * height
	}
	return out
}

// DrawHistogram paints the value histogram panel into the top-left corner.
// Bins outside [dark, light] are drawn in the outside color.
func (r *Renderer) DrawHistogram(img *gocv.Mat, hist [histBins]float64, dark, light int) {
	if img.Cols() < histWidth || img.Rows() < histHeight {
		return
	}
	panel := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), histHeight, histWidth, gocv.MatTypeCV8UC3)
	defer panel.Close()

	norm := normalizeHistogram(hist, histHeight)
	binWidth := int(math.Round(float64(histWidth) / histBins))
	if binWidth < 1 {
		binWidth = 1
	}
	for i := 1; i < histBins; i++ {
		c := histInside
		if i < dark || i > light {
			c = histOutside
		}
		gocv.Line(&panel,
			image.Pt(binWidth*(i-1), histHeight-int(math.Round(norm[i-1]))),
			image.Pt(binWidth*i, histHeight-int(math.Round(norm[i]))),
			c, 2)
	}
	gocv.Line(&panel, image.Pt(dark, 0), image.Pt(dark, histHeight), histOutside, 2)
	gocv.Line(&panel, image.Pt(light, 0), image.Pt(light, histHeight), histOutside, 2)

	dst := img.Region(image.Rect(0, 0, histWidth, histHeight))
	defer dst.Close()
	panel.CopyTo(&dst)
}
