// Package detection segments the rectified plane into shape and street
// candidates.
package detection

import (
	"image"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"paperscope/overlay"
	"paperscope/pkg/logging"
	"paperscope/tracking"
)

const (
	markerCornerSize = 240
	streetMinArea    = 300
	cannyLow         = 100
	cannyHigh        = 180
)

// Detector turns the rectified tracking buffer into candidates and draws
// the selected diagnostic view.
type Detector struct {
	thresholds *Thresholds
	classifier ShapeClassifier
	dataset    *DatasetRecorder
	renderer   *overlay.Renderer
	logger     *zap.SugaredLogger

	viewMode   atomic.Int32
	renderMode atomic.Int32
}

// NewDetector wires the stage. A nil classifier labels every candidate a
// rectangle; a nil dataset recorder disables dataset capture.
func NewDetector(classifier ShapeClassifier, dataset *DatasetRecorder, renderer *overlay.Renderer, logger *zap.SugaredLogger) *Detector {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	if renderer == nil {
		renderer = overlay.NewRenderer()
	}
	return &Detector{
		thresholds: NewThresholds(DefaultThresholdDark, DefaultThresholdLight, DefaultThresholdRed),
		classifier: classifier,
		dataset:    dataset,
		renderer:   renderer,
		logger:     logging.Named(logger, logging.DETECT),
	}
}

// Thresholds exposes the live segmentation levels.
func (d *Detector) Thresholds() *Thresholds { return d.thresholds }

// SetViewMode selects the diagnostic layer.
func (d *Detector) SetViewMode(v overlay.ViewMode) { d.viewMode.Store(int32(v)) }

// SetRenderMode tells the detector whether render holds the plane.
func (d *Detector) SetRenderMode(m overlay.RenderMode) { d.renderMode.Store(int32(m)) }

// ViewMode returns the current diagnostic layer.
func (d *Detector) ViewMode() overlay.ViewMode { return overlay.ViewMode(d.viewMode.Load()) }

// ArmDataset records the crops of the next tracking tick.
func (d *Detector) ArmDataset() { d.dataset.Arm() }

// Close is a no-op; the classifier is owned by the caller.
func (d *Detector) Close() error { return nil }

// Update segments trackingBuf, masks it in place and returns the
// candidates found in Tracking mode.
func (d *Detector) Update(trackingBuf, render *gocv.Mat, mode tracking.TrackingMode) ([]tracking.Candidate, error) {
	plane := overlay.RenderMode(d.renderMode.Load()) == overlay.RenderPaperScope
	if mode == tracking.ModeIdle || mode == tracking.ModeCalibrating || trackingBuf.Empty() {
		if plane && !render.Empty() {
			render.SetTo(gocv.NewScalar(0, 0, 0, 0))
		}
		return nil, nil
	}
	if trackingBuf.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Errorf("tracking buffer type %v, want 8UC3", trackingBuf.Type())
	}
	view := d.ViewMode()

	value, streets, err := d.segment(*trackingBuf)
	if err != nil {
		return nil, err
	}
	defer value.Close()
	defer streets.Close()

	thresh := d.threshold(value)
	defer thresh.Close()

	if plane && view == overlay.ViewProcessing {
		tv := d.thresholds.Values()
		toBGR(value, render)
		d.renderer.DrawHistogram(render, overlay.ValueHistogram(value.ToBytes()), tv.Dark, tv.Light)
	}
	if plane && view == overlay.ViewThreshold {
		toBGR(thresh, render)
	}

	var candidates []tracking.Candidate
	track := mode == tracking.ModeTracking
	if track {
		candidates = d.findShapes(thresh)
	}
	if track || (plane && view == overlay.ViewStreets) {
		skeleton := skeletonize(streets)
		defer skeleton.Close()
		if track {
			candidates = append(candidates, findStreets(skeleton)...)
		}
		if plane && view == overlay.ViewStreets {
			drawStreets(render, skeleton)
		}
	}

	if plane && view > overlay.ViewStreets {
		toBGR(thresh, render)
		render.MultiplyFloat(0.25)
		if view == overlay.ViewBoundingBoxes {
			d.renderer.DrawCandidates(render, candidates)
		}
	}

	if track {
		maskInPlace(trackingBuf, thresh)
	}
	d.logger.Debugw("detected", "candidates", len(candidates), "view", view.String())
	return candidates, nil
}

// segment classifies pixels and cleans the street mask, which is then
// removed from the value plane.
func (d *Detector) segment(src gocv.Mat) (gocv.Mat, gocv.Mat, error) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

	v, s := ClassifyPixels(src.ToBytes(), hsv.ToBytes(), d.thresholds.Values())
	value, err := matFromBytes(src.Rows(), src.Cols(), v)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}
	raw, err := matFromBytes(src.Rows(), src.Cols(), s)
	if err != nil {
		value.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}
	defer raw.Close()

	streets := gocv.NewMat()
	gocv.MedianBlur(raw, &streets, 3)
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	gocv.Dilate(streets, &streets, kernel)
	gocv.Subtract(value, streets, &value)
	return value, streets, nil
}

// threshold finds ink regions by their edges and Otsu-thresholds each
// region on its own, so lighting differences across the sheet do not
// matter.
func (d *Detector) threshold(value gocv.Mat) gocv.Mat {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(value, &edges, cannyLow, cannyHigh)
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)

	size := image.Pt(value.Cols(), value.Rows())
	if corner := markerCorner(size); !corner.Empty() {
		region := edges.Region(corner)
		region.SetTo(gocv.NewScalar(0, 0, 0, 0))
		region.Close()
	}

	thresh := gocv.NewMatWithSize(value.Rows(), value.Cols(), gocv.MatTypeCV8UC1)
	thresh.SetTo(gocv.NewScalar(0, 0, 0, 0))

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	bounds := image.Rect(0, 0, size.X, size.Y)
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		if !validContour(pv) {
			continue
		}
		rect := gocv.BoundingRect(pv).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		otsuRegion(value, &thresh, rect)
	}
	return thresh
}

func otsuRegion(value gocv.Mat, thresh *gocv.Mat, rect image.Rectangle) {
	roi := value.Region(rect)
	defer roi.Close()
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(roi, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	dst := thresh.Region(rect)
	defer dst.Close()
	binary.CopyTo(&dst)
}

// findShapes extracts and classifies candidates from the binary mask.
func (d *Detector) findShapes(thresh gocv.Mat) []tracking.Candidate {
	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	record := d.dataset.take()
	bounds := image.Rect(0, 0, thresh.Cols(), thresh.Rows())
	var out []tracking.Candidate
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		if !validContour(pv) {
			continue
		}
		simple := gocv.ApproxPolyDP(pv, 0.02*gocv.ArcLength(pv, true), true)
		if simple.Size() < 3 {
			simple.Close()
			continue
		}
		rect := gocv.BoundingRect(simple).Intersect(bounds)
		shape := tracking.ShapeRectangle
		if !rect.Empty() {
			roi := thresh.Region(rect)
			var err error
			shape, err = d.classifier.Classify(roi)
			if err != nil {
				d.logger.Debugw("classification failed", "error", err)
			}
			if record {
				d.saveCrop(roi)
			}
			roi.Close()
		}
		out = append(out, tracking.Candidate{
			Contour: simple.ToPoints(),
			Shape:   shape,
			Points:  Outline(shape, simple),
		})
		simple.Close()
	}
	return out
}

func (d *Detector) saveCrop(roi gocv.Mat) {
	crop := PadROI(roi)
	defer crop.Close()
	path, err := d.dataset.Save(crop)
	if err != nil {
		d.logger.Warnw("dataset capture failed", "error", err)
		return
	}
	d.logger.Infow("dataset crop saved", "path", path)
}

// skeletonize thins the street mask to single pixel center lines.
func skeletonize(streets gocv.Mat) gocv.Mat {
	skeleton := gocv.NewMat()
	contrib.Thinning(streets, &skeleton, contrib.ThinningZhangSuen)
	return skeleton
}

func findStreets(skeleton gocv.Mat) []tracking.Candidate {
	grown := gocv.NewMat()
	defer grown.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(6, 6))
	defer kernel.Close()
	gocv.Dilate(skeleton, &grown, kernel)

	contours := gocv.FindContours(grown, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []tracking.Candidate
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		if gocv.ContourArea(pv) <= streetMinArea {
			continue
		}
		pts := streetOutline(pv)
		out = append(out, tracking.Candidate{Contour: pts, Shape: tracking.ShapeStreet, Points: pts})
	}
	return out
}

// drawStreets dims the plane and paints the skeleton into the red channel.
func drawStreets(render *gocv.Mat, skeleton gocv.Mat) {
	if render.Empty() || render.Channels() != 3 {
		return
	}
	channels := gocv.Split(*render)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	channels[0].MultiplyFloat(0.15)
	channels[1].MultiplyFloat(0.15)
	skeleton.CopyTo(&channels[2])
	gocv.Merge(channels, render)
}

// maskInPlace keeps only the pixels covered by the eroded mask.
func maskInPlace(buf *gocv.Mat, thresh gocv.Mat) {
	eroded := gocv.NewMat()
	defer eroded.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	gocv.Erode(thresh, &eroded, kernel)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.CvtColor(eroded, &mask, gocv.ColorGrayToBGR)
	gocv.BitwiseAnd(*buf, mask, buf)
}

func toBGR(gray gocv.Mat, dst *gocv.Mat) {
	gocv.CvtColor(gray, dst, gocv.ColorGrayToBGR)
}

// markerCorner is the region holding the ArUco marker after rectification.
func markerCorner(size image.Point) image.Rectangle {
	return image.Rect(0, 0, markerCornerSize, markerCornerSize).Intersect(image.Rect(0, 0, size.X, size.Y))
}

func matFromBytes(rows, cols int, data []byte) (gocv.Mat, error) {
	m, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, data)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "wrap plane")
	}
	defer m.Close()
	return m.Clone(), nil
}
