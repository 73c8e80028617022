package pipeline

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/overlay"
	"paperscope/pkg/logging"
	"paperscope/tracking"
)

// Describer keeps the scene model in step with the detected candidates and
// pushes it to the project server.
type Describer struct {
	scene    *tracking.Scene
	sync     *tracking.SceneSync
	renderer *overlay.Renderer
	logger   *zap.SugaredLogger

	renderMode atomic.Int32
	viewMode   atomic.Int32
}

// NewDescriber creates a describe stage posting scenes through poster.
func NewDescriber(poster tracking.Poster, clk clock.Clock, renderer *overlay.Renderer, logger *zap.SugaredLogger) *Describer {
	if renderer == nil {
		renderer = overlay.NewRenderer()
	}
	sceneLogger := logging.Named(logger, logging.SCENE)
	return &Describer{
		scene:    tracking.NewScene(sceneLogger),
		sync:     tracking.NewSceneSync(poster, clk, sceneLogger),
		renderer: renderer,
		logger:   logging.Named(logger, logging.DESCRIBE),
	}
}

// SetRenderMode selects what the render buffer shows.
func (d *Describer) SetRenderMode(m overlay.RenderMode) { d.renderMode.Store(int32(m)) }

// SetViewMode selects the paperscope view.
func (d *Describer) SetViewMode(v overlay.ViewMode) { d.viewMode.Store(int32(v)) }

// SetProjectID sets the project scenes are saved under.
func (d *Describer) SetProjectID(id string) { d.sync.SetProjectID(id) }

// Objects returns the tracked objects.
func (d *Describer) Objects() []*tracking.TrackedObject { return d.scene.Objects() }

// Update matches candidates into the scene, samples object colors from the
// masked buffer and hands the scene to the sync. Outside tracking the scene
// is cleared.
func (d *Describer) Update(ctx context.Context, trackingBuf, render *gocv.Mat, mode tracking.TrackingMode, candidates []tracking.Candidate) error {
	if mode != tracking.ModeTracking || trackingBuf.Empty() {
		d.scene.Clear()
		return nil
	}

	frame := image.Pt(trackingBuf.Cols(), trackingBuf.Rows())
	changed := d.scene.Update(candidates, frame)
	objects := d.scene.Objects()
	for _, o := range objects {
		sampleColor(*trackingBuf, o)
	}

	if overlay.RenderMode(d.renderMode.Load()) == overlay.RenderPaperScope &&
		overlay.ViewMode(d.viewMode.Load()) == overlay.ViewContours {
		render.MultiplyFloat(0.5)
		d.renderer.DrawObjects(render, objects, len(candidates))
	}

	if changed {
		d.logger.Debugw("stable objects changed", "stable", d.scene.StableCount(), "objects", len(objects))
	}
	d.sync.Tick(ctx, objects, changed)
	return nil
}

// Close drops every object.
func (d *Describer) Close() error {
	d.scene.Clear()
	return nil
}

// sampleColor averages the HSV color inside the last seen outline. Streets,
// degenerate outlines and boxes leaving the buffer keep their color.
func sampleColor(buf gocv.Mat, o *tracking.TrackedObject) {
	if o.Shape == tracking.ShapeStreet || buf.Channels() != 3 {
		return
	}
	pts := o.LastSeen
	if len(pts) == 0 {
		pts = o.Pixels
	}
	if len(pts) < 3 {
		return
	}
	rect := tracking.BoundingRect(pts)
	if rect.Dx() < 1 || rect.Dy() < 1 || !rect.In(image.Rect(0, 0, buf.Cols(), buf.Rows())) {
		return
	}

	roi := buf.Region(rect)
	defer roi.Close()

	local := make([]image.Point, len(pts))
	for i, p := range pts {
		local[i] = p.Sub(rect.Min)
	}
	mask := gocv.Zeros(rect.Dy(), rect.Dx(), gocv.MatTypeCV8UC1)
	defer mask.Close()
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{local})
	defer pv.Close()
	gocv.FillPoly(&mask, pv, color.RGBA{R: 255, G: 255, B: 255, A: 0})

	masked := gocv.NewMat()
	defer masked.Close()
	roi.CopyToWithMask(&masked, mask)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(masked, &hsv, gocv.ColorBGRToHSV)

	avg, _ := tracking.AverageHSV(hsv.ToBytes())
	o.AvgColor = avg
	o.Color = tracking.NearestColor(avg)
}
