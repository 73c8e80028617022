// Package capture reads camera frames and rectifies the paper sheet onto
// the canonical plane.
package capture

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/geometry"
	"paperscope/overlay"
	"paperscope/pkg/logging"
	"paperscope/settings"
	"paperscope/tracking"
)

// DefaultSmoothing is the weight kept from the previous corner estimate.
const DefaultSmoothing = 0.8

var stampColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// Capture is the first pipeline stage. All methods run on the pipeline
// worker.
type Capture struct {
	camera   Camera
	markers  MarkerDetector
	store    settings.Store
	renderer *overlay.Renderer
	logger   *zap.SugaredLogger

	opened bool
	device string
	optics geometry.Camera

	ratio      float64
	scaling    float64
	smoothing  float64
	plane      geometry.PlaneGeometry
	manual     bool
	manualPts  []r2.Point
	renderMode overlay.RenderMode

	current []r2.Point
}

// NewCapture wires the stage and reads its tunables from store.
func NewCapture(camera Camera, markers MarkerDetector, store settings.Store, renderer *overlay.Renderer, logger *zap.SugaredLogger) *Capture {
	if renderer == nil {
		renderer = overlay.NewRenderer()
	}
	c := &Capture{
		camera:   camera,
		markers:  markers,
		store:    store,
		renderer: renderer,
		logger:   logging.Named(logger, logging.CAPTURE),
		optics:   geometry.Camera{K: geometry.IdentityIntrinsics()},
	}
	c.Reload()
	return c
}

// Reload re-reads every tunable from the store.
func (c *Capture) Reload() {
	c.smoothing = clampSmoothing(c.store.Float(settings.KeySmoothing, DefaultSmoothing))
	c.scaling = c.store.Float(settings.KeyScaling, 1)
	c.ratio = settings.ProjectRatio(c.store)
	c.plane = geometry.NewPlaneGeometry(c.ratio, c.scaling)
	c.SetCalibrationMode(c.store.String(settings.KeyCalibrationMode, settings.CalibrationAuto))
	c.SetManualPoints(c.store.Points(settings.KeyCalibrationPoints, nil))
	c.renderMode = overlay.RenderMode(c.store.Int(settings.KeyRenderMode, int(overlay.RenderCamera)))
}

// Init opens and configures the device and loads its calibration.
func (c *Capture) Init() error {
	c.opened = false
	c.current = nil

	index, name := DeviceIndex(c.store)
	format, ok := ParseFormat(c.store.String(settings.KeyCameraFormat, ""))
	if !ok {
		c.logger.Debugw("using default camera format", "format", format.String())
	}
	if err := c.camera.Open(index); err != nil {
		c.logger.Errorw("cannot open camera", "index", index, "device", name, "error", err)
		return errors.Wrapf(ErrCameraUnavailable, "%s: %v", name, err)
	}
	if err := c.camera.Configure(format); err != nil {
		c.logger.Warnw("camera rejected format", "format", format.String(), "error", err)
	}
	c.device = name
	c.LoadCalibration()
	c.opened = true
	c.logger.Infow("camera opened", "index", index, "device", name, "format", format.String())
	return nil
}

// LoadCalibration reads the intrinsics of the current device, falling back
// to identity and zero distortion.
func (c *Capture) LoadCalibration() {
	k := geometry.IdentityIntrinsics()
	if m := c.store.Floats(settings.CameraMatrixKey(c.device), nil); m != nil {
		parsed, err := geometry.IntrinsicsFromMatrix(m)
		if err != nil {
			c.logger.Warnw("ignoring stored camera matrix", "device", c.device, "error", err)
		} else {
			k = parsed
		}
	}
	d := geometry.DistortionFromCoeffs(c.store.Floats(settings.DistCoeffsKey(c.device), nil))
	c.optics = geometry.Camera{K: k, D: d}
}

// Device is the name of the open device.
func (c *Capture) Device() string { return c.device }

// SetSmoothing sets the corner smoothing factor, clamped to [0, 1).
func (c *Capture) SetSmoothing(f float64) { c.smoothing = clampSmoothing(f) }

// SetScaling rescales the plane around the marker.
func (c *Capture) SetScaling(s float64) {
	c.scaling = s
	c.plane = geometry.NewPlaneGeometry(c.ratio, c.scaling)
}

// SetProjectRatio sets the aspect ratio of the plane.
func (c *Capture) SetProjectRatio(r float64) {
	c.ratio = r
	c.plane = geometry.NewPlaneGeometry(c.ratio, c.scaling)
}

// SetCalibrationMode switches between marker and manual corners.
func (c *Capture) SetCalibrationMode(mode string) {
	manual := mode == settings.CalibrationManual
	if manual != c.manual {
		c.current = nil
	}
	c.manual = manual
}

// SetManualPoints sets the corners used in manual mode.
func (c *Capture) SetManualPoints(pts []r2.Point) {
	c.manualPts = append([]r2.Point(nil), pts...)
}

// SetRenderMode selects what the render buffer shows.
func (c *Capture) SetRenderMode(m overlay.RenderMode) { c.renderMode = m }

// Plane is the current plane geometry.
func (c *Capture) Plane() geometry.PlaneGeometry { return c.plane }

// CurrentPoints returns the corner estimate of the last tick.
func (c *Capture) CurrentPoints() []r2.Point {
	return append([]r2.Point(nil), c.current...)
}

// Update reads one frame into trackingBuf and, depending on mode, rectifies
// it onto the plane. A failed read leaves the buffers untouched.
func (c *Capture) Update(trackingBuf, render *gocv.Mat, mode tracking.TrackingMode) error {
	if !c.opened {
		return nil
	}
	if !c.camera.Read(trackingBuf) || trackingBuf.Empty() {
		c.logger.Debug("no frame")
		return nil
	}
	trackingBuf.CopyTo(render)
	if mode == tracking.ModeCalibrating {
		return nil
	}

	corners, found := c.markers.Detect(*trackingBuf)
	if found {
		c.renderer.DrawMarker(render, pixels(corners), MarkerID)
	}
	if !mode.Rectifies() {
		return nil
	}
	return c.rectify(trackingBuf, render, corners, found)
}

func (c *Capture) rectify(trackingBuf, render *gocv.Mat, corners []r2.Point, found bool) error {
	if c.manual {
		c.current = append([]r2.Point(nil), c.manualPts...)
	} else {
		if !found {
			c.lost(trackingBuf)
			return nil
		}
		pose, err := c.optics.EstimatePlanarPose(c.plane.MarkerCorners(), corners)
		if err != nil {
			c.logger.Debugw("marker pose failed", "error", err)
			c.lost(trackingBuf)
			return nil
		}
		projected := c.optics.Project(pose, c.plane.Corners())
		c.current = geometry.Lerp(c.current, projected, c.smoothing)
	}

	if len(c.current) == 4 {
		if c.renderMode == overlay.RenderCamera {
			c.renderer.DrawPlane(render, pixels(c.current))
		}
		if err := c.warp(trackingBuf); err != nil {
			return err
		}
	}
	gocv.Rectangle(trackingBuf, c.plane.MarkerStamp(), stampColor, -1)

	if c.renderMode == overlay.RenderPaperScope {
		trackingBuf.CopyTo(render)
	}
	return nil
}

// lost forgets the corners and empties the tracking buffer so later stages
// skip the tick.
func (c *Capture) lost(trackingBuf *gocv.Mat) {
	c.current = nil
	trackingBuf.Close()
	*trackingBuf = gocv.NewMat()
}

func (c *Capture) warp(trackingBuf *gocv.Mat) error {
	h, err := geometry.EstimateHomography(c.current, c.plane.CanonicalCorners())
	if err != nil {
		c.logger.Debugw("plane homography failed", "error", err)
		return nil
	}
	hm := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer hm.Close()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			hm.SetDoubleAt(row, col, h.At(row, col))
		}
	}

	warped := gocv.NewMat()
	defer warped.Close()
	size := image.Pt(geometry.CanonicalWidth, c.plane.CanonicalHeight())
	gocv.WarpPerspective(*trackingBuf, &warped, hm, size)
	if warped.Empty() {
		return errors.New("warp produced an empty plane")
	}
	warped.CopyTo(trackingBuf)
	return nil
}

// Close releases the camera.
func (c *Capture) Close() error {
	c.opened = false
	c.current = nil
	return c.camera.Release()
}

func clampSmoothing(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f >= 1 {
		return 0.99
	}
	return f
}

func pixels(pts []r2.Point) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out
}
