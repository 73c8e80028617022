// Package calibration recovers camera intrinsics from checkerboard views
// and collects manual sheet corners.
package calibration

import (
	"image"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/overlay"
	"paperscope/pkg/logging"
	"paperscope/settings"
)

// Board and capture parameters.
const (
	BoardCols          = 9
	BoardRows          = 6
	TargetObservations = 10
	CaptureInterval    = 7 * time.Second
)

// Calibration is the result persisted per device.
type Calibration struct {
	CameraMatrix [9]float64
	DistCoeffs   [5]float64
}

// CornerFinder locates the inner board corners in a frame.
type CornerFinder func(frame gocv.Mat) ([]gocv.Point2f, bool)

// Solver computes intrinsics from corner observations of the board.
type Solver func(observations [][]gocv.Point2f, frameSize image.Point) (Calibration, error)

// Engine gathers board observations at a fixed interval and calibrates
// once enough are collected.
type Engine struct {
	clock    clock.Clock
	store    settings.Store
	renderer *overlay.Renderer
	logger   *zap.SugaredLogger
	find     CornerFinder
	solve    Solver

	device       string
	observations [][]gocv.Point2f
	last         time.Time
	elapsed      time.Duration
	done         bool
	completed    chan struct{}
}

// NewEngine returns an engine using OpenCV board detection and
// calibration.
func NewEngine(clk clock.Clock, store settings.Store, renderer *overlay.Renderer, logger *zap.SugaredLogger) *Engine {
	if renderer == nil {
		renderer = overlay.NewRenderer()
	}
	return &Engine{
		clock:     clk,
		store:     store,
		renderer:  renderer,
		logger:    logging.Named(logger, logging.CALIBRATE),
		find:      FindBoardCorners,
		solve:     SolveCalibration,
		completed: make(chan struct{}, 1),
	}
}

// Init starts a new session for device.
func (e *Engine) Init(device string) {
	e.device = device
	e.observations = nil
	e.elapsed = 0
	e.last = e.clock.Now()
	e.done = false
	e.logger.Infow("calibration started", "device", device, "target", TargetObservations)
}

// Completed receives once per session after the result was persisted.
func (e *Engine) Completed() <-chan struct{} { return e.completed }

// Observations is the number of boards captured in this session.
func (e *Engine) Observations() int { return len(e.observations) }

// Update advances the session by one frame. It returns true when a board
// was captured and more are needed, so the caller can give the user time to
// move it.
func (e *Engine) Update(raw, render *gocv.Mat) (bool, error) {
	if e.done || raw.Empty() {
		return false, nil
	}
	now := e.clock.Now()
	e.elapsed += now.Sub(e.last)
	e.last = now

	e.renderer.DrawCalibrationProgress(render, len(e.observations), TargetObservations, countdown(e.elapsed))
	if e.elapsed < CaptureInterval {
		return false, nil
	}
	e.elapsed = 0

	corners, ok := e.find(*raw)
	if !ok {
		e.logger.Debug("no board in view")
		return false, nil
	}
	e.renderer.DrawCorners(render, cornerPixels(corners))
	e.observations = append(e.observations, corners)
	e.logger.Infow("board captured", "count", len(e.observations), "target", TargetObservations)
	if len(e.observations) < TargetObservations {
		return true, nil
	}

	size := image.Pt(raw.Cols(), raw.Rows())
	result, err := e.solve(e.observations, size)
	if err != nil {
		e.restart(now)
		return false, errors.Wrap(err, "calibrate camera")
	}
	if err := e.persist(result); err != nil {
		e.restart(now)
		return false, err
	}
	e.done = true
	select {
	case e.completed <- struct{}{}:
	default:
	}
	return false, nil
}

// restart drops the observations so a failed session starts over.
func (e *Engine) restart(now time.Time) {
	e.logger.Warnw("calibration failed, collecting boards again", "observations", len(e.observations))
	e.observations = nil
	e.elapsed = 0
	e.last = now
}

func (e *Engine) persist(c Calibration) error {
	err := e.store.SetValues(map[string]any{
		settings.CameraMatrixKey(e.device): c.CameraMatrix[:],
		settings.DistCoeffsKey(e.device):   c.DistCoeffs[:],
		settings.KeyCalibrationMode:        settings.CalibrationAuto,
	})
	if err != nil {
		return errors.Wrap(err, "save calibration")
	}
	e.logger.Infow("calibration saved", "device", e.device, "matrix", c.CameraMatrix, "distortion", c.DistCoeffs)
	return nil
}

// Close ends the session.
func (e *Engine) Close() error {
	e.observations = nil
	e.done = true
	return nil
}

// countdown is the whole seconds left until the next capture, 1..7.
func countdown(elapsed time.Duration) int {
	secs := int(math.Ceil((CaptureInterval - elapsed).Seconds()))
	limit := int(CaptureInterval / time.Second)
	if secs < 1 {
		return 1
	}
	if secs > limit {
		return limit
	}
	return secs
}

func cornerPixels(pts []gocv.Point2f) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Round(float64(p.X))), int(math.Round(float64(p.Y))))
	}
	return out
}

// objectGrid is the board in its own frame with unit square size.
func objectGrid() []gocv.Point3f {
	grid := make([]gocv.Point3f, 0, BoardCols*BoardRows)
	for row := 0; row < BoardRows; row++ {
		for col := 0; col < BoardCols; col++ {
			grid = append(grid, gocv.Point3f{X: float32(col), Y: float32(row)})
		}
	}
	return grid
}

// FindBoardCorners detects and refines the 9x6 inner corners.
func FindBoardCorners(frame gocv.Mat) ([]gocv.Point2f, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}

	corners := gocv.NewMat()
	defer corners.Close()
	pattern := image.Pt(BoardCols, BoardRows)
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage | gocv.CalibCBFastCheck
	if !gocv.FindChessboardCorners(gray, pattern, &corners, flags) {
		return nil, false
	}
	criteria := gocv.NewTermCriteria(gocv.Count+gocv.EPS, 30, 0.1)
	gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	pv := gocv.NewPoint2fVectorFromMat(corners)
	defer pv.Close()
	pts := pv.ToPoints()
	return pts, len(pts) == BoardCols*BoardRows
}

// SolveCalibration runs OpenCV camera calibration on the observations.
func SolveCalibration(observations [][]gocv.Point2f, frameSize image.Point) (Calibration, error) {
	var out Calibration
	if len(observations) == 0 {
		return out, errors.New("no observations")
	}

	objects := gocv.NewPoints3fVector()
	defer objects.Close()
	grid := gocv.NewPoint3fVectorFromPoints(objectGrid())
	defer grid.Close()
	for range observations {
		objects.Append(grid)
	}
	images := gocv.NewPoints2fVectorFromPoints(observations)
	defer images.Close()

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objects, images, frameSize, &cameraMatrix, &dist, &rvecs, &tvecs, 0)
	if math.IsNaN(rms) || cameraMatrix.Empty() {
		return out, errors.New("calibration did not converge")
	}
	k, err := cameraMatrix.DataPtrFloat64()
	if err != nil || len(k) < 9 {
		return out, errors.New("unexpected camera matrix layout")
	}
	copy(out.CameraMatrix[:], k)
	d, err := dist.DataPtrFloat64()
	if err != nil {
		return out, errors.Wrap(err, "read distortion")
	}
	copy(out.DistCoeffs[:], d)
	return out, nil
}
