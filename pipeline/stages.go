package pipeline

import (
	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"paperscope/detection"
	"paperscope/overlay"
	"paperscope/tracking"
)

// CaptureStage reads and rectifies frames.
type CaptureStage interface {
	Init() error
	Update(trackingBuf, render *gocv.Mat, mode tracking.TrackingMode) error
	CurrentPoints() []r2.Point
	Device() string
	LoadCalibration()

	SetSmoothing(f float64)
	SetScaling(s float64)
	SetProjectRatio(r float64)
	SetCalibrationMode(mode string)
	SetManualPoints(pts []r2.Point)
	SetRenderMode(m overlay.RenderMode)

	Close() error
}

// CalibrationStage collects board observations while calibrating.
type CalibrationStage interface {
	Init(device string)
	Update(raw, render *gocv.Mat) (bool, error)
	Completed() <-chan struct{}
	Close() error
}

// DetectStage turns the rectified buffer into candidates.
type DetectStage interface {
	Update(trackingBuf, render *gocv.Mat, mode tracking.TrackingMode) ([]tracking.Candidate, error)
	Thresholds() *detection.Thresholds
	SetViewMode(v overlay.ViewMode)
	SetRenderMode(m overlay.RenderMode)
	ArmDataset()
	Close() error
}

// FrameBuffers are lent to one stage at a time. An empty Tracking buffer
// means there is nothing to analyze.
type FrameBuffers struct {
	Tracking gocv.Mat
	Render   gocv.Mat
}

// NewFrameBuffers allocates empty buffers.
func NewFrameBuffers() *FrameBuffers {
	return &FrameBuffers{
		Tracking: gocv.NewMat(),
		Render:   gocv.NewMat(),
	}
}

// Close releases both buffers.
func (b *FrameBuffers) Close() {
	if b.Tracking.Ptr() != nil {
		b.Tracking.Close()
	}
	if b.Render.Ptr() != nil {
		b.Render.Close()
	}
}

// isValidFrame checks a frame without touching its pixels
func isValidFrame(frame gocv.Mat) bool {
	if frame.Ptr() == nil {
		return false
	}
	return frame.Rows() > 0 && frame.Cols() > 0 && frame.Channels() > 0
}
