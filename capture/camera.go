package capture

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrCameraUnavailable is returned when the capture device cannot be opened.
var ErrCameraUnavailable = errors.New("camera unavailable")

// autoExposure is the V4L2 "aperture priority" value OpenCV expects.
const autoExposure = 0.75

// Camera is a frame source.
type Camera interface {
	Open(index int) error
	Configure(f Format) error
	Read(m *gocv.Mat) bool
	Release() error
}

// DeviceCamera reads from a local capture device through OpenCV.
type DeviceCamera struct {
	vc *gocv.VideoCapture
}

// NewDeviceCamera returns a closed device camera.
func NewDeviceCamera() *DeviceCamera {
	return &DeviceCamera{}
}

// Open opens the device at index, releasing any previous one.
func (d *DeviceCamera) Open(index int) error {
	if err := d.Release(); err != nil {
		return err
	}
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return errors.Wrapf(err, "open device %d", index)
	}
	if !vc.IsOpened() {
		vc.Close()
		return errors.Errorf("device %d did not open", index)
	}
	d.vc = vc
	return nil
}

// Configure requests the frame size, rate and pixel format.
func (d *DeviceCamera) Configure(f Format) error {
	if d.vc == nil {
		return errors.New("device not open")
	}
	d.vc.Set(gocv.VideoCaptureFrameWidth, float64(f.Width))
	d.vc.Set(gocv.VideoCaptureFrameHeight, float64(f.Height))
	d.vc.Set(gocv.VideoCaptureFPS, float64(f.FPS))
	d.vc.Set(gocv.VideoCaptureAutoExposure, autoExposure)
	if len(f.PixelFormat) == 4 {
		d.vc.Set(gocv.VideoCaptureFOURCC, d.vc.ToCodec(f.PixelFormat))
	}
	return nil
}

// Read grabs the next frame into m.
func (d *DeviceCamera) Read(m *gocv.Mat) bool {
	if d.vc == nil {
		return false
	}
	return d.vc.Read(m)
}

// Release closes the device if open.
func (d *DeviceCamera) Release() error {
	if d.vc == nil {
		return nil
	}
	err := d.vc.Close()
	d.vc = nil
	return err
}
