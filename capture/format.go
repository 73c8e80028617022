package capture

import (
	"fmt"
	"regexp"
	"strconv"

	"paperscope/settings"
)

// Format is a capture mode of the camera.
type Format struct {
	Width       int
	Height      int
	FPS         int
	PixelFormat string
}

// DefaultFormat is used when no format is configured or it does not parse.
var DefaultFormat = Format{Width: 1280, Height: 720, FPS: 60, PixelFormat: "NV12"}

var formatPattern = regexp.MustCompile(`(\d+)\s*x\s*(\d+)\s*-\s*(\d+)\s*fps\s*\((\w+)\)`)

// ParseFormat parses strings like "1280x720 - 60fps (NV12)". The second
// result is false when s did not match and the default was returned.
func ParseFormat(s string) (Format, bool) {
	m := formatPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultFormat, false
	}
	f := Format{PixelFormat: m[4]}
	f.Width, _ = strconv.Atoi(m[1])
	f.Height, _ = strconv.Atoi(m[2])
	f.FPS, _ = strconv.Atoi(m[3])
	if f.Width <= 0 || f.Height <= 0 || f.FPS <= 0 {
		return DefaultFormat, false
	}
	return f, true
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d - %dfps (%s)", f.Width, f.Height, f.FPS, f.PixelFormat)
}

// DeviceIndex resolves the cameraDevice setting, which holds either an
// index or a name from the cameraDevices list, to a device index. The
// second result is the device name used for calibration keys.
func DeviceIndex(s settings.Store) (int, string) {
	device := s.String(settings.KeyCameraDevice, "")
	if device == "" {
		return 0, "0"
	}
	if idx, err := strconv.Atoi(device); err == nil && idx >= 0 {
		return idx, device
	}
	for i, name := range s.Strings(settings.KeyCameraDevices, nil) {
		if name == device {
			return i, device
		}
	}
	return 0, device
}
