package capture

import (
	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"
)

// MarkerID is the ArUco id printed in the top-left corner of the sheet.
const MarkerID = 16

// MarkerDetector finds the sheet marker and returns its corners in pixel
// coordinates, ordered top-left, top-right, bottom-right, bottom-left.
type MarkerDetector interface {
	Detect(img gocv.Mat) ([]r2.Point, bool)
	Close() error
}

// ArucoMarkers detects a single id of the original ArUco dictionary.
type ArucoMarkers struct {
	detector gocv.ArucoDetector
	id       int
}

// NewArucoMarkers creates a detector for marker id.
func NewArucoMarkers(id int) *ArucoMarkers {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDictArucoOriginal)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoMarkers{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
		id:       id,
	}
}

// Detect returns the first marker with the configured id.
func (a *ArucoMarkers) Detect(img gocv.Mat) ([]r2.Point, bool) {
	corners, ids, _ := a.detector.DetectMarkers(img)
	for i, id := range ids {
		if id != a.id || i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		pts := make([]r2.Point, 4)
		for j, c := range corners[i] {
			pts[j] = r2.Point{X: float64(c.X), Y: float64(c.Y)}
		}
		return pts, true
	}
	return nil, false
}

// Close releases the detector.
func (a *ArucoMarkers) Close() error {
	a.detector.Close()
	return nil
}
