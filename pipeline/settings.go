package pipeline

import (
	"strings"

	"paperscope/capture"
	"paperscope/overlay"
	"paperscope/settings"
)

// initialKeys are applied once when the pipeline is created. Capture reads
// its own settings on construction.
var initialKeys = []string{
	settings.KeyRenderMode,
	settings.KeyViewMode,
	settings.KeyThresholdDark,
	settings.KeyThresholdLight,
	settings.KeyThresholdRed,
	settings.KeyProjectID,
}

func (p *Pipeline) loadSettings() {
	for _, key := range initialKeys {
		p.route(key)
	}
}

// route hands the stored value of key to the stage that owns it.
func (p *Pipeline) route(key string) {
	s := p.store
	switch key {
	case settings.KeyRenderMode:
		m := overlay.RenderMode(s.Int(key, int(overlay.RenderCamera)))
		p.renderMode = m
		p.capture.SetRenderMode(m)
		p.detection.SetRenderMode(m)
		p.describe.SetRenderMode(m)
	case settings.KeyViewMode:
		v := overlay.ViewMode(s.Int(key, int(overlay.ViewPlane2D)))
		p.detection.SetViewMode(v)
		p.describe.SetViewMode(v)
	case settings.KeyProject:
		p.capture.SetProjectRatio(settings.ProjectRatio(s))
	case settings.KeySmoothing:
		p.capture.SetSmoothing(s.Float(key, capture.DefaultSmoothing))
	case settings.KeyScaling:
		p.capture.SetScaling(s.Float(key, 1))
	case settings.KeyCalibrationMode:
		p.capture.SetCalibrationMode(s.String(key, settings.CalibrationAuto))
	case settings.KeyCalibrationPoints:
		p.capture.SetManualPoints(s.Points(key, nil))
	case settings.KeyThresholdDark:
		t := p.detection.Thresholds()
		if v := s.Int(key, -1); v >= 0 {
			t.SetDark(v)
		}
	case settings.KeyThresholdLight:
		t := p.detection.Thresholds()
		if v := s.Int(key, -1); v >= 0 {
			t.SetLight(v)
		}
	case settings.KeyThresholdRed:
		t := p.detection.Thresholds()
		if v := s.Int(key, -1); v >= 0 {
			t.SetRed(v)
		}
	case settings.KeyCaptureDataset:
		if !s.Bool(key, false) {
			return
		}
		p.detection.ArmDataset()
		if err := s.Set(key, false); err != nil {
			p.logger.Warnw("cannot reset dataset flag", "error", err)
		}
	case settings.KeyProjectID:
		p.describe.SetProjectID(s.String(key, ""))
	default:
		if strings.HasPrefix(key, "cameraMatrix_") || strings.HasPrefix(key, "distCoeffs_") {
			p.capture.LoadCalibration()
		}
	}
}
