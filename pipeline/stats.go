package pipeline

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Stage names a timed part of a tick.
type Stage int

const (
	StageCapture Stage = iota
	StageCalibrate
	StageDetect
	StageDescribe
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageCapture:
		return "capture"
	case StageCalibrate:
		return "calibrate"
	case StageDetect:
		return "detect"
	case StageDescribe:
		return "describe"
	default:
		return "unknown"
	}
}

// Stats tracks the frame rate and per-stage timings of the loop
type Stats struct {
	mu    sync.Mutex
	clock clock.Clock

	fpsCount      int64
	lastFPSUpdate time.Time
	fps           float64

	lastReport time.Time
	totals     [stageCount]time.Duration
	counts     [stageCount]int64
}

// NewStats creates a tracker whose windows start now.
func NewStats(clk clock.Clock) *Stats {
	now := clk.Now()
	return &Stats{
		clock:         clk,
		lastFPSUpdate: now,
		lastReport:    now,
	}
}

// Observe records how long a stage took.
func (s *Stats) Observe(stage Stage, d time.Duration) {
	if stage < 0 || stage >= stageCount {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[stage] += d
	s.counts[stage]++
}

// UpdateFPS counts a finished tick and returns the rate of the last full
// one-second window.
func (s *Stats) UpdateFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.fpsCount++
	window := now.Sub(s.lastFPSUpdate)
	if window >= time.Second {
		s.fps = float64(s.fpsCount) / window.Seconds()
		s.fpsCount = 0
		s.lastFPSUpdate = now
	}
	return s.fps
}

// FPS returns the last computed rate.
func (s *Stats) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// Report returns the average stage timings since the previous report and
// resets them.
func (s *Stats) Report() (since time.Duration, avg map[Stage]time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	since = now.Sub(s.lastReport)
	avg = make(map[Stage]time.Duration, stageCount)
	for i := Stage(0); i < stageCount; i++ {
		if s.counts[i] > 0 {
			avg[i] = s.totals[i] / time.Duration(s.counts[i])
		}
		s.totals[i] = 0
		s.counts[i] = 0
	}
	s.lastReport = now
	return since, avg
}

// ReportDue reports whether interval has passed since the last report.
func (s *Stats) ReportDue(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Since(s.lastReport) >= interval
}
