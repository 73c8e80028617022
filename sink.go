package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/pipeline"
)

// frameSink consumes render frames and keeps a JPEG every interval.
type frameSink struct {
	dir      string
	interval time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
	last     time.Time
	saved    int
}

func newFrameSink(dir string, interval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *frameSink {
	return &frameSink{dir: dir, interval: interval, clock: clk, logger: logger}
}

// Run drains frames until ctx ends. Every frame is closed.
func (s *frameSink) Run(ctx context.Context, frames <-chan pipeline.RenderFrame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			s.handle(f)
			f.Mat.Close()
		}
	}
}

func (s *frameSink) handle(f pipeline.RenderFrame) {
	if s.dir == "" || f.Mat.Empty() {
		return
	}
	now := s.clock.Now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return
	}
	s.last = now
	if path, ok := saveJpegFrame(f.Mat, s.dir, f.Mode.String(), len(f.Points), now, s.logger); ok {
		s.saved++
		s.logger.Debugw("frame saved", "path", path)
	}
}

// hourDir names the subdirectory of t, e.g. 2025-01-01_03PM.
func hourDir(t time.Time) string {
	hour12 := t.Hour() % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ampm := "AM"
	if t.Hour() >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%s_%02d%s", t.Format("2006-01-02"), hour12, ampm)
}

// frameName is the file name of a frame taken at t.
func frameName(t time.Time, prefix string, points int) string {
	return fmt.Sprintf("%s_%s_points_%d.jpg", t.Format("20060102_150405.000"), prefix, points)
}

// saveJpegFrame writes frame below directory in hourly subdirectories.
func saveJpegFrame(frame gocv.Mat, directory, prefix string, points int, now time.Time, logger *zap.SugaredLogger) (string, bool) {
	subdir := filepath.Join(directory, hourDir(now))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		logger.Warnw("cannot create frame directory", "dir", subdir, "error", err)
		return "", false
	}
	path := filepath.Join(subdir, frameName(now, prefix, points))
	if !gocv.IMWrite(path, frame) {
		logger.Warnw("cannot write frame", "path", path)
		return "", false
	}
	return path, true
}
