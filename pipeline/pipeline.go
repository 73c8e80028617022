// Package pipeline runs the tracking loop: one worker goroutine moves the
// frame buffers through capture, calibration, detection and description on
// every tick and reports mode changes, render frames and errors on
// channels.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"paperscope/overlay"
	"paperscope/pkg/logging"
	"paperscope/settings"
	"paperscope/tracking"
)

const (
	idleSleep        = 2 * time.Second
	calibrationPause = 2 * time.Second
	restartDelay     = time.Second
	reportInterval   = 10 * time.Second

	commandBuffer = 16
	eventBuffer   = 16
	frameBuffer   = 2
)

// Command is a request applied by the worker at a tick boundary.
type Command int

const (
	CommandStartPreview Command = iota
	CommandStartTracking
	CommandStopTracking
	CommandStartCalibrate
	CommandStopCalibrate
)

func (c Command) String() string {
	switch c {
	case CommandStartPreview:
		return "start-preview"
	case CommandStartTracking:
		return "start-tracking"
	case CommandStopTracking:
		return "stop-tracking"
	case CommandStartCalibrate:
		return "start-calibrate"
	case CommandStopCalibrate:
		return "stop-calibrate"
	default:
		return "unknown"
	}
}

// ModeChange is emitted on every mode transition.
type ModeChange struct {
	New tracking.TrackingMode
	Old tracking.TrackingMode
}

// RenderFrame is a copy of the render buffer. The receiver owns Mat and
// must close it.
type RenderFrame struct {
	Mat    gocv.Mat
	Points []r2.Point
	Mode   tracking.TrackingMode
}

// Config holds the stages and collaborators of a pipeline.
type Config struct {
	Capture     CaptureStage
	Calibration CalibrationStage
	Detection   DetectStage
	Describe    *Describer
	Store       settings.Store
	Renderer    *overlay.Renderer
	Clock       clock.Clock
	Logger      *zap.SugaredLogger
}

// Pipeline owns the tracking mode and the frame buffers
type Pipeline struct {
	capture     CaptureStage
	calibration CalibrationStage
	detection   DetectStage
	describe    *Describer
	store       settings.Store
	renderer    *overlay.Renderer
	clock       clock.Clock
	logger      *zap.SugaredLogger
	stats       *Stats

	buffers    *FrameBuffers
	mode       atomic.Int32
	renderMode overlay.RenderMode

	// worker settings
	restartDelay time.Duration

	commands    chan Command
	modeChanges chan ModeChange
	frames      chan RenderFrame
	errors      chan error

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates an idle pipeline and applies the current settings to its
// stages.
func New(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = overlay.NewRenderer()
	}
	if cfg.Store == nil {
		cfg.Store = settings.NewMemoryStore(cfg.Logger)
	}
	p := &Pipeline{
		capture:      cfg.Capture,
		calibration:  cfg.Calibration,
		detection:    cfg.Detection,
		describe:     cfg.Describe,
		store:        cfg.Store,
		renderer:     cfg.Renderer,
		clock:        cfg.Clock,
		logger:       logging.Named(cfg.Logger, logging.PIPELINE),
		stats:        NewStats(cfg.Clock),
		buffers:      NewFrameBuffers(),
		restartDelay: restartDelay,
		commands:     make(chan Command, commandBuffer),
		modeChanges:  make(chan ModeChange, eventBuffer),
		frames:       make(chan RenderFrame, frameBuffer),
		errors:       make(chan error, eventBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if p.describe == nil {
		p.describe = NewDescriber(nil, cfg.Clock, cfg.Renderer, cfg.Logger)
	}
	p.mode.Store(int32(tracking.ModeIdle))
	p.loadSettings()
	return p
}

// Mode is the current tracking mode.
func (p *Pipeline) Mode() tracking.TrackingMode {
	return tracking.TrackingMode(p.mode.Load())
}

// ModeChanges delivers mode transitions.
func (p *Pipeline) ModeChanges() <-chan ModeChange { return p.modeChanges }

// Frames delivers render frames. Slow receivers miss the oldest ones.
func (p *Pipeline) Frames() <-chan RenderFrame { return p.frames }

// Errors delivers resource failures of the stages.
func (p *Pipeline) Errors() <-chan error { return p.errors }

// Stats exposes the loop timings.
func (p *Pipeline) Stats() *Stats { return p.stats }

// StartPreview opens the camera and shows the rectified plane.
func (p *Pipeline) StartPreview() { p.post(CommandStartPreview) }

// StartTracking starts detection, opening the camera first when idle.
func (p *Pipeline) StartTracking() { p.post(CommandStartTracking) }

// StopTracking freezes the scene while keeping the preview.
func (p *Pipeline) StopTracking() { p.post(CommandStopTracking) }

// StartCalibrate starts a checkerboard session.
func (p *Pipeline) StartCalibrate() { p.post(CommandStartCalibrate) }

// StopCalibrate ends the checkerboard session.
func (p *Pipeline) StopCalibrate() { p.post(CommandStopCalibrate) }

func (p *Pipeline) post(cmd Command) {
	select {
	case p.commands <- cmd:
	default:
		p.logger.Warnw("command queue full, dropping command", "command", cmd.String())
	}
}

// Run is the worker loop. It returns after Close or when ctx ends, once
// every stage is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	select {
	case <-p.stop:
		p.mu.Unlock()
		return p.shutdown()
	default:
	}
	p.running = true
	p.mu.Unlock()
	defer close(p.done)

	changes, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	p.logger.Info("pipeline started")
	for {
		if p.stopping(ctx) {
			break
		}
		changes = p.drain(ctx, changes)

		if p.Mode() == tracking.ModeIdle {
			changes = p.idle(ctx, changes)
			continue
		}

		if p.tick(ctx) {
			p.pause(ctx, calibrationPause)
		}
	}
	p.logger.Info("pipeline stopping")
	return p.shutdown()
}

// Close stops the worker after its current tick and closes the stages.
func (p *Pipeline) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		<-p.done
		return p.closeErr
	}
	return p.shutdown()
}

func (p *Pipeline) stopping(ctx context.Context) bool {
	select {
	case <-p.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// drain applies every queued command and setting without blocking.
func (p *Pipeline) drain(ctx context.Context, changes <-chan settings.Change) <-chan settings.Change {
	for {
		select {
		case cmd := <-p.commands:
			p.apply(ctx, cmd)
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			p.route(c.Key)
		case <-p.completed():
			p.logger.Info("calibration completed")
			p.apply(ctx, CommandStopCalibrate)
		default:
			return changes
		}
	}
}

// idle waits for the next command, setting or the idle timeout.
func (p *Pipeline) idle(ctx context.Context, changes <-chan settings.Change) <-chan settings.Change {
	timer := p.clock.Timer(idleSleep)
	defer timer.Stop()
	select {
	case <-p.stop:
	case <-ctx.Done():
	case <-timer.C:
	case cmd := <-p.commands:
		p.apply(ctx, cmd)
	case c, ok := <-changes:
		if !ok {
			return nil
		}
		p.route(c.Key)
	}
	return changes
}

// pause sleeps for d unless the pipeline stops first. It reports whether
// the full time elapsed.
func (p *Pipeline) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := p.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pipeline) completed() <-chan struct{} {
	if p.calibration == nil {
		return nil
	}
	return p.calibration.Completed()
}

// tick runs every stage once. It reports whether a calibration board was
// captured and the loop should give the user time to move it.
func (p *Pipeline) tick(ctx context.Context) bool {
	mode := p.Mode()
	buf := p.buffers

	start := p.clock.Now()
	if err := p.capture.Update(&buf.Tracking, &buf.Render, mode); err != nil {
		p.publish(errors.Wrap(err, "capture"))
	}
	p.stats.Observe(StageCapture, p.clock.Since(start))

	wait := false
	if mode == tracking.ModeCalibrating && p.calibration != nil {
		start = p.clock.Now()
		captured, err := p.calibration.Update(&buf.Tracking, &buf.Render)
		if err != nil {
			p.publish(errors.Wrap(err, "calibration"))
		}
		wait = captured
		p.stats.Observe(StageCalibrate, p.clock.Since(start))
	}

	start = p.clock.Now()
	candidates, err := p.detection.Update(&buf.Tracking, &buf.Render, mode)
	if err != nil {
		p.publish(errors.Wrap(err, "detection"))
	}
	p.stats.Observe(StageDetect, p.clock.Since(start))

	start = p.clock.Now()
	if err := p.describe.Update(ctx, &buf.Tracking, &buf.Render, mode, candidates); err != nil {
		p.publish(errors.Wrap(err, "describe"))
	}
	p.stats.Observe(StageDescribe, p.clock.Since(start))

	fps := p.stats.UpdateFPS()
	p.emitFrame(mode, fps)

	if p.stats.ReportDue(reportInterval) {
		since, avg := p.stats.Report()
		p.logger.Debugw("stage timings",
			"window", since,
			"fps", fps,
			"capture", avg[StageCapture],
			"calibrate", avg[StageCalibrate],
			"detect", avg[StageDetect],
			"describe", avg[StageDescribe])
	}
	return wait
}

// emitFrame hands a copy of the render buffer to the sink, replacing the
// oldest pending frame when the sink lags.
func (p *Pipeline) emitFrame(mode tracking.TrackingMode, fps float64) {
	if !p.renderMode.Emits() || !isValidFrame(p.buffers.Render) {
		return
	}
	if mode == tracking.ModeTracking {
		p.renderer.DrawStatus(&p.buffers.Render, fps, mode)
	}
	frame := RenderFrame{
		Mat:    p.buffers.Render.Clone(),
		Points: p.capture.CurrentPoints(),
		Mode:   mode,
	}
	select {
	case p.frames <- frame:
		return
	default:
	}
	select {
	case old := <-p.frames:
		old.Mat.Close()
	default:
	}
	select {
	case p.frames <- frame:
	default:
		frame.Mat.Close()
	}
}

func (p *Pipeline) publish(err error) {
	p.logger.Errorw("stage failed", "error", err)
	select {
	case p.errors <- err:
	default:
		p.logger.Warnw("error queue full, dropping error", "error", err)
	}
}

// apply runs a command on the worker.
func (p *Pipeline) apply(ctx context.Context, cmd Command) {
	p.logger.Debugw("command", "command", cmd.String(), "mode", p.Mode().String())
	switch cmd {
	case CommandStartPreview:
		p.startPreview(ctx)
	case CommandStartTracking:
		p.startTracking(ctx)
	case CommandStopTracking:
		if p.Mode() == tracking.ModeStopped {
			return
		}
		p.changeMode(tracking.ModeStopped)
	case CommandStartCalibrate:
		p.startCalibrate()
	case CommandStopCalibrate:
		p.stopCalibrate()
	}
}

// startPreview reopens the camera. A running mode is paused while the
// device restarts and resumed afterwards.
func (p *Pipeline) startPreview(ctx context.Context) {
	next := tracking.ModePreview
	if current := p.Mode(); current != tracking.ModeIdle {
		next = current
		p.changeMode(tracking.ModeIdle)
		if !p.pause(ctx, p.restartDelay) {
			return
		}
	}
	if err := p.capture.Init(); err != nil {
		p.publish(err)
	}
	p.changeMode(next)
}

func (p *Pipeline) startTracking(ctx context.Context) {
	if p.Mode() == tracking.ModeTracking {
		return
	}
	if p.Mode() == tracking.ModeIdle {
		p.startPreview(ctx)
	}
	p.changeMode(tracking.ModeTracking)
}

func (p *Pipeline) startCalibrate() {
	if p.Mode() == tracking.ModeCalibrating || p.calibration == nil {
		return
	}
	p.calibration.Init(p.capture.Device())
	p.changeMode(tracking.ModeCalibrating)
}

func (p *Pipeline) stopCalibrate() {
	if p.Mode() == tracking.ModeStopped {
		return
	}
	if p.calibration != nil {
		if err := p.calibration.Close(); err != nil {
			p.publish(errors.Wrap(err, "close calibration"))
		}
	}
	p.changeMode(tracking.ModeStopped)
}

func (p *Pipeline) changeMode(next tracking.TrackingMode) {
	old := p.Mode()
	if old == next {
		return
	}
	p.mode.Store(int32(next))
	p.logger.Infow("mode changed", "from", old.String(), "to", next.String())
	select {
	case p.modeChanges <- ModeChange{New: next, Old: old}:
	default:
		p.logger.Warnw("mode change dropped", "from", old.String(), "to", next.String())
	}
}

// shutdown closes the stages once, in pipeline order.
func (p *Pipeline) shutdown() error {
	p.closeOnce.Do(func() {
		var err error
		if p.capture != nil {
			err = multierr.Append(err, errors.Wrap(p.capture.Close(), "close capture"))
		}
		if p.calibration != nil {
			err = multierr.Append(err, errors.Wrap(p.calibration.Close(), "close calibration"))
		}
		if p.detection != nil {
			err = multierr.Append(err, errors.Wrap(p.detection.Close(), "close detection"))
		}
		err = multierr.Append(err, errors.Wrap(p.describe.Close(), "close describe"))
		p.buffers.Close()
		p.closeErr = err
	})
	return p.closeErr
}
