package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paperscope/broadcast"
	"paperscope/calibration"
	"paperscope/capture"
	"paperscope/detection"
	"paperscope/overlay"
	"paperscope/pipeline"
	"paperscope/pkg/logging"
	"paperscope/settings"
)

const (
	flagSettings    = "settings"
	flagModel       = "model"
	flagAPIURL      = "api-url"
	flagDebug       = "debug"
	flagJpgPath     = "jpg-path"
	flagJpgInterval = "jpg-interval"
	flagDatasetDir  = "dataset-dir"
)

func main() {
	app := &cli.App{
		Name:  "paperscope",
		Usage: "track shapes drawn on a paper workspace and stream them to a project",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagSettings,
				Value: "paperscope.yaml",
				Usage: "settings `FILE`, created on first write",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "shape classifier `MODEL` (ONNX); without one every shape is a rectangle",
			},
			&cli.StringFlag{
				Name:  flagAPIURL,
				Usage: "project server base `URL`, stored in the settings",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagJpgPath,
				Usage: "save render frames as JPEG below `DIR` in hourly subdirectories",
			},
			&cli.DurationFlag{
				Name:  flagJpgInterval,
				Value: 5 * time.Second,
				Usage: "time between saved frames",
			},
			&cli.StringFlag{
				Name:  flagDatasetDir,
				Usage: "save classifier crops below `DIR` when capture_dataset is set",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, (*pipeline.Pipeline).StartTracking)
		},
		Commands: []*cli.Command{
			{
				Name:  "track",
				Usage: "open the camera and track shapes",
				Action: func(c *cli.Context) error {
					return run(c, (*pipeline.Pipeline).StartTracking)
				},
			},
			{
				Name:  "preview",
				Usage: "open the camera and show the rectified plane",
				Action: func(c *cli.Context) error {
					return run(c, (*pipeline.Pipeline).StartPreview)
				},
			},
			{
				Name:  "calibrate",
				Usage: "calibrate the camera with a 9x6 checkerboard",
				Action: func(c *cli.Context) error {
					return run(c, func(p *pipeline.Pipeline) {
						p.StartPreview()
						p.StartCalibrate()
					})
				},
			},
			{
				Name:  "manual-points",
				Usage: "enter the plane corners by hand",
				Action: func(c *cli.Context) error {
					logger, err := logging.NewLogger(c.Bool(flagDebug))
					if err != nil {
						return err
					}
					defer logger.Sync() //nolint:errcheck
					store, err := settings.OpenFileStore(c.String(flagSettings), logging.Named(logger, logging.SETTINGS))
					if err != nil {
						return err
					}
					pts, err := calibration.PromptManualPoints(os.Stdin, c.App.Writer, store)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "saved %d corners to %s\n", len(pts), store.Path())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, applies start to the pipeline and blocks until
// a signal, a fatal error or the quit command.
func run(c *cli.Context, start func(*pipeline.Pipeline)) (err error) {
	logger, err := logging.NewLogger(c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := settings.OpenFileStore(c.String(flagSettings), logging.Named(logger, logging.SETTINGS))
	if err != nil {
		return err
	}
	if u := c.String(flagAPIURL); u != "" {
		if err := store.Set(settings.KeyAPIURL, u); err != nil {
			return errors.Wrap(err, "store api url")
		}
	}

	clk := clock.New()
	renderer := overlay.NewRenderer()
	api := broadcast.NewAPI(nil, store.String(settings.KeyAPIURL, ""), logger)

	providers := detection.NewProviderManager(logger)
	if err := providers.Initialize(c.String(flagModel)); err != nil {
		logger.Warnw("shape classifier unavailable, every shape is a rectangle", "error", err)
	}
	markers := capture.NewArucoMarkers(capture.MarkerID)
	defer func() {
		err = multierr.Combine(err, providers.Close(), markers.Close())
	}()

	p := pipeline.New(pipeline.Config{
		Capture:     capture.NewCapture(capture.NewDeviceCamera(), markers, store, renderer, logger),
		Calibration: calibration.NewEngine(clk, store, renderer, logger),
		Detection: detection.NewDetector(
			detection.NewClassifier(providers.GetProvider()),
			detection.NewDatasetRecorder(c.String(flagDatasetDir), logger),
			renderer, logger),
		Describe: pipeline.NewDescriber(api, clk, renderer, logger),
		Store:    store,
		Renderer: renderer,
		Clock:    clk,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return store.Watch(ctx) })
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error {
		return newFrameSink(c.String(flagJpgPath), c.Duration(flagJpgInterval), clk, logger).Run(ctx, p.Frames())
	})
	g.Go(func() error { return report(ctx, logger, p, api) })
	startBroadcast(ctx, g, api, store, clk, logger)
	g.Go(func() error {
		err := console(ctx, os.Stdin, c.App.Writer, p, store)
		if errors.Is(err, errQuit) {
			logger.Info("quit requested")
		}
		return err
	})

	start(p)
	logger.Infow("paperscope running", "settings", store.Path(), "api", api.BaseURL())

	err = g.Wait()
	api.Wait()
	if errors.Is(err, errQuit) {
		err = nil
	}
	return err
}

// report logs what the pipeline and the API publish.
func report(ctx context.Context, logger *zap.SugaredLogger, p *pipeline.Pipeline, api *broadcast.API) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-p.ModeChanges():
			logger.Infow("tracking mode", "mode", m.New.String(), "previous", m.Old.String())
		case err := <-p.Errors():
			logger.Errorw("pipeline error", "error", err)
		case err := <-api.Errors():
			logger.Warnw("request failed", "error", err)
		}
	}
}

// startBroadcast subscribes to project events when the server is known and
// follows project and server changes in the settings.
func startBroadcast(ctx context.Context, g *errgroup.Group, api *broadcast.API, store settings.Store, clk clock.Clock, logger *zap.SugaredLogger) {
	wsURL, err := broadcast.WebsocketURL(api.BaseURL(), broadcast.DefaultAppKey)
	if err != nil {
		logger.Warnw("project broadcasts disabled", "error", err)
		return
	}
	channel := broadcast.NewChannel(api, wsURL, clk, logger)
	channel.Subscribe(store.String(settings.KeyProjectID, ""))
	refresher := broadcast.NewProjectRefresher(api, store, logger)

	g.Go(func() error { return channel.Run(ctx) })
	g.Go(func() error {
		changes, unsubscribe := store.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-channel.Events():
				refresher.Handle(ctx, ev)
			case c, ok := <-changes:
				if !ok {
					return nil
				}
				switch c.Key {
				case settings.KeyProjectID:
					channel.Subscribe(store.String(settings.KeyProjectID, ""))
				case settings.KeyAPIURL:
					api.SetBaseURL(store.String(settings.KeyAPIURL, ""))
				}
			}
		}
	})
}
