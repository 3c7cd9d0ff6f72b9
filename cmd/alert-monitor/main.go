package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/capture"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/config"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/events"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/hardware"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/inference"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/webmonitor"
)

// App wires the frame loop to its sources and outputs.
type App struct {
	cfg    config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics  *metrics.Metrics
	source   capture.Source
	detector *inference.RemoteDetector
	panel    *hardware.Panel
	mqtt     *events.MQTTPublisher
	driver   *pipeline.Driver

	frames        *webmonitor.FrameBroadcaster
	events        *webmonitor.EventBroadcaster
	web           *webmonitor.Server
	metricsServer *http.Server

	runErr error
}

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Alert monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create alert monitor: %v", err)
	}

	if err := app.Start(); err != nil {
		app.Shutdown()
		log.Fatalf("Failed to start alert monitor: %v", err)
	}

	// Wait for a shutdown signal, the quit key or the end of the stream
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %s, shutting down...", sig)
	case <-app.ctx.Done():
		logger.Info("Main", "Frame loop stopped, shutting down...")
	}

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Exited with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Alert monitor stopped")
}

// NewApp builds every component from cfg. Nothing runs until Start.
func NewApp(cfg config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{cfg: cfg, ctx: ctx, cancel: cancel, metrics: metrics.New()}

	board, err := openBoard(cfg.Hardware)
	if err != nil {
		cancel()
		return nil, err
	}
	app.panel, err = hardware.NewPanel(board, cfg.Hardware.Layout)
	if err != nil {
		_ = board.Close()
		cancel()
		return nil, err
	}

	app.source, err = capture.New(ctx, cfg.Capture)
	if err != nil {
		_ = app.panel.Shutdown()
		cancel()
		return nil, err
	}

	app.detector = inference.NewRemoteDetector(cfg.Inference.URL, cfg.Inference.Timeout, cfg.Inference.Quality)

	var publishers events.Fanout
	var renderer pipeline.Renderer
	monitor := webmonitor.NewMonitor()

	if cfg.HTTP.Addr != "" {
		app.frames = webmonitor.NewFrameBroadcaster()
		app.events = webmonitor.NewEventBroadcaster()
		publishers = append(publishers, app.events)
		renderer = &overlay.JPEGRenderer{Sink: app.frames, Quality: cfg.HTTP.JPEGQuality}

		var metricsHandler http.Handler
		if cfg.HTTP.MetricsAddr == "" {
			metricsHandler = app.metrics.Handler()
		}
		webCfg := webmonitor.DefaultConfig()
		webCfg.Addr = cfg.HTTP.Addr
		app.web = webmonitor.NewServer(webCfg, monitor, app.frames, app.events, metricsHandler)
	}

	if cfg.MQTT.Broker != "" {
		app.mqtt, err = events.ConnectMQTT(ctx, events.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			// Events are optional; the indicators still work without a broker.
			logger.Warn("Main", "MQTT disabled: %v", err)
		} else {
			publishers = append(publishers, app.mqtt)
		}
	}

	opts := pipeline.Options{
		Source:    app.source,
		Detector:  app.detector,
		Rules:     cfg.Rules(),
		Machine:   alert.NewMachine(cfg.Policy(), nil),
		Panel:     app.panel,
		Palette:   overlay.NewPalette(cfg.Classes, cfg.PaletteSeed, overlay.DefaultAlertColors()),
		Renderer:  renderer,
		Snapshots: monitor,
		Metrics:   app.metrics,
		RunID:     events.NewRunID(),
	}
	if len(publishers) > 0 {
		opts.Publisher = publishers
	}

	app.driver, err = pipeline.New(opts)
	if err != nil {
		app.closeInputs()
		_ = app.panel.Shutdown()
		cancel()
		return nil, err
	}
	return app, nil
}

func openBoard(cfg config.HardwareConfig) (hardware.Board, error) {
	switch cfg.Kind {
	case "serial":
		logger.Info("Main", "Indicator board on %s at %d baud", cfg.Port, cfg.Baud)
		return hardware.OpenSerialBoard(cfg.Port, cfg.Baud)
	default:
		logger.Info("Main", "Using simulated indicator board")
		return hardware.NewSimBoard(), nil
	}
}

// Start launches the servers and the frame loop.
func (a *App) Start() error {
	logger.Info("Main", "  Capture: %s", a.cfg.Capture.Kind)
	logger.Info("Main", "  Detector: %s", a.cfg.Inference.URL)
	logger.Info("Main", "  Tracked: %s (buzzer: %s, window %s)",
		strings.Join(a.cfg.Chosen, ","), strings.Join(a.cfg.BuzzerClasses, ","), a.cfg.Window)

	if a.cfg.HTTP.MetricsAddr != "" {
		logger.Info("Main", "Starting metrics server on %s", a.cfg.HTTP.MetricsAddr)
		a.metricsServer = a.metrics.StartServer(a.cfg.HTTP.MetricsAddr)
	}

	if a.web != nil {
		if err := a.web.Start(); err != nil {
			return err
		}
	}

	if a.cfg.QuitKey {
		go a.watchQuitKey()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cancel()
		if err := a.driver.Run(a.ctx); err != nil {
			logger.Error("Main", "Frame loop failed: %v", err)
			a.runErr = err
		}
	}()

	logger.Info("Main", "Alert monitor started")
	return nil
}

// watchQuitKey stops the monitor when "q" is entered on stdin.
func (a *App) watchQuitKey() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "q") {
			logger.Info("Main", "Quit key pressed")
			a.cancel()
			return
		}
	}
}

func (a *App) closeInputs() {
	if err := a.source.Close(); err != nil {
		logger.Warn("Main", "Closing capture source: %v", err)
	}
	if err := a.detector.Close(); err != nil {
		logger.Debug("Main", "Closing detector: %v", err)
	}
}

// Shutdown stops the frame loop, which turns every indicator off, then
// closes the remaining components.
func (a *App) Shutdown() error {
	a.cancel()
	a.wg.Wait()

	// No-op when the frame loop already ran its shutdown.
	if err := a.panel.Shutdown(); err != nil {
		logger.Warn("Main", "Indicator shutdown: %v", err)
	}

	a.closeInputs()
	if a.mqtt != nil {
		_ = a.mqtt.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.web != nil {
		errs = append(errs, a.web.Shutdown(ctx))
	}
	if a.metricsServer != nil {
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	errs = append(errs, a.runErr)
	return errors.Join(errs...)
}
