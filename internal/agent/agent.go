package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"camlink-agent/internal/config"
	"camlink-agent/internal/device"
	"camlink-agent/internal/frame"
	"camlink-agent/internal/link"
	"camlink-agent/internal/metrics"
	"camlink-agent/internal/model"
	"camlink-agent/internal/statusapi"
	"camlink-agent/internal/stream"
	"camlink-agent/internal/system"
	"camlink-agent/internal/telemetry"
	"camlink-agent/internal/upload"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	bootID    string
	deviceID  string
	restarter device.Restarter
	flash     *device.Flash
	link      *link.Monitor
	source    frame.Source
	uploader  *upload.Pipeline
	pusher    *stream.Pusher
	telemetry *telemetry.Publisher
	scheduler *Scheduler
	status    *statusapi.Server
	health    *HealthStatus
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	bootID := uuid.NewString()
	deviceID := device.Identity(cfg.Device.IDPrefix, cfg.Device.Interface)
	logger = logger.With("boot_id", bootID, "device_id", deviceID)

	source, err := newFrameSource(cfg)
	if err != nil {
		return nil, err
	}

	restarter := newRestarter(cfg, logger)
	station := link.NewCommandStation(
		cfg.Link.ProbeAddr,
		cfg.Link.ProbeTimeout,
		cfg.Link.ConnectCommand,
		cfg.Link.DisconnectCommand,
		cfg.Link.CommandTimeout,
	)
	monitor := link.NewMonitor(station, restarter, link.Options{
		CheckInterval:  cfg.Link.CheckInterval,
		MaxOutage:      cfg.Link.MaxOutage,
		StartupTimeout: cfg.Link.StartupTimeout,
		StartupPoll:    cfg.Link.StartupPoll,
		MinAttemptAge:  cfg.Link.MinAttemptAge,
	}, logger.With("component", "link"))

	uploader := upload.NewPipeline(
		upload.NewHTTPClient(tlsCfg, cfg.Upload.Timeout),
		source,
		monitor,
		upload.Options{
			URL:      cfg.Upload.URL,
			APIKey:   cfg.Upload.APIKey,
			DeviceID: deviceID,
			Interval: cfg.Upload.Interval,
			Timeout:  cfg.Upload.Timeout,
		},
		logger.With("component", "upload"),
	)

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		bootID:    bootID,
		deviceID:  deviceID,
		restarter: restarter,
		flash:     device.NewFlash(cfg.Device.LEDPath, logger),
		link:      monitor,
		source:    source,
		uploader:  uploader,
		health:    NewHealthStatus(healthStallAfter(cfg)),
	}

	var streamTick tickable
	if cfg.Stream.Enabled {
		transport, err := stream.NewTransportFromConfig(cfg, tlsCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stream transport: %w", err)
		}
		a.pusher = stream.NewPusher(transport, source, monitor, stream.TargetFromConfig(cfg, deviceID), stream.Options{
			FrameInterval:     cfg.Stream.FrameInterval,
			ReconnectCooldown: cfg.Stream.ReconnectCooldown,
			DialTimeout:       cfg.Stream.DialTimeout,
			WriteTimeout:      cfg.Stream.WriteTimeout,
		}, logger.With("component", "stream"))
		streamTick = a.pusher
	}

	var telemetryTick tickable
	if cfg.MQTT.Broker != "" {
		a.telemetry = telemetry.NewPublisher(telemetry.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			DeviceID: deviceID,
			BootID:   bootID,
			Interval: cfg.MQTT.Interval,
			Timeout:  cfg.MQTT.Timeout,
		}, monitor, a.Status, logger.With("component", "telemetry"))
		telemetryTick = a.telemetry
	}

	a.scheduler = NewScheduler(logger, monitor, streamTick, uploader, telemetryTick, a.health, SchedulerOptions{
		Interval:      cfg.LoopInterval,
		UploadCadence: cfg.Upload.Enabled,
	})

	if cfg.Status.ListenAddr != "" {
		a.status = statusapi.New(cfg.Status.ListenAddr, a, logger.With("component", "status_api"))
	}
	return a, nil
}

func newFrameSource(cfg config.Config) (frame.Source, error) {
	switch cfg.Frame.Source {
	case config.FrameSourceDir:
		return frame.NewDirSource(cfg.Frame.Dir), nil
	case config.FrameSourceSnapshot:
		return frame.NewSnapshotSource(cfg.Frame.SnapshotURL, cfg.Frame.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported frame source %q", cfg.Frame.Source)
	}
}

func newRestarter(cfg config.Config, logger *slog.Logger) device.Restarter {
	if cfg.Restart.Mode == config.RestartModeCommand {
		return device.NewCommandRestarter(cfg.Restart.Command, logger)
	}
	return device.NewExitRestarter(logger)
}

// Upper bound on a healthy loop turn: link probe and commands, a cadence
// upload followed by a triggered one, a stream write and a telemetry publish.
func healthStallAfter(cfg config.Config) time.Duration {
	return cfg.Link.ProbeTimeout + 2*cfg.Link.CommandTimeout + 2*cfg.Upload.Timeout + cfg.Stream.WriteTimeout + cfg.MQTT.Timeout
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting camlink-agent",
		"version", a.cfg.AgentVersion,
		"upload_url", a.cfg.Upload.URL,
		"stream_enabled", a.cfg.Stream.Enabled,
		"stream_mode", a.cfg.Stream.Mode)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	a.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("camlink-agent stopped")
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

func (a *Agent) DeviceID() string {
	return a.deviceID
}

func (a *Agent) SetBrightness(duty uint8) {
	a.flash.SetBrightness(duty)
}

func (a *Agent) Brightness() uint8 {
	return a.flash.Brightness()
}

// TriggerUpload performs one upload on the scheduler goroutine and reports
// whether the collector accepted it.
func (a *Agent) TriggerUpload(ctx context.Context) bool {
	if err := a.scheduler.TriggerUpload(ctx); err != nil {
		a.logger.Debug("triggered upload failed", "error", err)
		return false
	}
	return true
}

func (a *Agent) Stats() model.UploadStats {
	return a.uploader.Stats()
}

func (a *Agent) Healthy() bool {
	return a.health.Healthy(time.Now())
}

func (a *Agent) Status() model.Status {
	st := model.Status{
		DeviceID:     a.deviceID,
		BootID:       a.bootID,
		AgentVersion: a.cfg.AgentVersion,
		Link:         a.link.Status(),
		Upload:       a.uploader.Stats(),
		Stream:       model.StreamStats{State: "disabled"},
		Brightness:   a.flash.Brightness(),
		Timestamp:    time.Now().UTC(),
	}
	if a.pusher != nil {
		st.Stream = a.pusher.Stats()
	}
	st.Interface = a.interfaceStats()
	return st
}

func (a *Agent) interfaceStats() *model.InterfaceStats {
	iface := a.cfg.Device.Interface
	if iface == "" {
		return nil
	}
	counters, err := system.ReadNetCounters(system.ProcNetDev, iface)
	if err != nil {
		a.logger.Debug("interface counters unavailable", "interface", iface, "error", err)
		return nil
	}
	out := &model.InterfaceStats{
		Name:     iface,
		RxBytes:  counters.RxBytes,
		TxBytes:  counters.TxBytes,
		RxErrors: counters.RxErrors,
		TxErrors: counters.TxErrors,
	}
	if level, err := system.ReadSignalLevel(system.ProcNetWireless, iface); err == nil {
		out.SignalDBM = &level
		metrics.WifiSignal.Set(float64(level))
	}
	return out
}
