package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker/mqttbroker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media/container"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media/gstsource"
)

// errNoSession is reported to the control plane for playback commands sent
// before any recording was configured.
var errNoSession = errors.New("no session configured")

// Replayer is the main service orchestrator
type Replayer struct {
	cfg *config.Config

	// Core components
	client         mqtt.Client
	publisher      *mqttbroker.Publisher
	fanout         *broker.Fanout
	controller     *engine.Controller
	controlHandler *control.Handler

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewReplayer creates a new service instance from a configuration file
func NewReplayer(configPath string) (*Replayer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"media_backend", cfg.Media.Backend,
	)

	return newReplayer(cfg), nil
}

func newReplayer(cfg *config.Config) *Replayer {
	fanout := broker.NewFanout()
	fanout.Register("log", broker.LogSink{})

	return &Replayer{
		cfg:        cfg,
		fanout:     fanout,
		controller: engine.New(fanout, engineOptions(cfg)),
	}
}

// engineOptions maps configuration onto the engine; zero values keep the
// engine defaults.
func engineOptions(cfg *config.Config) engine.Options {
	p := cfg.Playback
	opts := engine.Options{
		QueueCapacity: p.QueueCapacity,
		IdlePoll:      p.IdlePoll(),
		MaxPacingWait: p.MaxPacingWait(),
		ShutdownGrace: p.ShutdownGrace(),
		ReadRetryMin:  p.ReadRetryMin(),
		ReadRetryMax:  p.ReadRetryMax(),
	}
	opts.MediaOpener = mediaOpener(cfg.Media)
	return opts
}

func mediaOpener(m config.MediaConfig) media.Opener {
	if m.Backend == config.BackendGStreamer {
		return gstsource.NewOpener(gstsource.Options{Width: m.Width, Height: m.Height})
	}
	return container.Opener
}

// connect establishes the MQTT connection
func (r *Replayer) connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(r.cfg.MQTT.Broker)
	opts.SetClientID(r.cfg.MQTT.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established",
			"broker", r.cfg.MQTT.Broker,
			"client_id", r.cfg.MQTT.ClientID,
			"auto_reconnect", "enabled")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", r.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	client := mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", r.cfg.MQTT.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	r.client = client
	return nil
}

// Run connects, starts the control plane and blocks until ctx ends or a
// shutdown command arrives
func (r *Replayer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	r.isRunning = true
	r.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.runCtx = ctx
	r.cancelCtx = cancel
	r.mu.Unlock()

	slog.Info("replay service starting", "instance_id", r.cfg.InstanceID)

	if err := r.connect(); err != nil {
		return err
	}

	r.publisher = mqttbroker.New(r.client, mqttbroker.Options{
		Topics: mqttbroker.Topics{
			Capture: r.cfg.MQTT.Topics.Capture,
			Sensor:  r.cfg.MQTT.Topics.Sensor,
			Input:   r.cfg.MQTT.Topics.Input,
		},
		QoS:           r.cfg.MQTT.QoS["data"],
		IncludeImages: r.cfg.MQTT.IncludeImages,
	})
	r.fanout.Register("mqtt", r.publisher)

	r.controlHandler = control.NewHandler(r.cfg, r.client, r.callbacks())
	if err := r.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control handler: %w", err)
	}

	if s := r.cfg.Session; s.Configured() {
		if err := r.configure(s.MediaPath, s.EventLogPath, s.MetadataPath); err != nil {
			// The control plane can still configure another recording.
			slog.Error("failed to load startup session", "error", err)
		} else if s.Autoplay {
			r.controller.Play()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.fanout.StartStatsLogger(gctx, r.cfg.StatsInterval())
		return nil
	})
	g.Go(func() error {
		r.logStats(gctx, r.cfg.StatsInterval())
		return nil
	})

	slog.Info("replay service running",
		"control_topic", r.cfg.MQTT.Topics.Control,
		"status_topic", r.cfg.MQTT.Topics.Status,
	)

	err := g.Wait()
	slog.Info("replay service run loop exiting")
	return err
}

func (r *Replayer) configure(mediaPath, eventLogPath, metadataPath string) error {
	r.mu.RLock()
	ctx := r.runCtx
	r.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	return r.controller.Configure(ctx, engine.Descriptor{
		MediaPath:    mediaPath,
		EventLogPath: eventLogPath,
		MetadataPath: metadataPath,
	})
}

func (r *Replayer) callbacks() control.CommandCallbacks {
	queued := func(ok bool) error {
		if !ok {
			return errNoSession
		}
		return nil
	}

	return control.CommandCallbacks{
		OnGetStatus: r.GetStatus,
		OnPlay:      func() error { return queued(r.controller.Play()) },
		OnPause:     func() error { return queued(r.controller.Pause()) },
		OnRewind:    func() error { return queued(r.controller.Rewind()) },
		OnSeek:      func(pos int64) error { return queued(r.controller.Seek(pos)) },
		OnConfigure: r.configure,
		OnShutdown: func() error {
			r.mu.RLock()
			cancel := r.cancelCtx
			r.mu.RUnlock()
			if cancel == nil {
				return fmt.Errorf("service not running")
			}
			cancel()
			return nil
		},
	}
}

// logStats periodically logs playback statistics
func (r *Replayer) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := r.controller.Stats()
			if !st.Configured {
				continue
			}
			slog.Info("replay stats",
				"session_id", st.SessionID,
				"reading", st.State.Reading,
				"position_us", st.State.PositionUs,
				"frames_emitted", st.FramesEmitted,
				"events_published", st.EventsPublished,
				"outstanding", st.Outstanding,
				"queue_depth", st.Queue.Depth,
				"lag_mean_ms", st.Pacing.LagMean.Milliseconds(),
				"pacing_stable", st.Pacing.IsStable,
			)
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (r *Replayer) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	slog.Info("shutting down replay service")

	// 1. Stop accepting commands
	if r.controlHandler != nil {
		slog.Info("stopping control handler")
		if err := r.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 2. Stop playback and release every capture
	var errs []error
	if err := r.controller.Dispose(ctx); err != nil {
		slog.Error("failed to stop playback", "error", err)
		errs = append(errs, err)
	}

	// 3. Disconnect MQTT
	if r.client != nil && r.client.IsConnected() {
		r.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}

	r.mu.Lock()
	uptime := time.Since(r.started)
	r.isRunning = false
	r.mu.Unlock()

	slog.Info("replay service shutdown complete", "uptime", uptime)

	return errors.Join(errs...)
}

// GetStatus returns the current status of the service
func (r *Replayer) GetStatus() map[string]interface{} {
	r.mu.RLock()
	running, started := r.isRunning, r.started
	r.mu.RUnlock()

	status := map[string]interface{}{
		"instance_id": r.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
	}

	st := r.controller.Stats()
	status["configured"] = st.Configured
	if !st.Configured {
		return status
	}

	status["session_id"] = st.SessionID
	status["reading"] = st.State.Reading
	status["position_us"] = st.State.PositionUs
	status["frames_read"] = st.FramesRead
	status["frames_emitted"] = st.FramesEmitted
	status["events_published"] = st.EventsPublished
	status["read_errors"] = st.ReadErrors
	status["publish_errors"] = st.PublishErrors
	status["outstanding"] = st.Outstanding
	status["end_of_stream"] = st.Exhausted
	status["pacing"] = map[string]interface{}{
		"samples":     st.Pacing.Samples,
		"lag_mean_ms": float64(st.Pacing.LagMean) / float64(time.Millisecond),
		"lag_max_ms":  float64(st.Pacing.LagMax) / float64(time.Millisecond),
		"clamped":     st.Pacing.Clamped,
		"stable":      st.Pacing.IsStable,
	}
	if cal, ok := r.controller.Calibration(); ok {
		status["calibration"] = cal
	}
	return status
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (r *Replayer) ShutdownTimeout() time.Duration {
	if timeout := r.cfg.ShutdownTimeout(); timeout > 0 {
		return timeout
	}
	return 5 * time.Second
}

// HealthPort returns the port of the health server
func (r *Replayer) HealthPort() string {
	return r.cfg.HealthPort
}
