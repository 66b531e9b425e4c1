package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/api"
	"github.com/amanullahtanweer/speaker-recognizer/internal/capture"
	"github.com/amanullahtanweer/speaker-recognizer/internal/config"
	"github.com/amanullahtanweer/speaker-recognizer/internal/events"
	"github.com/amanullahtanweer/speaker-recognizer/internal/history"
	"github.com/amanullahtanweer/speaker-recognizer/internal/metrics"
	"github.com/amanullahtanweer/speaker-recognizer/internal/ratio"
	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/amanullahtanweer/speaker-recognizer/internal/session"
	"github.com/amanullahtanweer/speaker-recognizer/internal/upload"
	"github.com/amanullahtanweer/speaker-recognizer/internal/vad"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App wires the recognizer together for one process run
type App struct {
	cfg *config.Config
	log *logrus.Logger

	device      capture.Device
	store       *segment.Store
	acc         *ratio.Accumulator
	hub         *events.Hub
	broadcaster *events.Broadcaster
	uploader    *upload.Client
	session     *session.Session
	metrics     *metrics.SessionMetrics

	db       *sql.DB
	redis    *redis.Client
	mirror   *ratio.RedisMirror
	server   *http.Server
	listener net.Listener
}

// New builds every component. Resources opened before a failure are
// released.
func New(cfg *config.Config, log *logrus.Logger) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a = &App{
		cfg:     cfg,
		log:     log,
		acc:     ratio.NewAccumulator(),
		hub:     events.NewHub(),
		metrics: metrics.NewSessionMetrics(cfg.Capture.Driver),
	}
	defer func() {
		if err != nil {
			a.release()
			a = nil
		}
	}()

	a.store, err = segment.NewStore(cfg.Storage.Dir)
	if err != nil {
		return a, err
	}
	format := cfg.Format()

	var sessionOpts []session.Option
	if format.Encoding == segment.EncodingAAC {
		tr, err := segment.NewTranscoder(cfg.Recording.FFmpegPath)
		if err != nil {
			return a, err
		}
		sessionOpts = append(sessionOpts, session.WithTranscoder(tr))
	}
	sessionOpts = append(sessionOpts, session.WithMetrics(a.metrics))

	var gate vad.Gate
	if cfg.Recording.VADMode >= 0 {
		w, err := vad.NewWebRTC(format.SampleRate, cfg.Recording.VADMode)
		if err != nil {
			return a, err
		}
		log.WithField("mode", w.Mode()).Info("Voice activity gate enabled")
		gate = w
	}

	uploadOpts := []upload.Option{
		upload.WithStore(a.store),
		upload.WithMetrics(a.metrics),
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror := ratio.NewRedisMirror(a.redis, cfg.Redis.Key)
		if err := a.restore(mirror); err != nil {
			return a, err
		}
		a.mirror = mirror
		uploadOpts = append(uploadOpts, upload.WithMirror(mirror))
	}

	if cfg.History.Path != "" {
		a.db, err = history.Open(cfg.History.Path)
		if err != nil {
			return a, err
		}
		uploadOpts = append(uploadOpts, upload.WithHistory(history.NewSQLiteRepo(a.db)))
	}

	a.uploader = upload.New(upload.Config{
		Endpoint:       cfg.Upload.Endpoint,
		Timeout:        cfg.Upload.Timeout,
		MaxAttempts:    cfg.Upload.MaxAttempts,
		RetryBackoff:   cfg.Upload.RetryBackoff,
		RetainSegments: cfg.Upload.RetainSegments,
	}, a.acc, a.hub, log.WithField("component", "upload"), uploadOpts...)

	a.device, err = openDevice(cfg, log)
	if err != nil {
		return a, err
	}

	a.session, err = session.New(session.Config{
		Format:           format,
		Prefix:           cfg.Storage.Prefix,
		RotationInterval: cfg.Recording.RotationInterval,
		LevelInterval:    cfg.Recording.LevelInterval,
		Gate:             gate,
		SkipSilent:       cfg.Recording.SkipSilent,
	}, a.device, a.store, a.uploader, a.hub, log.WithField("component", "session"), sessionOpts...)
	if err != nil {
		return a, err
	}

	a.broadcaster = events.NewBroadcaster(a.hub, log.WithField("component", "events"))
	if cfg.HTTP.Listen != "" {
		a.listener, err = net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			return a, fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Listen, err)
		}
		handler := api.NewHandler(a.session, totals{a.acc, a.mirror}, a.broadcaster, log.WithField("component", "api"))
		a.server = &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return a, nil
}

func openDevice(cfg *config.Config, log *logrus.Logger) (capture.Device, error) {
	if cfg.Capture.Driver == "audiosocket" {
		dev, err := capture.NewAudioSocket(cfg.Capture.Listen, log)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	dev, err := capture.NewPortAudio(cfg.Capture.Device)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// totals resets the accumulator together with its Redis mirror
type totals struct {
	*ratio.Accumulator
	mirror *ratio.RedisMirror
}

func (t totals) Reset(ctx context.Context) error {
	if t.mirror != nil {
		if err := t.mirror.Clear(ctx); err != nil {
			return fmt.Errorf("clearing redis totals: %w", err)
		}
	}
	t.Accumulator.Reset()
	return nil
}

func (a *App) restore(mirror *ratio.RedisMirror) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis %s: %w", a.cfg.Redis.Addr, err)
	}
	if !a.cfg.Redis.Restore {
		return nil
	}
	totals, err := mirror.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.acc.Restore(totals); err != nil {
		return fmt.Errorf("restoring totals: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"male_seconds":   totals.Male,
		"female_seconds": totals.Female,
	}).Info("Restored totals from redis")
	return nil
}

// Run serves the API, optionally starts recording, and blocks until ctx
// is cancelled. It then stops with submit, drains uploads and releases
// every resource.
func (a *App) Run(ctx context.Context, autostart bool) error {
	serveErr := make(chan error, 1)
	if a.server != nil {
		a.log.WithField("addr", a.listener.Addr().String()).Info("Control API listening")
		go func() {
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	if autostart {
		if err := a.session.Start(); err != nil {
			a.log.WithError(err).Warn("Recording not started, waiting for a start request")
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		a.log.WithError(runErr).Error("Control API failed")
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.log.Info("Shutting down")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("Control API shutdown")
		}
		cancel()
	}

	if a.session.State() == session.Recording {
		a.session.Stop(true)
	}
	a.session.Close()

	drain := a.cfg.Upload.Timeout*time.Duration(a.cfg.Upload.MaxAttempts) + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	if err := a.uploader.Wait(ctx); err != nil {
		a.log.WithError(err).Warn("Abandoning pending uploads")
	}
	cancel()

	if n := a.broadcaster.Dropped(); n > 0 {
		a.log.WithField("dropped_events", n).Warn("Slow event clients missed events")
	}
	a.release()
	a.metrics.Finalize()
}

func (a *App) release() {
	if a.uploader != nil {
		a.uploader.Close()
	}
	if a.broadcaster != nil {
		a.broadcaster.Close()
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.listener != nil && a.server == nil {
		a.listener.Close()
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			a.log.WithError(err).Warn("Closing capture device")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *App) Session() *session.Session {
	return a.session
}

func (a *App) Accumulator() *ratio.Accumulator {
	return a.acc
}

func (a *App) Hub() *events.Hub {
	return a.hub
}

func (a *App) Metrics() *metrics.SessionMetrics {
	return a.metrics
}

// Addr returns the control API address, or nil when disabled
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Device returns the capture device
func (a *App) Device() capture.Device {
	return a.device
}
