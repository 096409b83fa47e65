// Package core assembles the try-on daemon: camera backend, landmark
// provider, session manager, HTTP surface and the optional MQTT planes.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/meit-swami/jewellery/internal/api"
	"github.com/meit-swami/jewellery/internal/config"
	"github.com/meit-swami/jewellery/internal/control"
	"github.com/meit-swami/jewellery/internal/emitter"
	"github.com/meit-swami/jewellery/internal/session"
	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/jewelry"
	"github.com/meit-swami/jewellery/modules/landmarks"
	"github.com/meit-swami/jewellery/modules/render"
)

// Options override collaborators New would otherwise build from config.
type Options struct {
	// Opener replaces the V4L2 camera backend.
	Opener cameracapture.Opener

	// Landmarks replaces the configured detector backend.
	Landmarks landmarks.Provider
}

// Daemon is the try-on service orchestrator.
type Daemon struct {
	cfg *config.Config

	mgr       *session.Manager
	ledger    *gpu.Ledger
	api       *api.Server
	snapshots *render.SnapshotSaver
	cameraOK  bool

	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	httpServer     *http.Server

	mu        sync.Mutex
	wg        sync.WaitGroup
	started   time.Time
	isRunning bool
	addr      string
	cancel    context.CancelFunc
}

// New builds the daemon from a validated configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	d := &Daemon{cfg: cfg, ledger: gpu.NewLedger()}

	opener := opts.Opener
	d.cameraOK = true
	if opener == nil {
		d.cameraOK = cameracapture.CheckGStreamer()
		opener = cameracapture.NewV4L2Opener(cameracapture.V4L2Config{
			SysfsRoot:    cfg.Camera.SysfsRoot,
			DevRoot:      cfg.Camera.DevRoot,
			StartTimeout: cfg.Camera.StartTimeout(),
		})
		if !d.cameraOK {
			slog.Warn("core: gstreamer v4l2src unavailable, sessions will report camera unsupported")
		}
	}

	provider := opts.Landmarks
	if provider == nil {
		var err error
		provider, err = newProvider(cfg)
		if err != nil {
			return nil, err
		}
	}

	ledger := d.ledger
	mirror := !cfg.Render.DisableMirror
	mgr, err := session.NewManager(session.Config{
		CameraAvailable: d.cameraOK,
		IdealWidth:      cfg.Camera.Width,
		IdealHeight:     cfg.Camera.Height,
		PlaybackTimeout: cfg.Camera.PlaybackTimeout(),
		PixelRatio:      cfg.Render.PixelRatio,
		CameraDistance:  cfg.Render.CameraDistance,
		TickInterval:    cfg.Render.TickInterval(),
		DetectTimeout:   cfg.Detector.DetectTimeout(),
		CloseTimeout:    cfg.ShutdownTimeout(),
	}, session.Deps{
		Opener:      opener,
		Landmarks:   provider,
		Ledger:      ledger,
		Provisioner: jewelry.NewProvisioner(jewelry.NewAssetLoader(cfg.Models.FetchTimeout(), cfg.Models.MaxBytes, cfg.Models.AssetsDir), ledger),
		NewSurface:  func() render.Surface { return render.NewOffscreen(ledger, mirror) },
	})
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	d.mgr = mgr

	if cfg.Snapshots.Dir != "" {
		d.snapshots, err = render.NewSnapshotSaver(cfg.Snapshots.Dir, cfg.Snapshots.Format, cfg.Snapshots.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("core: snapshots: %w", err)
		}
	}

	if cfg.MQTT.Broker != "" {
		d.emitter = emitter.NewMQTTEmitter(cfg.InstanceID, cfg.MQTT)
	}

	d.api = api.New(mgr, api.Options{
		Snapshots: d.snapshots,
		Health:    d.health,
	})

	slog.Info("core: daemon configured",
		"instance_id", cfg.InstanceID,
		"camera_available", d.cameraOK,
		"detector", cfg.Detector.Backend,
		"mqtt", cfg.MQTT.Broker != "",
		"snapshots", d.snapshots != nil,
	)
	return d, nil
}

func newProvider(cfg *config.Config) (landmarks.Provider, error) {
	switch cfg.Detector.Backend {
	case config.BackendPython:
		p, err := landmarks.NewPythonProvider(landmarks.PythonConfig{
			WorkerID:      "landmarks-" + cfg.InstanceID,
			Command:       cfg.Detector.Command,
			Args:          cfg.Detector.Args,
			InitTimeout:   cfg.Detector.InitTimeout(),
			DetectTimeout: cfg.Detector.DetectTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		return p, nil
	default:
		return landmarks.Synthetic{}, nil
	}
}

// Manager returns the session manager.
func (d *Daemon) Manager() *session.Manager { return d.mgr }

// Handler returns the HTTP handler served by Run.
func (d *Daemon) Handler() http.Handler { return d.api.Router() }

// Addr returns the HTTP listen address once Run has bound it.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Run starts the HTTP surface and the MQTT planes and blocks until ctx is
// cancelled, a shutdown command arrives or the listener fails.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("core: daemon is already running")
	}
	d.isRunning = true
	d.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	if d.emitter != nil {
		if err := d.startMQTT(ctx); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", d.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("core: listen %s: %w", d.cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:           d.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.mu.Lock()
	d.httpServer = srv
	d.addr = ln.Addr().String()
	d.mu.Unlock()

	serveErr := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("core: daemon running", "instance_id", d.cfg.InstanceID, "http", ln.Addr().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return fmt.Errorf("core: http server: %w", err)
	}
}

func (d *Daemon) startMQTT(ctx context.Context) error {
	if err := d.emitter.Connect(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.emitter.Run(ctx, d.mgr.Bus()); err != nil {
			slog.Error("core: emitter stopped", "error", err)
		}
	}()

	d.controlHandler = control.NewHandler(d.cfg.MQTT, d.emitter.Client, d.callbacks())
	if err := d.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("core: control plane: %w", err)
	}
	return nil
}

func (d *Daemon) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnOpen: func(ctx context.Context, p control.Params) (any, error) {
			s, err := d.mgr.Open(ctx, session.Request{
				ViewerID: p.ViewerID,
				Category: p.Category,
				ModelURL: p.ModelURL,
				Origin:   p.Origin,
			})
			if err != nil {
				return nil, err
			}
			return s.Status(), nil
		},
		OnClose: d.mgr.Close,
		OnRetry: d.mgr.Retry,
		OnGetStatus: func() any {
			return d.Status()
		},
		OnSnapshot: d.snapshot,
		OnShutdown: func() error {
			d.mu.Lock()
			cancel := d.cancel
			d.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return nil
		},
	}
}

func (d *Daemon) snapshot(viewerID string) (string, error) {
	if d.snapshots == nil {
		return "", fmt.Errorf("snapshots are disabled")
	}
	s, ok := d.mgr.Get(viewerID)
	if !ok {
		return "", session.ErrNoSession
	}
	return s.SaveSnapshot(d.snapshots)
}

// Shutdown stops the HTTP surface, closes every session and disconnects
// from the broker.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	srv := d.httpServer
	cancel := d.cancel
	d.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if d.controlHandler != nil {
		if err := d.controlHandler.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	d.mgr.Shutdown()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("timed out waiting for background goroutines"))
	}

	if d.emitter != nil {
		d.emitter.Disconnect()
	}
	if err := d.mgr.Bus().Close(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("core: daemon stopped", "gpu_live", d.ledger.Total())
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (d *Daemon) ShutdownTimeout() time.Duration {
	return d.cfg.ShutdownTimeout()
}

// Status returns a daemon-wide status snapshot.
func (d *Daemon) Status() map[string]any {
	d.mu.Lock()
	running, started := d.isRunning, d.started
	d.mu.Unlock()

	st := map[string]any{
		"instance_id": d.cfg.InstanceID,
		"running":     running,
		"sessions":    d.mgr.List(),
		"gpu_live":    d.ledger.Snapshot(),
	}
	if running {
		st["uptime_s"] = int(time.Since(started).Seconds())
	}
	return st
}

// health feeds the component section of /healthz.
func (d *Daemon) health() map[string]any {
	h := map[string]any{
		"instance_id":      d.cfg.InstanceID,
		"camera_available": d.cameraOK,
		"detector":         d.cfg.Detector.Backend,
		"mqtt":             "disabled",
	}
	if d.emitter != nil {
		h["mqtt"] = d.emitter.Stats()
	}
	if d.snapshots != nil {
		saved, failed := d.snapshots.Stats()
		h["snapshots_saved"], h["snapshots_failed"] = saved, failed
	}
	return h
}
