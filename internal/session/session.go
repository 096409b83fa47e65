// Package session owns the lifecycle of AR try-on sessions: camera
// acquisition, strict initialization order, the render loop and the
// release of every camera, detector and GPU resource on close.
//
// A session initializes on its own goroutine in this order:
//
//	camera → playback → surface → detector → model → running
//
// Any failure aborts the remaining steps, releases what was acquired and
// moves the session to the error state. Retry restarts from the camera.
// Close is idempotent, callable from any state and concurrently with
// initialization.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/eventbus"
	"github.com/meit-swami/jewellery/modules/framesupplier"
	"github.com/meit-swami/jewellery/modules/jewelry"
	"github.com/meit-swami/jewellery/modules/landmarks"
	"github.com/meit-swami/jewellery/modules/placement"
	"github.com/meit-swami/jewellery/modules/render"
)

// Request opens a session for one viewer.
type Request struct {
	ViewerID string `json:"viewer_id"`
	Category string `json:"category"`
	ModelURL string `json:"model_url,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID   string                       `json:"session_id"`
	ViewerID    string                       `json:"viewer_id"`
	Category    string                       `json:"category"`
	Placement   string                       `json:"placement"`
	Hint        string                       `json:"hint"`
	State       string                       `json:"state"`
	Phase       string                       `json:"phase"`
	Message     string                       `json:"message,omitempty"`
	ErrorKind   string                       `json:"error_kind,omitempty"`
	Attempt     int                          `json:"attempt"`
	ModelSource string                       `json:"model_source,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	UpdatedAt   time.Time                    `json:"updated_at"`
	Camera      *cameracapture.StreamStats   `json:"camera,omitempty"`
	Playback    *cameracapture.PlaybackStats `json:"playback,omitempty"`
	Loop        *render.LoopStats            `json:"loop,omitempty"`
}

// Session is one AR activation for one viewer.
type Session struct {
	id       string
	viewerID string
	category string
	cat      placement.Category
	modelRef string
	origin   string

	cfg  Config
	deps *Deps

	// alive is the lifecycle flag the render loop checks every tick.
	alive atomic.Bool

	mu       sync.Mutex
	state    State
	phase    Phase
	message  string
	errKind  string
	attempt  int
	created  time.Time
	updated  time.Time
	changed  chan struct{}
	playback *cameracapture.PlaybackStats

	// Owned resources. Once closing is set, anything acquired late is
	// released immediately instead of being stored.
	resMu    sync.Mutex
	closing  bool
	stream   cameracapture.Stream
	supplier framesupplier.Supplier
	reader   *framesupplier.Reader
	surface  render.Surface
	scene    *render.Scene
	detector landmarks.Detector
	model    *jewelry.Model
	loop     *render.Loop

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func newSession(req Request, cfg Config, deps *Deps) *Session {
	now := time.Now()
	category := strings.ToLower(strings.TrimSpace(req.Category))
	return &Session{
		id:       uuid.NewString(),
		viewerID: req.ViewerID,
		category: category,
		cat:      placement.ParseCategory(category),
		modelRef: strings.TrimSpace(req.ModelURL),
		origin:   req.Origin,
		cfg:      cfg,
		deps:     deps,
		state:    StateLoading,
		phase:    PhaseCamera,
		attempt:  1,
		created:  now,
		updated:  now,
		changed:  make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ViewerID returns the viewer that owns the session.
func (s *Session) ViewerID() string { return s.viewerID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin publishes the initial loading state and launches the first run.
func (s *Session) begin(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	ev := s.eventLocked()
	s.mu.Unlock()
	s.deps.Bus.Publish(ev)

	s.start(context.WithoutCancel(ctx))
}

// start launches one initialization run. Callers hold runMu.
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.alive.Store(true)

	go func() {
		defer close(done)
		defer cancel()
		s.run(ctx)
	}()
}

func (s *Session) run(ctx context.Context) {
	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()

	ctx, span := s.deps.Tracer.Start(ctx, "session.init", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.viewer_id", s.viewerID),
		attribute.String("session.category", s.category),
		attribute.Int("session.attempt", attempt),
	))

	slog.Info("session: initializing",
		"session_id", s.id,
		"viewer_id", s.viewerID,
		"category", s.category,
		"placement", s.cat.String(),
		"attempt", attempt,
	)

	loop, err := s.initialize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		s.release()
		s.fail(err)
		return
	}
	span.End()

	if !s.transition(StateReady, nil) {
		return
	}
	if err := loop.Run(ctx, s.cfg.TickInterval, s.alive.Load); err != nil {
		s.release()
		s.fail(&InitError{Phase: PhaseRunning, Kind: cameracapture.KindDevice.String(), Err: err})
	}
}

// initialize runs every phase in order and returns the ready loop.
func (s *Session) initialize(ctx context.Context) (*render.Loop, error) {
	var (
		stream   cameracapture.Stream
		reader   *framesupplier.Reader
		surface  render.Surface
		scene    *render.Scene
		detector landmarks.Detector
		model    *jewelry.Model
	)

	err := s.step(ctx, PhaseCamera, func(ctx context.Context) error {
		env := cameracapture.Environment{APIAvailable: s.cfg.CameraAvailable, Origin: s.origin}
		st, err := cameracapture.Acquire(ctx, s.deps.Opener, env, s.cfg.IdealWidth, s.cfg.IdealHeight)
		if err != nil {
			return err
		}
		stream = st
		return s.own(func() { s.stream = st }, func() { _ = st.Stop() })
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, PhasePlayback, func(ctx context.Context) error {
		stats, err := cameracapture.AwaitPlayback(ctx, stream, s.cfg.PlaybackTimeout)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.playback = stats
		s.mu.Unlock()

		sup := framesupplier.New()
		if err := sup.Start(ctx); err != nil {
			return err
		}
		r := sup.Subscribe(s.id)
		if err := s.own(func() { s.supplier, s.reader = sup, r }, func() { _ = sup.Stop() }); err != nil {
			return err
		}
		reader = r
		go pump(stream, sup)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, PhaseSurface, func(context.Context) error {
		w, h := stream.Dimensions()
		if w <= 0 || h <= 0 {
			return fmt.Errorf("camera reported invalid size %dx%d", w, h)
		}
		sf := s.deps.NewSurface()
		if err := s.own(func() { s.surface = sf }, func() { _ = sf.Dispose() }); err != nil {
			return err
		}
		sf.Resize(w, h, s.cfg.PixelRatio)
		surface = sf
		scene = render.NewScene(w, h, s.cfg.CameraDistance)
		s.resMu.Lock()
		s.scene = scene
		s.resMu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, PhaseDetector, func(ctx context.Context) error {
		need := placement.Requirement(s.cat)
		var det landmarks.Detector
		if need.Empty() {
			slog.Warn("session: category has no placement rule, model stays hidden",
				"session_id", s.id,
				"category", s.category,
			)
			det = landmarks.Nop()
		} else {
			d, err := s.deps.Landmarks.Open(ctx, need)
			if err != nil {
				return err
			}
			det = d
		}
		detector = det
		return s.own(func() { s.detector = det }, func() { _ = det.Close() })
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, PhaseModel, func(ctx context.Context) error {
		m, err := s.deps.Provisioner.Provision(ctx, s.cat, s.modelRef)
		if err != nil {
			return err
		}
		if err := s.own(func() { s.model = m }, m.Dispose); err != nil {
			return err
		}
		if err := surface.Upload(m); err != nil {
			return err
		}
		scene.Model = m
		model = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	loop := render.NewLoop(render.LoopConfig{
		SessionID:     s.id,
		Category:      s.cat,
		Frames:        reader,
		Detector:      detector,
		Model:         model,
		Scene:         scene,
		Surface:       surface,
		DetectTimeout: s.cfg.DetectTimeout,
	})
	if err := s.own(func() { s.loop = loop }, func() {}); err != nil {
		return nil, err
	}
	return loop, nil
}

// step runs one phase inside its own span.
func (s *Session) step(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &InitError{Phase: phase, Kind: KindUnknown, Err: err}
	}
	if !s.setPhase(phase) {
		return &InitError{Phase: phase, Kind: KindUnknown, Err: ErrClosed}
	}

	ctx, span := s.deps.Tracer.Start(ctx, "session."+phase.String())
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		kind := classify(phase, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("session.error_kind", kind))

		slog.Warn("session: phase failed",
			"session_id", s.id,
			"phase", phase.String(),
			"kind", kind,
			"error", err,
		)
		return &InitError{Phase: phase, Kind: kind, Err: err}
	}

	slog.Debug("session: phase complete",
		"session_id", s.id,
		"phase", phase.String(),
		"duration", time.Since(start),
	)
	return nil
}

// own stores a freshly acquired resource, or discards it when the session
// started closing while the resource was being acquired.
func (s *Session) own(store, discard func()) error {
	s.resMu.Lock()
	if s.closing {
		s.resMu.Unlock()
		discard()
		return ErrClosed
	}
	store()
	s.resMu.Unlock()
	return nil
}

// pump forwards camera frames into the supplier until the stream stops,
// then stops the supplier so readers observe the end of the source.
func pump(stream cameracapture.Stream, sup framesupplier.Supplier) {
	for f := range stream.Frames() {
		frame := f
		sup.Publish(&frame)
	}
	_ = sup.Stop()
}

// release stops the camera, closes the detector and disposes the model and
// surface. Safe to call repeatedly; each resource is released once.
func (s *Session) release() {
	s.resMu.Lock()
	defer s.resMu.Unlock()

	var released []string

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			slog.Warn("session: camera stop failed", "session_id", s.id, "error", err)
		}
		s.stream = nil
		released = append(released, "camera")
	}
	if s.supplier != nil {
		s.supplier.Unsubscribe(s.id)
		_ = s.supplier.Stop()
		s.supplier, s.reader = nil, nil
		released = append(released, "frames")
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			slog.Warn("session: detector close failed", "session_id", s.id, "error", err)
		}
		s.detector = nil
		released = append(released, "detector")
	}
	if s.model != nil {
		s.model.Dispose()
		s.model = nil
		released = append(released, "model")
	}
	if s.surface != nil {
		if err := s.surface.Dispose(); err != nil {
			slog.Warn("session: surface dispose failed", "session_id", s.id, "error", err)
		}
		s.surface = nil
		released = append(released, "surface")
	}
	s.scene = nil
	s.loop = nil

	if len(released) > 0 {
		slog.Info("session: resources released",
			"session_id", s.id,
			"released", strings.Join(released, ","),
			"gpu_live", s.deps.Ledger.Total(),
		)
	}
}

// setPhase records progress within loading. It fails once the session
// left loading (closed mid-initialization).
func (s *Session) setPhase(p Phase) bool {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return false
	}
	s.phase = p
	s.updated = time.Now()
	ev := s.eventLocked()
	s.mu.Unlock()

	slog.Debug("session: phase", "session_id", s.id, "phase", p.String())
	s.deps.Bus.Publish(ev)
	return true
}

// fail moves the session to error unless it was closed meanwhile.
func (s *Session) fail(err error) {
	s.transition(StateError, err)
}

// transition is the single place state changes. It validates against the
// transition table, publishes an event and wakes waiters.
func (s *Session) transition(to State, cause error) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		slog.Debug("session: transition rejected",
			"session_id", s.id,
			"from", from.String(),
			"to", to.String(),
		)
		return false
	}

	s.state = to
	s.updated = time.Now()
	switch to {
	case StateLoading:
		s.attempt++
		s.phase = PhaseCamera
		s.message, s.errKind = "", ""
		s.playback = nil
	case StateReady:
		s.phase = PhaseRunning
	case StateError:
		s.message = UserMessage(cause)
		s.errKind = KindUnknown
		var ierr *InitError
		if errors.As(cause, &ierr) {
			s.errKind = ierr.Kind
		}
	}
	changed := s.changed
	s.changed = make(chan struct{})
	ev := s.eventLocked()
	s.mu.Unlock()

	attrs := []any{
		"session_id", s.id,
		"viewer_id", s.viewerID,
		"category", s.category,
		"from", from.String(),
		"to", to.String(),
	}
	if to == StateError {
		attrs = append(attrs, "kind", ev.ErrorKind, "error", cause)
		slog.Warn("session: state changed", attrs...)
	} else {
		slog.Info("session: state changed", attrs...)
	}

	// Publish before waking waiters so observers see the event first.
	s.deps.Bus.Publish(ev)
	close(changed)
	return true
}

func (s *Session) eventLocked() eventbus.Event {
	return eventbus.Event{
		SessionID: s.id,
		ViewerID:  s.viewerID,
		Category:  s.category,
		State:     s.state.String(),
		Phase:     s.phase.String(),
		Message:   s.message,
		ErrorKind: s.errKind,
		Attempt:   s.attempt,
		Time:      s.updated,
	}
}

// Wait blocks until the session leaves loading or ctx is done, and
// returns the state at that point.
func (s *Session) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		st, ch := s.state, s.changed
		s.mu.Unlock()

		if st != StateLoading {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Retry restarts initialization from scratch. Only valid in the error state.
func (s *Session) Retry(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	switch s.State() {
	case StateClosed:
		return ErrClosed
	case StateError:
	default:
		return ErrNotRetryable
	}

	// The failed run releases and exits right after entering error.
	if s.done != nil {
		<-s.done
	}
	if !s.transition(StateLoading, nil) {
		return ErrClosed
	}

	slog.Info("session: retrying", "session_id", s.id, "viewer_id", s.viewerID)
	s.start(context.WithoutCancel(ctx))
	return nil
}

// Close stops the session and releases every resource. Idempotent; safe
// from any state and concurrently with initialization.
func (s *Session) Close() error {
	first := false
	s.closeOnce.Do(func() { first = true })
	if !first {
		return nil
	}

	s.alive.Store(false)
	s.transition(StateClosed, nil)

	s.resMu.Lock()
	s.closing = true
	s.resMu.Unlock()

	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.cfg.CloseTimeout):
			slog.Warn("session: close timeout exceeded, releasing while initialization unwinds",
				"session_id", s.id,
				"timeout", s.cfg.CloseTimeout,
			)
		}
	}

	s.release()
	slog.Info("session: closed", "session_id", s.id, "viewer_id", s.viewerID)
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SessionID: s.id,
		ViewerID:  s.viewerID,
		Category:  s.category,
		Placement: s.cat.String(),
		Hint:      placement.Hint(s.cat),
		State:     s.state.String(),
		Phase:     s.phase.String(),
		Message:   s.message,
		ErrorKind: s.errKind,
		Attempt:   s.attempt,
		CreatedAt: s.created,
		UpdatedAt: s.updated,
		Playback:  s.playback,
	}
	s.mu.Unlock()

	s.resMu.Lock()
	if s.stream != nil {
		cs := s.stream.Stats()
		st.Camera = &cs
	}
	if s.loop != nil {
		ls := s.loop.Stats()
		st.Loop = &ls
	}
	if s.model != nil {
		st.ModelSource = s.model.Source.String()
	}
	s.resMu.Unlock()
	return st
}

// snapshotter is implemented by surfaces that keep a readable overlay.
type snapshotter interface {
	Snapshot() *image.RGBA
}

// SaveSnapshot composites the overlay over the latest processed frame.
func (s *Session) SaveSnapshot(saver *render.SnapshotSaver) (string, error) {
	s.resMu.Lock()
	loop, surface := s.loop, s.surface
	s.resMu.Unlock()

	if loop == nil || surface == nil {
		return "", fmt.Errorf("session: %s is not rendering", s.id)
	}
	snap, ok := surface.(snapshotter)
	if !ok {
		return "", fmt.Errorf("session: surface does not support snapshots")
	}
	frame := loop.LastFrame()
	if frame == nil {
		return "", fmt.Errorf("session: no frame processed yet")
	}
	return saver.Save(frame, snap.Snapshot())
}
