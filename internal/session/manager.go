package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/eventbus"
	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/jewelry"
	"github.com/meit-swami/jewellery/modules/landmarks"
	"github.com/meit-swami/jewellery/modules/render"
)

const tracerName = "github.com/meit-swami/jewellery/internal/session"

// Config tunes session initialization and the render loop.
type Config struct {
	// CameraAvailable reports whether a capture backend exists on this host.
	CameraAvailable bool

	IdealWidth  int // default 1280
	IdealHeight int // default 720

	PlaybackTimeout time.Duration // default 5s
	PixelRatio      float64       // default 1
	CameraDistance  float64       // default 2
	TickInterval    time.Duration // default 1/30s
	DetectTimeout   time.Duration // default 200ms
	CloseTimeout    time.Duration // default 5s
}

func (c *Config) applyDefaults() {
	if c.IdealWidth <= 0 || c.IdealHeight <= 0 {
		c.IdealWidth, c.IdealHeight = cameracapture.DefaultIdealWidth, cameracapture.DefaultIdealHeight
	}
	if c.PlaybackTimeout <= 0 {
		c.PlaybackTimeout = 5 * time.Second
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	if c.CameraDistance <= 0 {
		c.CameraDistance = 2
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second / 30
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 200 * time.Millisecond
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
}

// Deps are the collaborators every session draws its resources from.
type Deps struct {
	Opener    cameracapture.Opener
	Landmarks landmarks.Provider

	// Optional; defaults are filled by NewManager.
	Ledger      *gpu.Ledger
	Provisioner *jewelry.Provisioner
	NewSurface  func() render.Surface
	Bus         eventbus.Bus
	Tracer      trace.Tracer
}

// Manager keeps at most one live session per viewer.
type Manager struct {
	cfg  Config
	deps *Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager validates deps and fills defaults.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Opener == nil {
		return nil, errors.New("session: camera opener is required")
	}
	if deps.Landmarks == nil {
		return nil, errors.New("session: landmark provider is required")
	}
	cfg.applyDefaults()

	if deps.Ledger == nil {
		deps.Ledger = gpu.NewLedger()
	}
	if deps.Provisioner == nil {
		deps.Provisioner = jewelry.NewProvisioner(nil, deps.Ledger)
	}
	if deps.NewSurface == nil {
		ledger := deps.Ledger
		deps.NewSurface = func() render.Surface { return render.NewOffscreen(ledger, true) }
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	return &Manager{
		cfg:      cfg,
		deps:     &deps,
		sessions: make(map[string]*Session),
	}, nil
}

// Bus returns the event bus sessions publish to.
func (m *Manager) Bus() eventbus.Bus { return m.deps.Bus }

// Ledger returns the GPU resource ledger shared by all sessions.
func (m *Manager) Ledger() *gpu.Ledger { return m.deps.Ledger }

// Open starts a session for req.ViewerID. A live session for the same
// viewer is closed first, so its camera is free before the new one asks.
// Initialization continues in the background; use Session.Wait to block.
func (m *Manager) Open(ctx context.Context, req Request) (*Session, error) {
	if req.ViewerID == "" {
		return nil, ErrViewerRequired
	}

	s := newSession(req, m.cfg, m.deps)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	prev := m.sessions[req.ViewerID]
	m.sessions[req.ViewerID] = s
	m.mu.Unlock()

	if prev != nil {
		slog.Info("session: closing previous session for viewer",
			"viewer_id", req.ViewerID,
			"previous_session_id", prev.ID(),
		)
		_ = prev.Close()
	}

	slog.Info("session: opened",
		"session_id", s.ID(),
		"viewer_id", req.ViewerID,
		"category", s.category,
		"model_url", s.modelRef,
	)
	s.begin(ctx)
	return s, nil
}

// Get returns the viewer's current session.
func (m *Manager) Get(viewerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[viewerID]
	return s, ok
}

// Close closes and forgets the viewer's session.
func (m *Manager) Close(viewerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[viewerID]
	if ok {
		delete(m.sessions, viewerID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNoSession
	}
	return s.Close()
}

// Retry restarts the viewer's failed session.
func (m *Manager) Retry(ctx context.Context, viewerID string) error {
	s, ok := m.Get(viewerID)
	if !ok {
		return ErrNoSession
	}
	return s.Retry(ctx)
}

// List returns the status of every tracked session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Shutdown closes every session and rejects further opens.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()

	slog.Info("session: manager shut down",
		"sessions_closed", len(sessions),
		"gpu_live", m.deps.Ledger.Total(),
	)
}
