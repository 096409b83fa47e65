package session

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/camera-capture/cameratest"
	"github.com/meit-swami/jewellery/modules/eventbus"
	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/landmarks"
	"github.com/meit-swami/jewellery/modules/render"
)

// trackedDetector records Close so tests can count live detectors.
type trackedDetector struct {
	landmarks.Detector
	closed atomic.Bool
}

func (d *trackedDetector) Close() error {
	d.closed.Store(true)
	return d.Detector.Close()
}

// fakeProvider wraps the synthetic provider with failure and blocking knobs.
type fakeProvider struct {
	err error

	// block, when set, holds Open until it is closed. With ignoreCtx the
	// wait does not observe cancellation.
	block     chan struct{}
	ignoreCtx bool

	opens atomic.Int32
	mu    sync.Mutex
	dets  []*trackedDetector
}

func (p *fakeProvider) Open(ctx context.Context, need landmarks.Set) (landmarks.Detector, error) {
	p.opens.Add(1)
	if p.block != nil {
		if p.ignoreCtx {
			<-p.block
		} else {
			select {
			case <-p.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	inner, _ := landmarks.Synthetic{}.Open(ctx, need)
	d := &trackedDetector{Detector: inner}
	p.mu.Lock()
	p.dets = append(p.dets, d)
	p.mu.Unlock()
	return d, nil
}

func (p *fakeProvider) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.dets {
		if !d.closed.Load() {
			n++
		}
	}
	return n
}

type fixture struct {
	mgr      *Manager
	opener   *cameratest.Opener
	provider *fakeProvider
	ledger   *gpu.Ledger
	bus      eventbus.Bus
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()
	if provider == nil {
		provider = &fakeProvider{}
	}
	f := &fixture{
		opener:   cameratest.NewOpener(64, 48),
		provider: provider,
		ledger:   gpu.NewLedger(),
		bus:      eventbus.New(),
	}
	mgr, err := NewManager(Config{
		CameraAvailable: true,
		PlaybackTimeout: time.Second,
		TickInterval:    5 * time.Millisecond,
		CloseTimeout:    2 * time.Second,
	}, Deps{
		Opener:    f.opener,
		Landmarks: provider,
		Ledger:    f.ledger,
		Bus:       f.bus,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.mgr = mgr
	t.Cleanup(mgr.Shutdown)
	return f
}

func (f *fixture) open(t *testing.T, category string) *Session {
	t.Helper()
	s, err := f.mgr.Open(context.Background(), Request{
		ViewerID: "viewer-1",
		Category: category,
		Origin:   "https://shop.example",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// assertReleased checks that no camera, detector or GPU resource outlived the session.
func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	if n := f.opener.LiveStreams(); n != 0 {
		t.Errorf("%d camera streams still live", n)
	}
	if n := f.provider.live(); n != 0 {
		t.Errorf("%d detectors still open", n)
	}
	if total := f.ledger.Total(); total != 0 {
		t.Errorf("GPU ledger not at baseline: %v", f.ledger.Snapshot())
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (state %s)", err, got)
	}
	if got != want {
		t.Fatalf("state = %s, want %s (status %+v)", got, want, s.Status())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenReachesReadyAndPlacesModel(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "Ring Solitaire")
	waitState(t, s, StateReady)

	st := s.Status()
	if st.Phase != "running" || st.Placement != "ring" || st.ModelSource != "template" {
		t.Errorf("status = %+v", st)
	}
	if st.Playback == nil || st.Playback.FramesReceived == 0 {
		t.Error("playback stats missing")
	}

	stream := f.opener.Streams()[0]
	waitFor(t, "a placed frame", func() bool {
		stream.Push()
		ls := s.Status().Loop
		return ls != nil && ls.Placed > 0
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state after close = %s", s.State())
	}
	f.assertReleased(t)
	t.Logf("✅ ring session placed model and released everything on close")
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "necklace")
	waitState(t, s, StateReady)

	for i := range 3 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if n := f.opener.Streams()[0].StopCalls(); n != 1 {
		t.Errorf("camera stopped %d times, want 1", n)
	}
	f.assertReleased(t)
}

func TestPermissionDeniedThenRetry(t *testing.T) {
	f := newFixture(t, nil)
	denied := errors.New("NotAllowedError: Permission denied")
	f.opener.Script(
		cameratest.Step{Err: denied},
		cameratest.Step{Err: denied},
		cameratest.Step{Err: denied},
		cameratest.Step{},
	)

	events := make(chan eventbus.Event, 128)
	if err := f.bus.Subscribe("test", events); err != nil {
		t.Fatal(err)
	}

	s := f.open(t, "earring")
	waitState(t, s, StateError)

	st := s.Status()
	if st.ErrorKind != "permission" {
		t.Errorf("ErrorKind = %q, want permission", st.ErrorKind)
	}
	if !strings.HasPrefix(st.Message, "Failed to initialize AR. ") || !strings.Contains(st.Message, "permission was denied") {
		t.Errorf("Message = %q", st.Message)
	}
	f.assertReleased(t)

	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitState(t, s, StateReady)

	if n := len(f.opener.Calls()); n != 4 {
		t.Errorf("Open called %d times, want 3 failed attempts + 1 retry", n)
	}
	if st := s.Status(); st.Attempt != 2 || st.Message != "" || st.ErrorKind != "" {
		t.Errorf("after retry status = %+v", st)
	}

	var states []string
	for len(events) > 0 {
		ev := <-events
		if len(states) == 0 || states[len(states)-1] != ev.State {
			states = append(states, ev.State)
		}
	}
	want := []string{"loading", "error", "loading", "ready"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("state sequence = %v, want %v", states, want)
	}

	s.Close()
	f.assertReleased(t)
	t.Logf("✅ loading → error → loading → ready")
}

func TestCameraLostAfterReadyFailsSession(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "ring")
	waitState(t, s, StateReady)

	stream := f.opener.Streams()[0]
	waitFor(t, "a placed frame", func() bool {
		stream.Push()
		ls := s.Status().Loop
		return ls != nil && ls.Placed > 0
	})
	s.resMu.Lock()
	model := s.model
	s.resMu.Unlock()
	if !model.Visible() {
		t.Fatal("model should be placed before the camera is lost")
	}

	stream.Stop()
	waitFor(t, "error state", func() bool { return s.State() == StateError })

	if model.Visible() {
		t.Error("model still visible after the camera was lost")
	}
	st := s.Status()
	if st.ErrorKind != "device" || !strings.Contains(st.Message, "disconnected") {
		t.Errorf("status = %+v", st)
	}
	f.assertReleased(t)

	if err := s.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitState(t, s, StateReady)
	if n := len(f.opener.Streams()); n != 2 {
		t.Errorf("streams opened = %d, want 2", n)
	}

	s.Close()
	f.assertReleased(t)
	t.Logf("✅ lost camera hides the model and leaves a retryable error")
}

func TestRetryOnlyFromError(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "bracelet")
	waitState(t, s, StateReady)

	if err := s.Retry(context.Background()); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry while ready = %v, want ErrNotRetryable", err)
	}
	s.Close()
	if err := s.Retry(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Retry after close = %v, want ErrClosed", err)
	}
}

func TestDetectorFailureIsFatal(t *testing.T) {
	f := newFixture(t, &fakeProvider{err: errors.New("model file missing")})
	s := f.open(t, "anklet")
	waitState(t, s, StateError)

	st := s.Status()
	if st.ErrorKind != KindDetector || st.Phase != "detector" {
		t.Errorf("status = %+v", st)
	}
	f.assertReleased(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close after error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close after error: %v", err)
	}
	f.assertReleased(t)
}

func TestCloseDuringInitialization(t *testing.T) {
	provider := &fakeProvider{block: make(chan struct{})}
	f := newFixture(t, provider)
	s := f.open(t, "tiara")

	waitFor(t, "detector phase", func() bool { return provider.opens.Load() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	f.assertReleased(t)
	t.Logf("✅ camera granted, detector pending: nothing leaked")
}

func TestLateAcquisitionAfterCloseIsReleased(t *testing.T) {
	provider := &fakeProvider{block: make(chan struct{}), ignoreCtx: true}
	f := newFixture(t, provider)
	f.mgr.cfg.CloseTimeout = 20 * time.Millisecond
	s := f.open(t, "ring")

	waitFor(t, "detector phase", func() bool { return provider.opens.Load() == 1 })
	s.Close()
	close(provider.block)

	waitFor(t, "late detector released", func() bool {
		provider.mu.Lock()
		n := len(provider.dets)
		provider.mu.Unlock()
		return n == 1 && provider.live() == 0
	})
	f.assertReleased(t)
}

func TestOpenClosesPreviousSessionForViewer(t *testing.T) {
	f := newFixture(t, nil)
	first := f.open(t, "ring")
	waitState(t, first, StateReady)

	second := f.open(t, "necklace")
	if first.State() != StateClosed {
		t.Errorf("previous session state = %s, want closed", first.State())
	}
	waitState(t, second, StateReady)

	if n := f.opener.LiveStreams(); n != 1 {
		t.Errorf("live streams = %d, want 1", n)
	}
	if got, _ := f.mgr.Get("viewer-1"); got != second {
		t.Error("manager should track the newest session")
	}
}

func TestInsecureOriginFailsWithoutCameraPrompt(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.mgr.Open(context.Background(), Request{
		ViewerID: "viewer-2",
		Category: "ring",
		Origin:   "http://shop.example",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitState(t, s, StateError)

	if n := len(f.opener.Calls()); n != 0 {
		t.Errorf("camera opened %d times despite insecure origin", n)
	}
	st := s.Status()
	if st.ErrorKind != "capability" || !strings.Contains(st.Message, "HTTPS") {
		t.Errorf("status = %+v", st)
	}
}

func TestUnknownCategoryStaysHidden(t *testing.T) {
	f := newFixture(t, nil)
	s := f.open(t, "wristwatch")
	waitState(t, s, StateReady)

	if n := f.provider.opens.Load(); n != 0 {
		t.Errorf("detector opened %d times for an unplaceable category", n)
	}

	stream := f.opener.Streams()[0]
	waitFor(t, "processed frames", func() bool {
		stream.Push()
		ls := s.Status().Loop
		return ls != nil && ls.NewFrames >= 3
	})
	if ls := s.Status().Loop; ls.Placed != 0 {
		t.Errorf("Placed = %d, want 0", ls.Placed)
	}
}

func TestInitSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	opener := cameratest.NewOpener(64, 48)
	mgr, err := NewManager(Config{CameraAvailable: true}, Deps{
		Opener:    opener,
		Landmarks: &fakeProvider{},
		Tracer:    tp.Tracer("test"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Shutdown()

	s, _ := mgr.Open(context.Background(), Request{ViewerID: "v", Category: "ring"})
	waitState(t, s, StateReady)

	var names []string
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
	}
	want := "session.camera,session.playback,session.surface,session.detector,session.model,session.init"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("spans = %s, want %s", got, want)
	}
}

func TestManager(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.Open(context.Background(), Request{Category: "ring"}); !errors.Is(err, ErrViewerRequired) {
		t.Errorf("Open without viewer = %v", err)
	}
	if err := f.mgr.Close("nobody"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Close unknown = %v", err)
	}
	if err := f.mgr.Retry(context.Background(), "nobody"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Retry unknown = %v", err)
	}

	s := f.open(t, "ring")
	waitState(t, s, StateReady)
	if n := len(f.mgr.List()); n != 1 {
		t.Errorf("List = %d sessions", n)
	}

	f.mgr.Shutdown()
	if s.State() != StateClosed {
		t.Errorf("state after shutdown = %s", s.State())
	}
	if _, err := f.mgr.Open(context.Background(), Request{ViewerID: "v", Category: "ring"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after shutdown = %v", err)
	}
	f.assertReleased(t)
}

func TestNewManagerRequiresDeps(t *testing.T) {
	if _, err := NewManager(Config{}, Deps{Landmarks: &fakeProvider{}}); err == nil {
		t.Error("missing opener should fail")
	}
	if _, err := NewManager(Config{}, Deps{Opener: cameratest.NewOpener(1, 1)}); err == nil {
		t.Error("missing provider should fail")
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateLoading, StateReady, true},
		{StateLoading, StateError, true},
		{StateError, StateLoading, true},
		{StateReady, StateClosed, true},
		{StateError, StateClosed, true},
		{StateLoading, StateClosed, true},
		{StateReady, StateLoading, false},
		{StateReady, StateError, true},
		{StateError, StateReady, false},
		{StateClosed, StateLoading, false},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s → %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permission", &InitError{Phase: PhaseCamera, Kind: "permission"}, "Camera permission was denied"},
		{"device", &InitError{Phase: PhaseCamera, Kind: "device"}, "No camera found"},
		{"busy", &InitError{Phase: PhaseCamera, Kind: "busy"}, "already in use"},
		{"constraint", &InitError{Phase: PhaseCamera, Kind: "constraint"}, "required settings"},
		{"insecure", &InitError{Phase: PhaseCamera, Kind: "capability", Err: cameracapture.ErrInsecureOrigin}, "requires HTTPS"},
		{"unsupported", &InitError{Phase: PhaseCamera, Kind: "capability", Err: cameracapture.ErrCameraUnsupported}, "not supported"},
		{"detector", &InitError{Phase: PhaseDetector, Kind: KindDetector}, "Landmark detection"},
		{"bare camera error", cameracapture.ErrNoDevice, "No camera found"},
		{"unknown", errors.New("boom"), "check camera permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.err)
			if !strings.HasPrefix(got, "Failed to initialize AR. ") || !strings.Contains(got, tt.want) {
				t.Errorf("UserMessage = %q, want it to contain %q", got, tt.want)
			}
		})
	}
	lost := &InitError{Phase: PhaseRunning, Kind: "device", Err: render.ErrSourceEnded}
	if got := UserMessage(lost); !strings.Contains(got, "camera was disconnected") {
		t.Errorf("UserMessage(lost camera) = %q", got)
	}
	if UserMessage(nil) != "" {
		t.Error("nil error should have no message")
	}
}

func TestShouldAutoOpen(t *testing.T) {
	tests := map[string]bool{
		"ar=true":       true,
		"ar=false":      false,
		"ar=TRUE":       false,
		"":              false,
		"foo=1&ar=true": true,
	}
	for raw, want := range tests {
		q, _ := url.ParseQuery(raw)
		if got := ShouldAutoOpen(q); got != want {
			t.Errorf("ShouldAutoOpen(%q) = %v, want %v", raw, got, want)
		}
	}
}
