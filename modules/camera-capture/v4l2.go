package cameracapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/meit-swami/jewellery/modules/camera-capture/internal/v4l2"
)

// V4L2Config configures the GStreamer camera backend.
type V4L2Config struct {
	// SysfsRoot lists capture devices (default /sys/class/video4linux).
	SysfsRoot string
	// DevRoot holds the device nodes (default /dev).
	DevRoot string
	// StartTimeout bounds the wait for PLAYING (default 5s).
	StartTimeout time.Duration
	// BufferSize is the frame channel capacity (default 4).
	BufferSize int
}

// V4L2Opener opens Linux cameras through a GStreamer v4l2src pipeline.
type V4L2Opener struct {
	cfg V4L2Config
}

// NewV4L2Opener creates an opener with defaults filled in.
func NewV4L2Opener(cfg V4L2Config) *V4L2Opener {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys/class/video4linux"
	}
	if cfg.DevRoot == "" {
		cfg.DevRoot = "/dev"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4
	}
	return &V4L2Opener{cfg: cfg}
}

// CheckGStreamer reports whether GStreamer and the v4l2src plugin are usable.
func CheckGStreamer() bool {
	gst.Init(nil)
	elem, err := gst.NewElement("v4l2src")
	if err != nil {
		slog.Warn("camera-capture: v4l2src not available", "error", err)
		return false
	}
	elem.SetState(gst.StateNull)
	return true
}

// Devices lists the capture devices the opener can see.
func (o *V4L2Opener) Devices() ([]v4l2.Device, error) {
	return v4l2.Enumerate(o.cfg.SysfsRoot, o.cfg.DevRoot)
}

// Open picks the devices matching c.Facing and opens the first one that
// reaches PLAYING with the requested caps.
func (o *V4L2Opener) Open(ctx context.Context, c Constraints) (Stream, error) {
	devices, err := o.Devices()
	if err != nil {
		return nil, fmt.Errorf("camera-capture: enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}

	candidates := selectDevices(devices, c.Facing)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no %s-facing camera among %d devices", ErrOverconstrained, c.Facing, len(devices))
	}

	var lastErr error
	for _, dev := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := o.openDevice(ctx, dev, c)
		if err == nil {
			return stream, nil
		}
		slog.Debug("camera-capture: device failed",
			"device", dev.Path,
			"constraints", c.String(),
			"error", err,
		)
		lastErr = err
	}
	return nil, lastErr
}

func selectDevices(devices []v4l2.Device, facing Facing) []v4l2.Device {
	if facing == FacingAny {
		return devices
	}
	want := v4l2.FacingUser
	if facing == FacingEnvironment {
		want = v4l2.FacingEnvironment
	}
	var out []v4l2.Device
	for _, d := range devices {
		if d.Facing == want {
			out = append(out, d)
		}
	}
	return out
}

func (o *V4L2Opener) openDevice(ctx context.Context, dev v4l2.Device, c Constraints) (Stream, error) {
	if err := v4l2.Probe(dev.Path); err != nil {
		var pe *v4l2.ProbeError
		if errors.As(err, &pe) {
			switch {
			case pe.IsPermission():
				return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			case pe.IsBusy():
				return nil, fmt.Errorf("%w: %v", ErrDeviceBusy, err)
			case pe.IsMissing():
				return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
			}
		}
		return nil, err
	}

	elements, err := v4l2.CreatePipeline(v4l2.PipelineConfig{
		Device: dev.Path,
		Width:  c.IdealWidth,
		Height: c.IdealHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnsupported, err)
	}

	s := &v4l2Stream{
		device:   dev,
		elements: elements,
		frames:   make(chan Frame, o.cfg.BufferSize),
	}
	s.width.Store(int64(c.IdealWidth))
	s.height.Store(int64(c.IdealHeight))

	cb := &v4l2.CallbackContext{
		FrameChan:     s.frames,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		LastFrameAt:   &s.lastFrameAt,
		Width:         &s.width,
		Height:        &s.height,
	}
	s.callbacks = cb
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return v4l2.OnNewSample(sink, cb)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = v4l2.DestroyPipeline(elements)
		return nil, fmt.Errorf("camera-capture: start %s: %w", dev.Path, err)
	}
	if err := v4l2.WaitPlaying(elements, o.cfg.StartTimeout); err != nil {
		_ = v4l2.DestroyPipeline(elements)
		err = fmt.Errorf("camera-capture: %s: %w", dev.Path, err)
		if Classify(err) == KindConstraint {
			return nil, fmt.Errorf("%w: %v", ErrOverconstrained, err)
		}
		return nil, err
	}

	if w, h := v4l2.Caps(elements); w > 0 && h > 0 {
		s.width.Store(int64(w))
		s.height.Store(int64(h))
	}

	s.started = time.Now()
	s.playing.Store(true)

	monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.monitor(monitorCtx)

	w, h := s.Dimensions()
	slog.Info("camera-capture: camera playing",
		"device", dev.Path,
		"name", dev.Name,
		"resolution", fmt.Sprintf("%dx%d", w, h),
	)
	return s, nil
}

// v4l2Stream implements Stream over a running pipeline.
type v4l2Stream struct {
	device    v4l2.Device
	elements  *v4l2.PipelineElements
	frames    chan Frame
	callbacks *v4l2.CallbackContext

	frameCount    uint64
	bytesRead     uint64
	framesDropped uint64
	lastFrameAt   atomic.Int64
	width         atomic.Int64
	height        atomic.Int64
	playing       atomic.Bool

	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopMu  sync.Mutex
	stopped bool
}

func (s *v4l2Stream) Frames() <-chan Frame { return s.frames }

func (s *v4l2Stream) Dimensions() (int, int) {
	return int(s.width.Load()), int(s.height.Load())
}

// monitor watches the bus after startup and stops the stream on an error
// or EOS (device unplugged, driver failure), which closes Frames.
func (s *v4l2Stream) monitor(ctx context.Context) {
	defer s.wg.Done()

	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			err := fmt.Errorf("%s (%s)", gerr.Error(), gerr.DebugString())
			s.playing.Store(false)
			slog.Error("camera-capture: pipeline error",
				"device", s.device.Path,
				"kind", Classify(err).String(),
				"error", err,
			)
			go s.Stop()
			return

		case gst.MessageEOS:
			s.playing.Store(false)
			slog.Warn("camera-capture: end of stream", "device", s.device.Path)
			go s.Stop()
			return
		}
	}
}

// Stop tears the pipeline down and closes the frame channel. Idempotent.
func (s *v4l2Stream) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	slog.Info("camera-capture: stopping camera", "device", s.device.Path)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("camera-capture: stop timeout exceeded, monitor may still be running")
	}

	var err error
	if derr := v4l2.DestroyPipeline(s.elements); derr != nil {
		// The streaming thread may still be alive; the callback context
		// drops its sends once closed.
		err = fmt.Errorf("camera-capture: %w", derr)
		slog.Warn("camera-capture: pipeline teardown failed", "device", s.device.Path, "error", err)
	}
	s.playing.Store(false)
	s.callbacks.Close()

	slog.Info("camera-capture: camera stopped",
		"device", s.device.Path,
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"frames_dropped", atomic.LoadUint64(&s.framesDropped),
		"uptime", time.Since(s.started),
	)
	return err
}

func (s *v4l2Stream) Stats() StreamStats {
	frameCount := atomic.LoadUint64(&s.frameCount)
	dropped := atomic.LoadUint64(&s.framesDropped)

	var fps float64
	if uptime := time.Since(s.started).Seconds(); uptime > 0 {
		fps = float64(frameCount) / uptime
	}

	var dropRate float64
	if total := frameCount + dropped; total > 0 {
		dropRate = float64(dropped) / float64(total) * 100.0
	}

	var latencyMS int64
	if last := s.lastFrameAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	w, h := s.Dimensions()
	return StreamStats{
		FrameCount:    frameCount,
		FramesDropped: dropped,
		DropRate:      dropRate,
		FPSReal:       fps,
		LatencyMS:     latencyMS,
		Device:        s.device.Path,
		Resolution:    fmt.Sprintf("%dx%d", w, h),
		BytesRead:     atomic.LoadUint64(&s.bytesRead),
		IsPlaying:     s.playing.Load(),
	}
}
