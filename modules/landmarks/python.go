package landmarks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// ErrWorkerExited is returned by Detect when the worker process is gone.
var ErrWorkerExited = errors.New("landmarks: worker process exited")

// PythonConfig configures the landmark worker subprocess.
type PythonConfig struct {
	// WorkerID labels log lines.
	WorkerID string

	// Command is the worker executable, typically a wrapper script that
	// activates a virtualenv and runs the landmark model.
	Command string
	Args    []string

	// Env is appended to the daemon's environment.
	Env []string

	// InitTimeout bounds the wait for the worker's ready handshake.
	InitTimeout time.Duration

	// DetectTimeout bounds one request/reply round trip.
	DetectTimeout time.Duration
}

// PythonProvider spawns one landmark worker per opened detector.
//
// Protocol over stdio, both directions 4-byte big-endian length + msgpack:
//
//	worker → {"type": "ready"}                          (once, after model load)
//	daemon → {frame_data, width, height, need, seq, trace_id}
//	worker → {seq, hand, face, pose, timing}            ([[x,y,z], ...] or nil)
//	worker → {seq, error}                               (detection failed)
type PythonProvider struct {
	cfg PythonConfig
}

// NewPythonProvider validates cfg and applies defaults.
func NewPythonProvider(cfg PythonConfig) (*PythonProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("landmarks: worker command is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "landmarks"
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 200 * time.Millisecond
	}
	return &PythonProvider{cfg: cfg}, nil
}

// Open spawns the worker with --need and waits for its ready handshake.
func (p *PythonProvider) Open(ctx context.Context, need Set) (Detector, error) {
	args := append(append([]string{}, p.cfg.Args...), "--need", strings.Join(need.Names(), ","))

	cmd := exec.Command(p.cfg.Command, args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrInit, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrInit, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrInit, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrInit, p.cfg.Command, err)
	}

	d := &pythonDetector{
		id:            p.cfg.WorkerID,
		need:          need,
		detectTimeout: p.cfg.DetectTimeout,
		cmd:           cmd,
		stdin:         stdin,
		ready:         make(chan struct{}),
		replies:       make(chan workerReply, 1),
		exited:        make(chan struct{}),
	}

	slog.Info("landmarks: worker spawned",
		"worker_id", d.id,
		"pid", cmd.Process.Pid,
		"need", need.String(),
	)

	d.readers.Add(2)
	go d.readReplies(stdout)
	go d.logStderr(stderr)
	go d.waitProcess()

	timer := time.NewTimer(p.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-d.ready:
		slog.Info("landmarks: worker ready", "worker_id", d.id)
		return d, nil
	case <-d.exited:
		d.Close()
		return nil, fmt.Errorf("%w: worker exited before ready", ErrInit)
	case <-timer.C:
		d.Close()
		return nil, fmt.Errorf("%w: no ready handshake within %v", ErrInit, p.cfg.InitTimeout)
	case <-ctx.Done():
		d.Close()
		return nil, fmt.Errorf("%w: %v", ErrInit, ctx.Err())
	}
}

// pythonDetector owns one worker process.
type pythonDetector struct {
	id            string
	need          Set
	detectTimeout time.Duration

	cmd   *exec.Cmd
	stdin io.WriteCloser

	readyOnce sync.Once
	ready     chan struct{}
	replies   chan workerReply
	exited    chan struct{}
	readers   sync.WaitGroup

	closed atomic.Bool

	calls    atomic.Uint64
	failures atomic.Uint64
}

// Detect sends one frame and waits for the matching reply.
//
// Replies to earlier timed-out requests are recognised by seq and discarded.
func (d *pythonDetector) Detect(ctx context.Context, frame *framesupplier.Frame) (*Frame, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.calls.Add(1)

	// Drop a late reply left over from a previous timeout.
	select {
	case <-d.replies:
	default:
	}

	timer := time.NewTimer(d.detectTimeout)
	defer timer.Stop()

	req := workerRequest{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Need:      d.need.Names(),
		Seq:       frame.Seq,
		TraceID:   frame.TraceID,
	}

	writeErr := make(chan error, 1)
	go func() { writeErr <- writeMessage(d.stdin, req) }()

	select {
	case err := <-writeErr:
		if err != nil {
			d.failures.Add(1)
			return nil, fmt.Errorf("landmarks: send frame %d: %w", frame.Seq, err)
		}
	case <-timer.C:
		d.failures.Add(1)
		return nil, fmt.Errorf("landmarks: stdin write timeout (worker may be hung)")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.exited:
		d.failures.Add(1)
		return nil, ErrWorkerExited
	}

	for {
		select {
		case r := <-d.replies:
			if r.Seq != frame.Seq {
				slog.Debug("landmarks: discarding stale reply",
					"worker_id", d.id,
					"reply_seq", r.Seq,
					"frame_seq", frame.Seq,
				)
				continue
			}
			if r.Error != "" {
				d.failures.Add(1)
				return nil, fmt.Errorf("landmarks: worker: %s", r.Error)
			}
			return &Frame{
				Seq:     frame.Seq,
				TraceID: frame.TraceID,
				Hand:    toPoints(r.Hand),
				Face:    toPoints(r.Face),
				Pose:    toPoints(r.Pose),
			}, nil
		case <-timer.C:
			d.failures.Add(1)
			return nil, fmt.Errorf("landmarks: no reply for frame %d within %v", frame.Seq, d.detectTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.exited:
			d.failures.Add(1)
			return nil, ErrWorkerExited
		}
	}
}

// readReplies routes the handshake and detection replies from stdout.
func (d *pythonDetector) readReplies(stdout io.Reader) {
	defer d.readers.Done()

	for {
		var r workerReply
		if err := readMessage(stdout, &r); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				slog.Debug("landmarks: worker stdout closed", "worker_id", d.id)
			} else if !d.closed.Load() {
				slog.Error("landmarks: read reply failed", "worker_id", d.id, "error", err)
			}
			return
		}

		if r.Type == "ready" {
			d.readyOnce.Do(func() { close(d.ready) })
			continue
		}

		// Latest reply wins; Detect matches on seq.
		select {
		case d.replies <- r:
		default:
			select {
			case <-d.replies:
			default:
			}
			select {
			case d.replies <- r:
			default:
			}
		}
	}
}

// logStderr maps worker log levels onto slog.
func (d *pythonDetector) logStderr(stderr io.Reader) {
	defer d.readers.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("landmarks: worker error", "worker_id", d.id, "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("landmarks: worker warning", "worker_id", d.id, "log", line)
		default:
			slog.Debug("landmarks: worker log", "worker_id", d.id, "log", line)
		}
	}
}

// waitProcess reaps the worker once its pipes are drained.
func (d *pythonDetector) waitProcess() {
	defer close(d.exited)

	d.readers.Wait()
	err := d.cmd.Wait()

	switch {
	case d.closed.Load():
		slog.Debug("landmarks: worker exited (shutdown)", "worker_id", d.id)
	case err != nil:
		slog.Error("landmarks: worker exited unexpectedly", "worker_id", d.id, "error", err)
	default:
		slog.Warn("landmarks: worker exited", "worker_id", d.id)
	}
}

// Close closes stdin so the worker can exit, then kills it after 2s.
func (d *pythonDetector) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.stdin.Close()

	select {
	case <-d.exited:
	case <-time.After(2 * time.Second):
		slog.Warn("landmarks: worker stop timeout, killing process", "worker_id", d.id)
		if err := d.cmd.Process.Kill(); err != nil {
			slog.Error("landmarks: kill worker failed", "worker_id", d.id, "error", err)
		}
		<-d.exited
	}

	slog.Info("landmarks: worker stopped",
		"worker_id", d.id,
		"calls", d.calls.Load(),
		"failures", d.failures.Load(),
	)
	return nil
}
