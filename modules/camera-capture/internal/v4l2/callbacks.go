package v4l2

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// CallbackContext holds state needed by the appsink callback.
//
// FrameChan is owned by the context once the callback is installed: close
// it only through Close, which a late streaming-thread callback observes.
type CallbackContext struct {
	FrameChan     chan<- framesupplier.Frame
	FrameCounter  *uint64
	BytesRead     *uint64
	FramesDropped *uint64
	LastFrameAt   *atomic.Int64 // unix nanos
	Width         *atomic.Int64
	Height        *atomic.Int64

	mu     sync.Mutex
	closed bool
}

// Send delivers frame without blocking. It reports false when the channel
// is full or already closed.
func (c *CallbackContext) Send(frame framesupplier.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.FrameChan <- frame:
		return true
	default:
		return false
	}
}

// Close closes FrameChan once. Later Sends are dropped.
func (c *CallbackContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.FrameChan)
	}
}

// OnNewSample copies the mapped buffer into a Frame and sends it without
// blocking. A full channel drops the frame.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("v4l2: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("v4l2: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("v4l2: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(frameData)))
	now := time.Now()
	ctx.LastFrameAt.Store(now.UnixNano())

	width, height := int(ctx.Width.Load()), int(ctx.Height.Load())
	if width == 0 || height == 0 {
		if caps := sample.GetCaps(); caps != nil && caps.GetSize() > 0 {
			st := caps.GetStructureAt(0)
			if w, err := st.GetValue("width"); err == nil {
				if wi, ok := w.(int); ok {
					width = wi
					ctx.Width.Store(int64(wi))
				}
			}
			if h, err := st.GetValue("height"); err == nil {
				if hi, ok := h.(int); ok {
					height = hi
					ctx.Height.Store(int64(hi))
				}
			}
		}
	}

	frame := framesupplier.Frame{
		Seq:       seq,
		Timestamp: now,
		Width:     width,
		Height:    height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	if ctx.Send(frame) {
		slog.Debug("v4l2: frame sent",
			"seq", frame.Seq,
			"size_bytes", len(frameData),
			"trace_id", frame.TraceID,
		)
	} else {
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("v4l2: dropping frame, channel full or closed",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}
