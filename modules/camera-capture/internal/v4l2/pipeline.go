package v4l2

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// PipelineConfig holds configuration for a camera pipeline.
type PipelineConfig struct {
	Device string
	// Width/Height of 0 let the camera pick its native size.
	Width  int
	Height int
}

// PipelineElements holds references to pipeline elements.
type PipelineElements struct {
	Pipeline *gst.Pipeline
	Source   *gst.Element
	AppSink  *app.Sink
}

// BuildCaps returns the RGB caps string for the appsink, e.g.
// "video/x-raw,format=RGB,width=1280,height=720".
func BuildCaps(width, height int) string {
	var b strings.Builder
	b.WriteString("video/x-raw,format=RGB")
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, ",width=%d,height=%d", width, height)
	}
	return b.String()
}

// CreatePipeline builds the capture pipeline:
//
//	v4l2src device=… ! videoconvert ! videoscale ! capsfilter(RGB[,w,h]) ! appsink
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", cfg.Device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(BuildCaps(cfg.Width, cfg.Height)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // real-time, no clock sync
	appsink.SetProperty("max-buffers", 1) // latest frame only
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}

	slog.Debug("v4l2: pipeline created",
		"device", cfg.Device,
		"caps", BuildCaps(cfg.Width, cfg.Height),
	)

	return &PipelineElements{
		Pipeline: pipeline,
		Source:   src,
		AppSink:  appsink,
	}, nil
}

// WaitPlaying polls the bus until the pipeline reaches PLAYING, an error
// is posted, or timeout elapses. Bus errors are returned with their debug
// string so callers can classify them.
func WaitPlaying(elements *PipelineElements, timeout time.Duration) error {
	bus := elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("pipeline did not reach PLAYING within %s", timeout)
		}

		msg := bus.TimedPop(remaining)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("%s (%s)", gerr.Error(), gerr.DebugString())

		case gst.MessageEOS:
			return fmt.Errorf("camera stream ended before playback")

		case gst.MessageStateChanged:
			if msg.Source() != elements.Pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				return nil
			}
		}
	}
}

// Caps returns the negotiated width and height on the appsink pad, or
// zeros when negotiation has not happened.
func Caps(elements *PipelineElements) (int, int) {
	pad := elements.AppSink.GetStaticPad("sink")
	if pad == nil {
		return 0, 0
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	w, werr := st.GetValue("width")
	h, herr := st.GetValue("height")
	if werr != nil || herr != nil {
		return 0, 0
	}
	wi, _ := w.(int)
	hi, _ := h.(int)
	return wi, hi
}

// DestroyPipeline stops and cleans up the pipeline.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	slog.Debug("v4l2: pipeline destroyed")
	return nil
}
