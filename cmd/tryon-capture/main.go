// Command tryon-capture exercises the camera half of the try-on engine on
// real hardware: precondition checks, the constraint cascade, playback
// warm-up and frame capture, with optional frame saving.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/render"
)

const version = "v0.1.0"

func main() {
	width := flag.Int("width", cameracapture.DefaultIdealWidth, "Ideal capture width")
	height := flag.Int("height", cameracapture.DefaultIdealHeight, "Ideal capture height")
	sysfs := flag.String("sysfs", "/sys/class/video4linux", "video4linux sysfs root")
	outputDir := flag.String("output", "", "Directory to save captured frames (optional)")
	outputFormat := flag.String("format", "png", "Output format: png, jpeg")
	jpegQuality := flag.Int("jpeg-quality", 90, "JPEG quality (1-100, only for jpeg format)")
	maxFrames := flag.Int("max-frames", 0, "Maximum frames to capture (0 = unlimited)")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	listOnly := flag.Bool("list", false, "List cameras and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tryon-capture %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	opener := cameracapture.NewV4L2Opener(cameracapture.V4L2Config{SysfsRoot: *sysfs})

	devices, err := opener.Devices()
	if err != nil {
		log.Fatalf("Failed to enumerate cameras: %v", err)
	}
	fmt.Printf("\nCameras (%d):\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %-14s %-32s facing=%s\n", d.Path, d.Name, d.Facing)
	}
	fmt.Printf("\n")
	if *listOnly {
		return
	}

	var saver *render.SnapshotSaver
	if *outputDir != "" {
		saver, err = render.NewSnapshotSaver(*outputDir, *outputFormat, *jpegQuality)
		if err != nil {
			log.Fatalf("Invalid output settings: %v", err)
		}
		slog.Info("Frame saving enabled", "directory", *outputDir, "format", *outputFormat)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := cameracapture.Environment{APIAvailable: cameracapture.CheckGStreamer()}
	stream, err := cameracapture.Acquire(ctx, opener, env, *width, *height)
	if err != nil {
		var acqErr *cameracapture.AcquireError
		if errors.As(err, &acqErr) {
			log.Fatalf("Camera acquisition failed (%s, attempt %d, retryable=%v): %v",
				acqErr.Kind, acqErr.Attempt, acqErr.Retryable(), acqErr.Err)
		}
		log.Fatalf("Camera acquisition failed: %v", err)
	}
	defer stream.Stop()

	w, h := stream.Dimensions()
	fmt.Printf("Camera acquired at %dx%d, waiting for playback...\n", w, h)

	playback, err := cameracapture.AwaitPlayback(ctx, stream, 5*time.Second)
	if err != nil {
		log.Fatalf("Playback failed: %v", err)
	}
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Playback Started\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", playback.FramesReceived)
	fmt.Printf("│ First Frame After:  %6d ms\n", playback.FirstFrame.Milliseconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", playback.FPSMean)
	fmt.Printf("│ Jitter Max:         %6.3f s\n", playback.JitterMax)
	fmt.Printf("│ Stable:             %6v\n", playback.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n\n")
	fmt.Printf("Capturing, press Ctrl+C to stop\n\n")

	stats := time.NewTicker(time.Duration(max(*statsInterval, 1)) * time.Second)
	defer stats.Stop()

	start := time.Now()
	frameCount, framesSaved := 0, 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nReceived interrupt signal, shutting down...\n")
			report(stream, start, frameCount, framesSaved)
			return

		case <-stats.C:
			report(stream, start, frameCount, framesSaved)

		case frame, ok := <-stream.Frames():
			if !ok {
				slog.Warn("Frame channel closed unexpectedly")
				report(stream, start, frameCount, framesSaved)
				return
			}
			frameCount++
			slog.Debug("frame",
				"seq", frame.Seq,
				"size_kb", len(frame.Data)/1024,
				"trace_id", frame.TraceID)

			if saver != nil {
				if path, err := saver.Save(&frame, nil); err != nil {
					slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				} else {
					framesSaved++
					slog.Debug("frame saved", "path", path)
				}
			}

			if *maxFrames > 0 && frameCount >= *maxFrames {
				fmt.Printf("\nReached maximum frames (%d), stopping...\n", *maxFrames)
				report(stream, start, frameCount, framesSaved)
				return
			}
		}
	}
}

func report(stream cameracapture.Stream, start time.Time, frames, saved int) {
	st := stream.Stats()
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Camera Statistics (Uptime: %s)\n", time.Since(start).Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Device:             %s (%s)\n", st.Device, st.Resolution)
	fmt.Printf("│ Frames Captured:    %6d frames\n", st.FrameCount)
	fmt.Printf("│ Frames Consumed:    %6d frames\n", frames)
	fmt.Printf("│ Frames Saved:       %6d frames\n", saved)
	if st.FramesDropped > 0 {
		fmt.Printf("│ Dropped:            %6d frames (%.1f%%)\n", st.FramesDropped, st.DropRate)
	}
	fmt.Printf("│ Real FPS:           %6.2f fps\n", st.FPSReal)
	fmt.Printf("│ Latency:            %6d ms\n", st.LatencyMS)
	fmt.Printf("│ Bytes Read:         %6.2f MB\n", float64(st.BytesRead)/1024/1024)
	fmt.Printf("│ Playing:            %6v\n", st.IsPlaying)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
}
