package session

import (
	"errors"
	"fmt"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
	"github.com/meit-swami/jewellery/modules/render"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrNotRetryable is returned by Retry outside the error state.
	ErrNotRetryable = errors.New("session: retry is only allowed from the error state")

	// ErrNoSession is returned when a viewer has no live session.
	ErrNoSession = errors.New("session: no session for viewer")

	// ErrViewerRequired is returned by Open without a viewer id.
	ErrViewerRequired = errors.New("session: viewer id is required")
)

// Error kinds beyond the camera taxonomy.
const (
	KindDetector = "detector"
	KindPlayback = "playback"
	KindSurface  = "surface"
	KindUnknown  = "unknown"
)

// InitError records which initialization phase failed and why.
type InitError struct {
	Phase Phase
	Kind  string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session: %s failed (%s): %v", e.Phase, e.Kind, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// classify maps a phase failure to an error kind.
func classify(phase Phase, err error) string {
	switch phase {
	case PhaseCamera:
		return cameracapture.Classify(err).String()
	case PhasePlayback:
		return KindPlayback
	case PhaseSurface:
		return KindSurface
	case PhaseDetector:
		return KindDetector
	default:
		return KindUnknown
	}
}

const messagePrefix = "Failed to initialize AR. "

// UserMessage turns an initialization error into the text shown to the
// shopper.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, render.ErrSourceEnded) {
		return "AR stopped. The camera was disconnected. Please reconnect it and try again."
	}

	kind := KindUnknown
	var ierr *InitError
	if errors.As(err, &ierr) {
		kind = ierr.Kind
	} else if k := cameracapture.Classify(err); k != cameracapture.KindUnknown {
		kind = k.String()
	}

	switch kind {
	case cameracapture.KindCapability.String():
		if errors.Is(err, cameracapture.ErrInsecureOrigin) {
			return messagePrefix + "Camera access requires HTTPS. Please access this page over a secure connection."
		}
		return messagePrefix + "Camera access not supported on this device. Please use a modern browser with camera support."
	case cameracapture.KindPermission.String():
		return messagePrefix + "Camera permission was denied. Please allow camera access in your browser settings and try again."
	case cameracapture.KindDevice.String():
		return messagePrefix + "No camera found on this device. Please use a device with a camera."
	case cameracapture.KindBusy.String():
		return messagePrefix + "Camera is already in use by another application. Please close other apps using the camera and try again."
	case cameracapture.KindConstraint.String():
		return messagePrefix + "Camera doesn't support the required settings. Please try a different camera."
	case KindPlayback:
		return messagePrefix + "The camera opened but no video arrived. Please try again."
	case KindSurface:
		return messagePrefix + "The display surface could not be created. Please try again."
	case KindDetector:
		return messagePrefix + "Landmark detection could not be started. Please try again."
	default:
		return messagePrefix + "Please check camera permissions and try again."
	}
}
