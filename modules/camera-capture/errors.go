package cameracapture

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a camera could not be acquired.
type ErrorKind int

const (
	// KindUnknown indicates an unclassified error.
	KindUnknown ErrorKind = iota
	// KindCapability indicates no camera API or an insecure origin. Never retried.
	KindCapability
	// KindPermission indicates the user or the OS denied camera access.
	KindPermission
	// KindDevice indicates no camera hardware was found.
	KindDevice
	// KindBusy indicates the camera is claimed by another consumer.
	KindBusy
	// KindConstraint indicates the requested facing or resolution is unsupported.
	KindConstraint
)

// String returns a stable name for logs and events.
func (k ErrorKind) String() string {
	switch k {
	case KindCapability:
		return "capability"
	case KindPermission:
		return "permission"
	case KindDevice:
		return "device"
	case KindBusy:
		return "busy"
	case KindConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by openers and preconditions.
var (
	ErrCameraUnsupported = errors.New("camera access not supported on this device")
	ErrInsecureOrigin    = errors.New("camera access requires HTTPS")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrNoDevice          = errors.New("no camera device found")
	ErrDeviceBusy        = errors.New("camera device busy")
	ErrOverconstrained   = errors.New("camera does not satisfy constraints")
)

// AcquireError is returned by Acquire when no camera could be opened.
type AcquireError struct {
	Kind ErrorKind
	// Attempt is the 1-based cascade attempt that produced Err (0 for preconditions).
	Attempt int
	Err     error
}

func (e *AcquireError) Error() string {
	if e.Attempt == 0 {
		return fmt.Sprintf("camera-capture: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("camera-capture: %s (attempt %d): %v", e.Kind, e.Attempt, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// Retryable reports whether a manual retry can succeed without changing
// the runtime. Capability errors need a different device or origin.
func (e *AcquireError) Retryable() bool {
	return e.Kind != KindCapability
}

// Classify maps an acquisition error to an ErrorKind.
//
// Typed and sentinel errors are checked first. Anything else falls back
// to keyword heuristics over the message, which covers GStreamer bus
// errors and getUserMedia-style error names relayed by remote viewers.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var aerr *AcquireError
	if errors.As(err, &aerr) {
		return aerr.Kind
	}

	switch {
	case errors.Is(err, ErrCameraUnsupported), errors.Is(err, ErrInsecureOrigin):
		return KindCapability
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrDeviceBusy):
		return KindBusy
	case errors.Is(err, ErrOverconstrained):
		return KindConstraint
	case errors.Is(err, ErrNoDevice):
		return KindDevice
	}

	msg := strings.ToLower(err.Error())

	// Priority order: most specific first ("device busy" must not read as device).
	if containsAny(msg, permissionKeywords) {
		return KindPermission
	}
	if containsAny(msg, busyKeywords) {
		return KindBusy
	}
	if containsAny(msg, constraintKeywords) {
		return KindConstraint
	}
	if containsAny(msg, deviceKeywords) {
		return KindDevice
	}
	if containsAny(msg, capabilityKeywords) {
		return KindCapability
	}
	return KindUnknown
}

var (
	permissionKeywords = []string{
		"notallowederror",
		"permissiondeniederror",
		"permission denied",
		"operation not permitted",
		"not authorized",
	}
	busyKeywords = []string{
		"notreadableerror",
		"trackstarterror",
		"device or resource busy",
		"device busy",
		"already in use",
	}
	constraintKeywords = []string{
		"overconstrainederror",
		"constraintnotsatisfiederror",
		"not-negotiated",
		"not negotiated",
		"could not negotiate format",
		"unsupported resolution",
	}
	deviceKeywords = []string{
		"notfounderror",
		"devicesnotfounderror",
		"device not found",
		"no such device",
		"no such file or directory",
		"cannot identify device",
	}
	capabilityKeywords = []string{
		"not supported",
		"no element \"v4l2src\"",
		"requires https",
		"insecure",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
