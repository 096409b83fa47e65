package cameracapture

import "context"

// Stream is a live camera capture.
//
// Lifecycle: Opener.Open() → Frames() → Stop()
type Stream interface {
	// Frames returns the frame channel. It is closed by Stop.
	Frames() <-chan Frame

	// Dimensions returns the negotiated frame size in pixels.
	Dimensions() (width, height int)

	// Stop releases the device and closes the frame channel.
	// Idempotent: later calls return nil.
	Stop() error

	// Stats returns current capture statistics. Thread-safe.
	Stats() StreamStats
}

// Opener opens a camera stream that satisfies c.
//
// Failures should be, or wrap, errors that Classify can map to an
// ErrorKind (see ErrPermissionDenied and friends).
type Opener interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, c Constraints) (Stream, error)

// Open calls f(ctx, c).
func (f OpenerFunc) Open(ctx context.Context, c Constraints) (Stream, error) {
	return f(ctx, c)
}
