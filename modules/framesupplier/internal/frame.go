package internal

import "time"

// Frame is one decoded camera image shared by reference between consumers.
//
// Data MUST NOT be modified after Publish (shared by reference).
type Frame struct {
	// Data contains packed RGB pixels (Width*Height*3 bytes).
	Data []byte

	Width  int
	Height int

	// Timestamp when frame was captured (source time, not processing time)
	Timestamp time.Time

	// Seq is assigned by the supplier during distribution.
	Seq uint64

	// TraceID correlates a frame with its detection and draw spans.
	TraceID string
}
