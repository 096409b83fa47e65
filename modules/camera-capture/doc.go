// Package cameracapture acquires a local camera and streams RGB frames
// for a try-on session.
//
// Acquisition follows the browser getUserMedia model: preconditions are
// checked first (camera API present, secure origin), then constraint sets
// are tried from strictest to loosest:
//
//	1. front-facing camera at the ideal resolution
//	2. any camera at the ideal resolution
//	3. any camera, no constraints
//
// Each failure falls through to the next attempt. Only the final
// attempt's error is surfaced, as an *AcquireError carrying the
// classified ErrorKind.
//
// Frames are delivered on a buffered channel. Slow consumers lose frames
// instead of queueing them: freshness over completeness.
//
// Example:
//
//	opener := cameracapture.NewV4L2Opener(cameracapture.V4L2Config{})
//	stream, err := cameracapture.Acquire(ctx, opener, env, 1280, 720)
//	if err != nil {
//	    var aerr *cameracapture.AcquireError
//	    if errors.As(err, &aerr) {
//	        log.Printf("camera unavailable (%s): %v", aerr.Kind, aerr.Err)
//	    }
//	    return err
//	}
//	defer stream.Stop()
//
//	stats, err := cameracapture.AwaitPlayback(ctx, stream, 3*time.Second)
package cameracapture
