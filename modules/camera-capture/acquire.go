package cameracapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Default ideal capture resolution.
const (
	DefaultIdealWidth  = 1280
	DefaultIdealHeight = 720
)

// Cascade returns the constraint sets Acquire tries, strictest first.
func Cascade(idealWidth, idealHeight int) []Constraints {
	if idealWidth <= 0 || idealHeight <= 0 {
		idealWidth, idealHeight = DefaultIdealWidth, DefaultIdealHeight
	}
	return []Constraints{
		{Facing: FacingUser, IdealWidth: idealWidth, IdealHeight: idealHeight},
		{Facing: FacingAny, IdealWidth: idealWidth, IdealHeight: idealHeight},
		{},
	}
}

// Acquire checks preconditions and then opens the first stream the
// cascade allows.
//
// Intermediate failures are logged and dropped. If every attempt fails,
// the final attempt's error is returned as an *AcquireError. Context
// cancellation stops the cascade and returns ctx.Err() wrapped.
func Acquire(ctx context.Context, opener Opener, env Environment, idealWidth, idealHeight int) (Stream, error) {
	if opener == nil {
		return nil, errors.New("camera-capture: opener is required")
	}
	if err := CheckPreconditions(env); err != nil {
		slog.Warn("camera-capture: preconditions failed", "origin", env.Origin, "error", err)
		return nil, err
	}

	attempts := Cascade(idealWidth, idealHeight)
	var lastErr error
	for i, c := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("camera-capture: acquire cancelled: %w", err)
		}

		stream, err := opener.Open(ctx, c)
		if err == nil {
			w, h := stream.Dimensions()
			slog.Info("camera-capture: camera acquired",
				"attempt", i+1,
				"constraints", c.String(),
				"resolution", fmt.Sprintf("%dx%d", w, h),
			)
			return stream, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("camera-capture: acquire cancelled: %w", ctx.Err())
		}

		lastErr = err
		slog.Warn("camera-capture: attempt failed, loosening constraints",
			"attempt", i+1,
			"constraints", c.String(),
			"kind", Classify(err).String(),
			"error", err,
		)
	}

	return nil, &AcquireError{
		Kind:    Classify(lastErr),
		Attempt: len(attempts),
		Err:     lastErr,
	}
}
