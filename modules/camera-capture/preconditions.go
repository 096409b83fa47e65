package cameracapture

import (
	"fmt"
	"net/url"
	"strings"
)

// CheckPreconditions fails fast, before any device is touched, when the
// camera API is missing or the requesting origin is not a secure context.
//
// Secure contexts are https origins and the loopback hosts localhost,
// 127.0.0.1 and ::1. An empty origin is an in-process caller and passes.
func CheckPreconditions(env Environment) error {
	if !env.APIAvailable {
		return &AcquireError{
			Kind: KindCapability,
			Err:  fmt.Errorf("%w. Please use a modern browser with camera support", ErrCameraUnsupported),
		}
	}
	if env.Origin == "" {
		return nil
	}
	if !isSecureOrigin(env.Origin) {
		return &AcquireError{
			Kind: KindCapability,
			Err:  fmt.Errorf("%w. Please access this page over a secure connection", ErrInsecureOrigin),
		}
	}
	return nil
}

func isSecureOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" {
		return false
	}
	if strings.EqualFold(u.Scheme, "https") {
		return true
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
