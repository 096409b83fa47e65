package v4l2

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// Facing mirrors the parent package's Facing without importing it.
type Facing int

const (
	FacingUnknown Facing = iota
	FacingUser
	FacingEnvironment
)

func (f Facing) String() string {
	switch f {
	case FacingUser:
		return "user"
	case FacingEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// Device is one /dev/videoN capture node.
type Device struct {
	Path   string // e.g. /dev/video0
	Name   string // sysfs name, e.g. "Integrated Camera"
	Index  int
	Facing Facing
}

var (
	userHints        = []string{"front", "user", "integrated", "facetime", "webcam", "selfie"}
	environmentHints = []string{"back", "rear", "environment", "world"}
)

// GuessFacing infers the camera direction from its sysfs name.
func GuessFacing(name string) Facing {
	lower := strings.ToLower(name)
	for _, h := range environmentHints {
		if strings.Contains(lower, h) {
			return FacingEnvironment
		}
	}
	for _, h := range userHints {
		if strings.Contains(lower, h) {
			return FacingUser
		}
	}
	return FacingUnknown
}

// Enumerate lists capture devices under sysRoot (normally
// /sys/class/video4linux), ordered by index. devRoot is where the
// device nodes live (normally /dev).
//
// Metadata nodes (sysfs "index" != 0) are skipped: UVC cameras expose a
// second node per camera that cannot stream video.
func Enumerate(sysRoot, devRoot string) ([]Device, error) {
	entries, err := os.ReadDir(sysRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", sysRoot, err)
	}

	var devices []Device
	for _, e := range entries {
		base := e.Name()
		if !strings.HasPrefix(base, "video") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}
		if idx := readAttr(filepath.Join(sysRoot, base, "index")); idx != "" && idx != "0" {
			continue
		}

		name := readAttr(filepath.Join(sysRoot, base, "name"))
		devices = append(devices, Device{
			Path:   filepath.Join(devRoot, base),
			Name:   name,
			Index:  n,
			Facing: GuessFacing(name),
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ProbeError reports why a device node cannot be opened.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// IsPermission reports whether the probe failed on access rights.
func (e *ProbeError) IsPermission() bool { return errors.Is(e.Err, fs.ErrPermission) }

// IsBusy reports whether the device is claimed elsewhere.
func (e *ProbeError) IsBusy() bool { return errors.Is(e.Err, syscall.EBUSY) }

// IsMissing reports whether the node vanished.
func (e *ProbeError) IsMissing() bool {
	return errors.Is(e.Err, fs.ErrNotExist) || errors.Is(e.Err, syscall.ENODEV)
}

// Probe opens and immediately closes the device node read-write, which
// surfaces permission and busy conditions before a pipeline is built.
func Probe(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return &ProbeError{Path: path, Err: err}
	}
	return f.Close()
}
