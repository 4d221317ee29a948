// Package capture mediates camera permission and produces the bounded set of
// images a registration or recognition cycle works on.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Image is a handle to a locally stored JPEG produced by a camera.
// It is never mutated after creation.
type Image struct {
	ID      string
	Path    string
	TakenAt time.Time
}

// Camera produces one image per call at the given JPEG quality (1-100).
type Camera interface {
	Capture(ctx context.Context, quality int) (Image, error)
}

// Permission is the camera permission tri-state.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// PermissionSource queries or solicits the device camera permission.
type PermissionSource interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

var (
	// ErrPermissionUndetermined is returned by capture operations before the
	// permission has been requested.
	ErrPermissionUndetermined = errors.New("capture: camera permission not yet determined")

	// ErrPermissionDenied is terminal for the capture flow until the device
	// settings change.
	ErrPermissionDenied = errors.New("capture: camera permission denied")

	// ErrCameraInactive is returned when capturing while the surface is closed.
	ErrCameraInactive = errors.New("capture: camera surface is not active")

	// ErrSetFull is returned by Controller.Capture once the set holds max images.
	ErrSetFull = errors.New("capture: capture set is full")
)

// CaptureError reports a device-level capture failure. The caller may retry.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}
