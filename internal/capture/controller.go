package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// State is the visibility state of the capture surface.
type State int

const (
	StateIdle State = iota
	StateCameraActive
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateCameraActive:
		return "camera_active"
	case StateSubmitted:
		return "submitted"
	default:
		return "idle"
	}
}

// Options configure a Controller.
type Options struct {
	// MaxImages bounds the capture set (1 for recognition, 3 for registration).
	MaxImages int
	// Quality is the JPEG quality passed to the camera.
	Quality int
}

// Controller owns the camera permission state, the capture surface state and
// the capture set for one workflow instance. It is safe for concurrent use.
type Controller struct {
	camera      Camera
	permissions PermissionSource
	quality     int
	logger      *zap.Logger

	mu         sync.Mutex
	permission Permission
	state      State
	set        *Set
	// reserved counts captures waiting on the camera; each holds a slot.
	reserved int
}

// NewController wires a camera and its permission source.
func NewController(camera Camera, permissions PermissionSource, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		camera:      camera,
		permissions: permissions,
		quality:     opts.Quality,
		logger:      logger.Named("capture"),
		set:         NewSet(opts.MaxImages),
	}
}

// RequestPermission asks the permission source unless permission was already
// granted. A denied permission is asked again so a settings change is picked up.
func (c *Controller) RequestPermission(ctx context.Context) (Permission, error) {
	c.mu.Lock()
	if c.permission == PermissionGranted {
		c.mu.Unlock()
		return PermissionGranted, nil
	}
	c.mu.Unlock()

	p, err := c.permissions.RequestPermission(ctx)
	if err != nil {
		return PermissionUndetermined, err
	}

	c.mu.Lock()
	c.permission = p
	c.mu.Unlock()

	c.logger.Debug("camera permission resolved", zap.Stringer("permission", p))
	return p, nil
}

// Permission returns the last resolved permission.
func (c *Controller) Permission() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// Open activates the capture surface.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.permissionErrLocked(); err != nil {
		return err
	}
	c.state = StateCameraActive
	return nil
}

// Close hides the capture surface. Captured images are retained.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCameraActive {
		c.state = StateIdle
	}
}

// Capture takes one picture and appends it to the set.
func (c *Controller) Capture(ctx context.Context) (Image, error) {
	c.mu.Lock()
	if err := c.permissionErrLocked(); err != nil {
		c.mu.Unlock()
		return Image{}, err
	}
	if c.state != StateCameraActive {
		c.mu.Unlock()
		return Image{}, ErrCameraInactive
	}
	if c.set.Len()+c.reserved >= c.set.Max() {
		c.mu.Unlock()
		return Image{}, ErrSetFull
	}
	c.reserved++
	c.mu.Unlock()

	img, err := c.camera.Capture(ctx, c.quality)

	c.mu.Lock()
	c.reserved--
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("camera capture failed", zap.Error(err))
		return Image{}, &CaptureError{Err: err}
	}
	stored := c.set.Append(img)
	count := c.set.Len()
	c.mu.Unlock()

	if !stored {
		return Image{}, ErrSetFull
	}
	c.logger.Debug("image captured", zap.String("image_id", img.ID), zap.Int("count", count))
	return img, nil
}

// RemoveLast discards the most recent capture (retake-last).
func (c *Controller) RemoveLast() (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.RemoveLast()
}

// Reset empties the capture set and leaves the submitted state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.Reset()
	if c.state == StateSubmitted {
		c.state = StateIdle
	}
}

// MarkSubmitted clears the set and enters the terminal submitted state.
func (c *Controller) MarkSubmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.Reset()
	c.state = StateSubmitted
}

// Images returns a snapshot of the capture set.
func (c *Controller) Images() []Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Images()
}

// Len returns the number of captured images.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set.Len()
}

// Max returns the capture set bound.
func (c *Controller) Max() int {
	return c.set.Max()
}

// State returns the capture surface state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) permissionErrLocked() error {
	switch c.permission {
	case PermissionGranted:
		return nil
	case PermissionDenied:
		return ErrPermissionDenied
	default:
		return ErrPermissionUndetermined
	}
}
