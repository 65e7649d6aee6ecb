package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// State is the controller's lifecycle position. Representing it as a single
// tagged value keeps invalid flag combinations (detecting while idle, ready
// without a handle) unrepresentable.
type State int

const (
	StateIdle State = iota
	StateActive
	StateReady
	StateDetecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReady:
		return "ready"
	case StateDetecting:
		return "detecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PermissionProvider acquires camera permission from the platform.
type PermissionProvider interface {
	RequestCameraPermission(ctx context.Context) (bool, error)
}

// Controller gates when capture may be attempted. IsCameraReady is the single
// authoritative check before any capture: handle present AND hardware-confirmed
// ready AND permission granted AND no error.
type Controller struct {
	mu sync.Mutex

	state      State
	granted    bool
	switching  bool
	registry   *HandleRegistry
	permission PermissionProvider
}

func NewController(registry *HandleRegistry, permission PermissionProvider) *Controller {
	return &Controller{
		state:      StateIdle,
		registry:   registry,
		permission: permission,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Registry exposes the handle registry for view-binding code.
func (c *Controller) Registry() *HandleRegistry {
	return c.registry
}

// EnsurePermission requests camera permission if not already granted.
// A denial is surfaced as ErrPermissionDenied and is never retried here.
func (c *Controller) EnsurePermission(ctx context.Context) error {
	c.mu.Lock()
	if c.granted {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	granted, err := c.permission.RequestCameraPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request camera permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	c.mu.Lock()
	c.granted = true
	c.mu.Unlock()
	return nil
}

// StartCamera transitions Idle/Error to Active after acquiring permission.
// Already Active, Ready or Detecting is a no-op: re-entering Active would tear
// down a working camera view.
func (c *Controller) StartCamera(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateActive, StateReady, StateDetecting:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.EnsurePermission(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
	return nil
}

// HandleCameraReady is the hardware readiness callback: Active -> Ready.
// A ready signal in any other state is ignored.
func (c *Controller) HandleCameraReady() {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateReady
	}
	c.mu.Unlock()
}

// StopCamera returns the controller to Idle from any state. The underlying
// handle is left in the registry; teardown is the view layer's call.
func (c *Controller) StopCamera() {
	c.mu.Lock()
	c.state = StateIdle
	c.switching = false
	c.mu.Unlock()
}

// HandleBlur is invoked when the screen loses focus. Same contract as
// StopCamera: clears readiness, keeps the registered handle.
func (c *Controller) HandleBlur() {
	c.StopCamera()
}

// Restart stops and restarts the camera, then waits on nothing: the hardware
// will deliver a fresh ready callback. Used by the capture runner as an
// explicit self-healing step after a recognized hardware capture failure.
func (c *Controller) Restart(ctx context.Context) error {
	log.Printf("camera: restarting after hardware capture failure")
	c.StopCamera()
	return c.StartCamera(ctx)
}

// SetSwitching marks a facing switch in progress. Capture attempts are
// rejected while switching because mid-transition frames may come from a
// stale handle.
func (c *Controller) SetSwitching(switching bool) {
	c.mu.Lock()
	c.switching = switching
	c.mu.Unlock()
}

// Switching reports whether a facing switch is underway.
func (c *Controller) Switching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switching
}

// IsCameraReady reports whether a capture may be attempted right now.
func (c *Controller) IsCameraReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.granted || c.state != StateReady {
		return false
	}
	return c.registry.Borrow() != nil
}

// BeginCapture transitions Ready -> Detecting. The Detecting state is the
// mutual-exclusion signal: only one capture may be in flight against the
// handle at a time.
func (c *Controller) BeginCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDetecting:
		return ErrCaptureInProgress
	case StateReady:
		c.state = StateDetecting
		return nil
	default:
		return ErrCameraNotReady
	}
}

// FinishCapture leaves Detecting exactly once: back to Ready on success or a
// recoverable failure, to Error when the handle is gone for good.
func (c *Controller) FinishCapture(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDetecting {
		return
	}
	if errors.Is(err, ErrHandleLost) {
		c.state = StateError
		return
	}
	c.state = StateReady
}
