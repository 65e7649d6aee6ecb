package camera

import "errors"

var (
	// ErrPermissionDenied means the user declined camera access. Not retried.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrHandleLost means the camera reference stayed null after recovery
	// attempts. Terminal for the current capture; the camera must be restarted.
	ErrHandleLost = errors.New("camera handle lost")

	// ErrCaptureTimeout marks a single strategy attempt that exceeded its
	// deadline. It advances the ladder; it is not a user-visible failure.
	ErrCaptureTimeout = errors.New("capture attempt timed out")

	// ErrCaptureExhausted means every strategy profile failed.
	ErrCaptureExhausted = errors.New("all capture strategies failed")

	// ErrCaptureStopped means the camera was stopped while a capture was in
	// flight. The capture is treated as failed; no further attempts run and a
	// late hardware result is discarded.
	ErrCaptureStopped = errors.New("camera stopped during capture")

	// ErrCaptureInProgress rejects a second capture while one is in flight.
	ErrCaptureInProgress = errors.New("capture already in progress")

	// ErrCameraNotReady means capture was requested before the hardware
	// confirmed readiness.
	ErrCameraNotReady = errors.New("camera not ready")

	// ErrSwitchInProgress rejects attempts while a facing switch is underway.
	ErrSwitchInProgress = errors.New("camera facing switch in progress")

	// ErrCaptureFailed is the recognized hardware "capture failed" signal.
	// Adapters return it (wrapped) so the runner can trigger a camera restart.
	ErrCaptureFailed = errors.New("hardware capture failed")
)
