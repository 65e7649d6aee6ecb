package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Profile is one rung of the capture option ladder.
type Profile struct {
	Name    string
	Options CaptureOptions
}

// DefaultProfiles is the descending-quality ladder: full quality with encoded
// payload, a platform-optimized middle ground, then minimal processing as the
// last resort on flaky hardware.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name: "high_quality",
			Options: CaptureOptions{
				Quality:            0.8,
				IncludeEncodedData: true,
				DisableSound:       true,
			},
		},
		{
			Name: "platform_optimized",
			Options: CaptureOptions{
				Quality:            0.5,
				IncludeEncodedData: true,
				SkipProcessing:     true,
				DisableSound:       true,
			},
		},
		{
			Name: "minimal_processing",
			Options: CaptureOptions{
				Quality:        0.3,
				SkipProcessing: true,
				DisableSound:   true,
			},
		},
	}
}

// StrategyRunner obtains a usable photo despite intermittent hardware
// failures by walking an ordered list of option profiles, each raced against
// its own deadline. The caller deliberately gets no deadline for the whole
// sequence, so a slow-but-working profile is not starved by an earlier
// attempt's delay.
type StrategyRunner struct {
	controller *Controller
	profiles   []Profile

	// AttemptTimeout bounds one hardware call, not the whole ladder.
	AttemptTimeout time.Duration
}

func NewStrategyRunner(controller *Controller) *StrategyRunner {
	return &StrategyRunner{
		controller:     controller,
		profiles:       DefaultProfiles(),
		AttemptTimeout: 4 * time.Second,
	}
}

// SetProfiles overrides the default ladder.
func (r *StrategyRunner) SetProfiles(profiles []Profile) {
	if len(profiles) > 0 {
		r.profiles = profiles
	}
}

// Run walks the profile ladder and returns the first photo captured.
//
// Per attempt it re-validates the handle through the registry (a handle that
// never comes back is terminal, not something to loop on), rejects the whole
// capture while a facing switch is in progress, and races the hardware call
// against AttemptTimeout. Stopping the camera mid-capture aborts the run:
// no further profile is attempted and a late hardware result is discarded.
// After the first profile fails with the recognized hardware capture-failure
// signal, the camera is stopped and restarted once before the next attempt.
// Exhausting the ladder yields ErrCaptureExhausted.
func (r *StrategyRunner) Run(ctx context.Context) (*Photo, error) {
	registry := r.controller.Registry()
	restarted := false

	var lastErr error
	for i, profile := range r.profiles {
		if r.controller.Switching() {
			return nil, ErrSwitchInProgress
		}
		if r.controller.State() == StateIdle {
			return nil, ErrCaptureStopped
		}

		handle := registry.Recover(ctx)
		if handle == nil {
			return nil, ErrHandleLost
		}

		photo, err := r.attempt(ctx, handle, profile)
		if err == nil {
			return photo, nil
		}
		lastErr = err
		log.Printf("camera: capture attempt %d (%s) failed: %v", i+1, profile.Name, err)

		if errors.Is(err, ErrHandleLost) {
			// The handle went away while we were waiting on it. Continuing to
			// reference it risks a hardware-level crash state; abort outright.
			return nil, ErrHandleLost
		}
		if errors.Is(err, ErrCaptureStopped) {
			return nil, ErrCaptureStopped
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture aborted: %w", ctx.Err())
		}

		// Self-healing step: one proactive stop/start after the first
		// recognized hardware failure, distinct from the generic ladder walk.
		// Never runs once the user has stopped the camera; restarting here
		// would resurrect a canceled capture.
		if i == 0 && !restarted && errors.Is(err, ErrCaptureFailed) &&
			r.controller.State() != StateIdle {
			restarted = true
			if rerr := r.controller.Restart(ctx); rerr != nil {
				log.Printf("camera: restart after capture failure failed: %v", rerr)
			}
		}
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrCaptureExhausted, lastErr)
}

// attempt races one hardware call against the per-attempt deadline. A timeout
// counts as this attempt's failure only.
func (r *StrategyRunner) attempt(ctx context.Context, handle Handle, profile Profile) (*Photo, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
	defer cancel()

	type result struct {
		photo *Photo
		err   error
	}
	done := make(chan result, 1)

	go func() {
		photo, err := handle.TakePicture(attemptCtx, profile.Options)
		done <- result{photo, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.Name, res.err)
		}
		if res.photo == nil || (res.photo.Base64 == "" && res.photo.URI == "") {
			return nil, fmt.Errorf("profile %s: %w: empty photo", profile.Name, ErrCaptureFailed)
		}
		// The camera was stopped while the hardware call was in flight; the
		// user canceled this capture, so its result must not be kept.
		if r.controller.State() == StateIdle {
			return nil, ErrCaptureStopped
		}
		return res.photo, nil
	case <-attemptCtx.Done():
		// If the registry dropped the handle while we were waiting, surface
		// that instead of a plain timeout so the ladder aborts.
		if r.controller.Registry().Borrow() == nil {
			return nil, ErrHandleLost
		}
		return nil, fmt.Errorf("profile %s after %s: %w", profile.Name, r.AttemptTimeout, ErrCaptureTimeout)
	}
}
