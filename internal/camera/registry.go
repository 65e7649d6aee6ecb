package camera

import (
	"context"
	"sync"
	"time"
)

// processSlot is the process-wide fallback cell for the camera handle. It is
// only consulted when a registry has never seen a handle, e.g. when the view
// layer attached one before the registry was wired in. Always prefer the
// registry.
var (
	processMu   sync.Mutex
	processSlot Handle
)

// SetProcessHandle stores a handle in the process-wide fallback slot.
func SetProcessHandle(h Handle) {
	processMu.Lock()
	processSlot = h
	processMu.Unlock()
}

// ProcessHandle returns the process-wide fallback handle, if any.
func ProcessHandle() Handle {
	processMu.Lock()
	defer processMu.Unlock()
	return processSlot
}

// HandleRegistry owns the single live reference to the capture device,
// independent of view-layer churn. View-binding code calls Register when the
// platform attaches a handle and Invalidate when it tears one down; everyone
// else borrows.
type HandleRegistry struct {
	mu     sync.Mutex
	handle Handle

	// recovery polling bounds; the platform may attach its handle
	// asynchronously after the registry becomes visible
	recoverAttempts int
	recoverDelay    time.Duration
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{
		recoverAttempts: 5,
		recoverDelay:    150 * time.Millisecond,
	}
}

// Register records h as the canonical handle. Registering the same handle
// twice is a no-op.
func (r *HandleRegistry) Register(h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if r.handle != h {
		r.handle = h
	}
	r.mu.Unlock()
	SetProcessHandle(h)
}

// Borrow returns the last known-good handle, or nil if none was registered.
func (r *HandleRegistry) Borrow() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// Invalidate clears the registry if it still holds h. Passing nil clears
// unconditionally.
func (r *HandleRegistry) Invalidate(h Handle) {
	r.mu.Lock()
	if h == nil || r.handle == h {
		r.handle = nil
	}
	r.mu.Unlock()
}

// Recover attempts to restore a usable handle, polling a bounded number of
// times because the underlying view may attach its handle after the caller
// observed a nil reference. Returns nil when no handle ever appears; callers
// must treat that as "camera not ready", not as something to retry forever.
func (r *HandleRegistry) Recover(ctx context.Context) Handle {
	for attempt := 0; attempt < r.recoverAttempts; attempt++ {
		if h := r.Borrow(); h != nil {
			return h
		}
		if h := ProcessHandle(); h != nil {
			// Last-resort path: adopt the process slot into the registry so
			// subsequent borrows go through the structured channel.
			r.Register(h)
			return h
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.recoverDelay):
		}
	}
	return nil
}
