// Package webcam binds the camera.Handle contract to a local video device
// via gocv. It is the hardware adapter used by the device-side runner; server
// deployments never import it.
package webcam

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"skin-analysis-backend/internal/camera"
)

// Handle wraps a gocv video capture device.
type Handle struct {
	mu     sync.Mutex
	device *gocv.VideoCapture
	closed bool
}

// Open opens the video device with the given id (0 is the default camera).
func Open(deviceID int) (*Handle, error) {
	device, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open video device %d: %w", deviceID, err)
	}
	return &Handle{device: device}, nil
}

// TakePicture grabs one frame and encodes it as JPEG per the capture options.
func (h *Handle) TakePicture(ctx context.Context, opts camera.CaptureOptions) (*camera.Photo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, camera.ErrHandleLost
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := h.device.Read(&img); !ok || img.Empty() {
		return nil, fmt.Errorf("device read returned no frame: %w", camera.ErrCaptureFailed)
	}

	quality := int(opts.Quality * 100)
	if quality <= 0 {
		quality = 80
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	photo := &camera.Photo{
		Width:  img.Cols(),
		Height: img.Rows(),
	}
	if opts.IncludeEncodedData {
		photo.Base64 = base64.StdEncoding.EncodeToString(buf.GetBytes())
		return photo, nil
	}

	// Without encoded data the hardware contract hands back a file URI; the
	// runner's file-to-bytes fallback picks it up from there.
	tmp, err := os.CreateTemp("", "capture-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	if _, err := tmp.Write(buf.GetBytes()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write capture file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close capture file: %w", err)
	}
	photo.URI = tmp.Name()
	return photo, nil
}

// Close releases the device. Subsequent captures report a lost handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.device.Close()
}
