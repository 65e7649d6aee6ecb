package camera

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Handle is the live reference to a hardware camera session. The concrete
// device API sits behind this interface; the platform may invalidate a handle
// at any time without notice, so callers must treat a borrowed Handle as
// potentially stale and re-validate through the registry before use.
type Handle interface {
	TakePicture(ctx context.Context, opts CaptureOptions) (*Photo, error)
}

// CaptureOptions mirrors the hardware capture contract.
type CaptureOptions struct {
	Quality            float64 // 0.0 - 1.0
	IncludeEncodedData bool
	SkipProcessing     bool
	DisableSound       bool
}

// Photo is the product of one successful capture attempt. Base64 carries the
// encoded image payload when the hardware provided one; URI points at a
// device-local file otherwise.
type Photo struct {
	Base64 string
	URI    string
	Width  int
	Height int
}

// FileLoader reads device-local files. It exists so the file-to-bytes
// fallback can be exercised in tests without touching the filesystem.
type FileLoader func(uri string) ([]byte, error)

// OSFileLoader reads from the local filesystem, stripping a file:// scheme.
func OSFileLoader(uri string) ([]byte, error) {
	return os.ReadFile(strings.TrimPrefix(uri, "file://"))
}

// Encoded reports whether the photo already carries an encoded payload.
func (p *Photo) Encoded() bool {
	return p != nil && p.Base64 != ""
}

// DataURI returns the photo as a self-describing data URI, loading bytes from
// the photo's file URI when the hardware returned no encoded payload.
func (p *Photo) DataURI(load FileLoader) (string, error) {
	if p == nil {
		return "", fmt.Errorf("no photo")
	}
	if p.Base64 != "" {
		if strings.HasPrefix(p.Base64, "data:") {
			return p.Base64, nil
		}
		return "data:image/jpeg;base64," + p.Base64, nil
	}
	if p.URI == "" {
		return "", fmt.Errorf("photo has neither encoded data nor a file uri")
	}
	if load == nil {
		load = OSFileLoader
	}
	data, err := load(p.URI)
	if err != nil {
		return "", fmt.Errorf("failed to read photo file %s: %w", p.URI, err)
	}
	p.Base64 = base64.StdEncoding.EncodeToString(data)
	return "data:image/jpeg;base64," + p.Base64, nil
}
