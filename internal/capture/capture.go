// Package capture reads frames from a camera and records fixed-duration
// video segments.
package capture

import (
	"errors"
	"image"
	"time"
)

// ErrDeviceUnavailable is returned when the camera cannot be opened or stops
// producing frames.
var ErrDeviceUnavailable = errors.New("capture: camera unavailable")

// Frame is a single decoded camera frame.
type Frame struct {
	// Seq is the per-device monotonic sequence number.
	Seq uint64
	// Timestamp is when the frame was read.
	Timestamp time.Time
	// Image holds the pixels. Writers must not retain it after Write returns.
	Image *image.RGBA
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Device is a single video capture device. A Device is not safe for
// concurrent use; the session controller lends it to one recording at a time.
type Device interface {
	// Read blocks until the next frame is available.
	Read() (Frame, error)
	// Size reports the native frame dimensions.
	Size() (width, height int)
	// Close releases the device.
	Close() error
}

// Writer is an open video output stream.
type Writer interface {
	Write(f Frame) error
	Close() error
}

// WriterFactory opens a Writer at path with the given frame rate and size.
type WriterFactory func(path string, fps float64, width, height int) (Writer, error)

// Clock is the time source used to bound segment duration.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
