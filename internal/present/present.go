// Package present renders stimulus frames and shows them on a full-screen
// surface.
package present

import (
	"image"
	"time"
)

// NoKey is returned by Surface.WaitKey when no key was pressed.
const NoKey = -1

// Surface is a full-screen display the participant looks at.
type Surface interface {
	// Show replaces the displayed content with img.
	Show(img image.Image) error
	// WaitKey pumps the display event loop for up to d and returns the
	// pressed key code, or NoKey.
	WaitKey(d time.Duration) int
	// Size reports the display size in pixels.
	Size() (width, height int)
	// Close tears down the display.
	Close() error
}
