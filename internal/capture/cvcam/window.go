package cvcam

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// WindowTitle is the title of the stimulus window.
const WindowTitle = "Expression"

// Window is a full-screen HighGUI window implementing present.Surface.
// A Window must be used from the OS thread that created it; callers lock
// the thread with runtime.LockOSThread for the window's lifetime.
type Window struct {
	win  *gocv.Window
	w, h int
}

// NewWindow opens a full-screen window. width and height are the display
// resolution frames are rendered at.
func NewWindow(width, height int) *Window {
	win := gocv.NewWindow(WindowTitle)
	win.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
	return &Window{win: win, w: width, h: height}
}

// Show displays img.
func (w *Window) Show(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}
	defer mat.Close()
	w.win.IMShow(mat)
	return nil
}

// WaitKey pumps the HighGUI event loop for d and returns the key pressed,
// or -1.
func (w *Window) WaitKey(d time.Duration) int {
	ms := int(d / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return w.win.WaitKey(ms)
}

// Size returns the display resolution.
func (w *Window) Size() (int, int) { return w.w, w.h }

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}
