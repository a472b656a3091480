// Package cvcam implements the camera, video writer and full-screen window
// on top of OpenCV.
package cvcam

import (
	"fmt"
	"image"
	"image/draw"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/expressionlab/expression/internal/capture"
)

// Camera is a capture.Device backed by an OpenCV VideoCapture.
type Camera struct {
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	w, h int
	seq  atomic.Uint64
}

// Open opens the camera with the given device index.
func Open(device int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", capture.ErrDeviceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d did not open", capture.ErrDeviceUnavailable, device)
	}
	return &Camera{
		vc:  vc,
		mat: gocv.NewMat(),
		w:   int(vc.Get(gocv.VideoCaptureFrameWidth)),
		h:   int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// Read grabs and decodes the next frame.
func (c *Camera) Read() (capture.Frame, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return capture.Frame{}, fmt.Errorf("read frame: %w", capture.ErrDeviceUnavailable)
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return capture.Frame{}, fmt.Errorf("convert frame: %w", err)
	}
	return capture.Frame{
		Seq:       c.seq.Add(1),
		Timestamp: time.Now(),
		Image:     toRGBA(img),
	}, nil
}

// Size reports the frame size negotiated with the driver.
func (c *Camera) Size() (int, int) { return c.w, c.h }

// Close releases the device.
func (c *Camera) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Writer is a capture.Writer backed by an OpenCV VideoWriter.
type Writer struct {
	vw   *gocv.VideoWriter
	w, h int
}

// NewWriterFactory returns a capture.WriterFactory producing files encoded
// with the given fourcc codec.
func NewWriterFactory(codec string) capture.WriterFactory {
	return func(path string, fps float64, width, height int) (capture.Writer, error) {
		vw, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("open video writer %s: %w", path, err)
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("open video writer %s: codec %s unavailable", path, codec)
		}
		return &Writer{vw: vw, w: width, h: height}, nil
	}
}

// Write encodes one frame. Frames of a different size than the stream are
// resized to fit.
func (w *Writer) Write(f capture.Frame) error {
	mat, err := gocv.ImageToMatRGB(f.Image)
	if err != nil {
		return fmt.Errorf("frame to mat: %w", err)
	}
	defer mat.Close()

	if mat.Cols() != w.w || mat.Rows() != w.h {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(w.w, w.h), 0, 0, gocv.InterpolationLinear)
		return w.vw.Write(resized)
	}
	return w.vw.Write(mat)
}

// Close finalizes the file.
func (w *Writer) Close() error {
	return w.vw.Close()
}
