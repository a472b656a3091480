package present

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Text sizes in pixels.
const (
	LabelSize   = 100
	OverlaySize = 70
)

// OverlayOrigin is the top-left corner of the live preview label.
var OverlayOrigin = image.Pt(50, 50)

// Colors used by the stimulus renderers.
var (
	Black = color.RGBA{A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
)

var (
	fontOnce sync.Once
	regular  *opentype.Font
	fontErr  error

	faceMu sync.Mutex
	faces  = map[float64]font.Face{}
)

// face returns a cached Go Regular face at size px. Go Regular covers the
// Latin-1 range so accented labels render correctly.
func face(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		regular, fontErr = opentype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("parse font: %w", fontErr)
	}

	faceMu.Lock()
	defer faceMu.Unlock()
	if f, ok := faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(regular, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new face %.0fpx: %w", size, err)
	}
	faces[size] = f
	return f, nil
}

// Fill returns a w x h image of a single color.
func Fill(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// RenderLabel draws text in large white type centered on a black w x h frame.
func RenderLabel(text string, w, h int) (*image.RGBA, error) {
	img := Fill(w, h, Black)
	f, err := face(LabelSize)
	if err != nil {
		return nil, err
	}

	m := f.Metrics()
	adv := font.MeasureString(f, text)
	x := (fixed.I(w) - adv) / 2
	y := (fixed.I(h) + m.Ascent - m.Descent) / 2

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(White),
		Face: f,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(text)
	return img, nil
}

// Overlay draws text onto dst with its top-left corner at at. dst is
// modified in place.
func Overlay(dst *image.RGBA, text string, at image.Point, size float64, c color.Color) error {
	f, err := face(size)
	if err != nil {
		return err
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: f,
		Dot:  fixed.Point26_6{X: fixed.I(at.X), Y: fixed.I(at.Y) + f.Metrics().Ascent},
	}
	d.DrawString(text)
	return nil
}

// Stretch scales src to exactly w x h, ignoring its aspect ratio.
func Stretch(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// LetterboxRect returns where a sw x sh image lands when fitted into a
// w x h canvas: scaled by min(w/sw, h/sh) and centered.
func LetterboxRect(sw, sh, w, h int) image.Rectangle {
	scale := float64(w) / float64(sw)
	if s := float64(h) / float64(sh); s < scale {
		scale = s
	}
	nw, nh := int(float64(sw)*scale), int(float64(sh)*scale)
	x0, y0 := (w-nw)/2, (h-nh)/2
	return image.Rect(x0, y0, x0+nw, y0+nh)
}

// Letterbox fits src into a black w x h canvas, preserving aspect ratio.
func Letterbox(src image.Image, w, h int) *image.RGBA {
	dst := Fill(w, h, Black)
	b := src.Bounds()
	if b.Empty() {
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, LetterboxRect(b.Dx(), b.Dy(), w, h), src, b, draw.Src, nil)
	return dst
}

// Mirror returns a horizontally flipped copy of src.
func Mirror(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		drow := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			copy(drow[(w-1-x)*4:(w-x)*4], srow[x*4:x*4+4])
		}
	}
	return dst
}
