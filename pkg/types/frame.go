package types

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one decoded video frame with capture metadata
type Frame struct {
	Image     *image.RGBA // Pixel data, origin at (0,0)
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number
	Source    string      // Capture source name
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Empty reports whether the frame carries no pixels
func (f *Frame) Empty() bool {
	return f.Width() == 0 || f.Height() == 0
}

// NewRGBAFrame wraps raw RGBA bytes of the given dimensions
func NewRGBAFrame(pix []byte, width, height int, num uint64, ts time.Time) *Frame {
	return &Frame{
		Image: &image.RGBA{
			Pix:    pix,
			Stride: width * 4,
			Rect:   image.Rect(0, 0, width, height),
		},
		Timestamp: ts,
		FrameNum:  num,
	}
}

// ToRGBA converts any decoded image into an RGBA image anchored at (0,0)
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
