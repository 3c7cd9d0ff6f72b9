package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

const boxThickness = 2

// Annotate draws every descriptor onto img in place.
func Annotate(img *image.RGBA, descs []Descriptor) {
	for _, d := range descs {
		drawRect(img, d.Box, d.Color, boxThickness)
		drawLabel(img, d.LabelOrigin, d.Label, d.Color)
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.RGBA, thickness int) {
	bounds := img.Bounds()
	src := image.NewUniform(col)

	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness+1, r.Max.X+1, r.Max.Y+1),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y+1),
		image.Rect(r.Max.X-thickness+1, r.Min.Y, r.Max.X+1, r.Max.Y+1),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(bounds), src, image.Point{}, draw.Src)
	}
}

func drawLabel(img *image.RGBA, origin image.Point, text string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	d.DrawString(text)
}

// FrameSink receives encoded annotated frames.
type FrameSink interface {
	Publish(jpeg []byte)
}

// watched reports whether sink has viewers. Sinks that cannot tell are
// always fed.
func watched(sink FrameSink) bool {
	if sink == nil {
		return false
	}
	if c, ok := sink.(interface{ Clients() int }); ok {
		return c.Clients() > 0
	}
	return true
}

// JPEGRenderer annotates a copy of each frame and hands the JPEG to a sink.
type JPEGRenderer struct {
	Sink    FrameSink
	Quality int
}

// Render draws descs over frame and publishes the result. The frame itself
// is left untouched. Nothing is drawn or encoded while the sink has no
// viewers.
func (r *JPEGRenderer) Render(frame *types.Frame, descs []Descriptor) error {
	if frame.Empty() {
		return fmt.Errorf("render: empty frame")
	}
	if !watched(r.Sink) {
		return nil
	}

	canvas := image.NewRGBA(frame.Image.Bounds())
	draw.Draw(canvas, canvas.Bounds(), frame.Image, frame.Image.Bounds().Min, draw.Src)
	Annotate(canvas, descs)

	quality := r.Quality
	if quality <= 0 {
		quality = 75
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("render: encode jpeg: %w", err)
	}

	r.Sink.Publish(buf.Bytes())
	return nil
}
