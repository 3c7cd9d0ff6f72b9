// Package overlay builds and draws per-frame detection annotations.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
)

// labelOffset is the vertical gap between a box edge and its label baseline.
const labelOffset = 15

// Descriptor is one annotation in pixel space.
type Descriptor struct {
	Class      string          `json:"class_name"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
	Label      string          `json:"label"`
	Color      color.RGBA      `json:"color"`
	// LabelOrigin is the baseline start of the label text.
	LabelOrigin image.Point `json:"label_origin"`
}

// Label formats the overlay text, e.g. "car: 90.00%".
func Label(class string, confidence float64) string {
	return fmt.Sprintf("%s: %.2f%%", class, confidence*100)
}

// Build maps filtered detections to descriptors for a width×height frame,
// one per detection, in input order.
func Build(filtered []detect.Labeled, width, height int, palette *Palette) []Descriptor {
	out := make([]Descriptor, 0, len(filtered))
	w, h := float64(width), float64(height)

	for _, l := range filtered {
		box := image.Rect(
			int(l.Box.XMin*w),
			int(l.Box.YMin*h),
			int(l.Box.XMax*w),
			int(l.Box.YMax*h),
		)

		y := box.Min.Y - labelOffset
		if y <= labelOffset {
			y = box.Min.Y + labelOffset
		}

		out = append(out, Descriptor{
			Class:       l.Class,
			Confidence:  l.Confidence,
			Box:         box,
			Label:       Label(l.Class, l.Confidence),
			Color:       palette.Color(l.Class),
			LabelOrigin: image.Pt(box.Min.X, y),
		})
	}

	return out
}
