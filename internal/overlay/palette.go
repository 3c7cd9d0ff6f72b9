package overlay

import (
	"image/color"
	"math/rand/v2"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
)

// Alert colors for the buzzer and LED classes.
var (
	Red  = color.RGBA{R: 204, G: 22, B: 22, A: 255}
	Teal = color.RGBA{R: 22, G: 161, B: 166, A: 255}
)

// DefaultAlertColors assigns the fixed colors of the alerting classes.
func DefaultAlertColors() map[string]color.RGBA {
	return map[string]color.RGBA{
		"car":    Red,
		"person": Teal,
	}
}

// Palette assigns one color per class for the lifetime of the process.
type Palette struct {
	fixed    map[string]color.RGBA
	perClass map[string]color.RGBA
	fallback color.RGBA
}

// NewPalette draws a color for every class in table from a generator seeded
// with seed, then applies the fixed colors on top.
func NewPalette(table detect.ClassTable, seed uint64, fixed map[string]color.RGBA) *Palette {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	perClass := make(map[string]color.RGBA, len(table))
	for _, class := range table {
		perClass[class] = color.RGBA{
			R: uint8(rng.IntN(256)),
			G: uint8(rng.IntN(256)),
			B: uint8(rng.IntN(256)),
			A: 255,
		}
	}

	if fixed == nil {
		fixed = map[string]color.RGBA{}
	}

	return &Palette{
		fixed:    fixed,
		perClass: perClass,
		fallback: color.RGBA{R: 0, G: 255, B: 0, A: 255},
	}
}

// Color returns the color for class.
func (p *Palette) Color(class string) color.RGBA {
	if c, ok := p.fixed[class]; ok {
		return c
	}
	if c, ok := p.perClass[class]; ok {
		return c
	}
	return p.fallback
}
