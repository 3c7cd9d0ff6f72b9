// Package hardware drives the indicator outputs (LEDs and buzzer).
package hardware

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

var log = logger.For("Hardware")

// ErrClosed is returned by Apply after Shutdown.
var ErrClosed = errors.New("indicator panel is shut down")

// Output is a single boolean-settable output.
type Output interface {
	On() error
	Off() error
}

// Pin names an output on a board.
type Pin struct {
	Name string `yaml:"name"`
	GPIO int    `yaml:"gpio"`
}

func (p Pin) String() string {
	return fmt.Sprintf("%s(GPIO%d)", p.Name, p.GPIO)
}

// Board hands out outputs by pin.
type Board interface {
	Output(pin Pin) (Output, error)
	Close() error
}

// Layout assigns board pins to indicators.
type Layout struct {
	LEDs   map[string]Pin `yaml:"leds"` // keyed by tracked class
	Run    Pin            `yaml:"run"`
	Buzzer Pin            `yaml:"buzzer"`
}

// DefaultLayout mirrors the wiring of the reference board: red LED for cars,
// blue for people, green while running.
func DefaultLayout() Layout {
	return Layout{
		LEDs: map[string]Pin{
			"car":    {Name: "red", GPIO: 27},
			"person": {Name: "blue", GPIO: 17},
		},
		Run:    Pin{Name: "green", GPIO: 22},
		Buzzer: Pin{Name: "buzzer", GPIO: 10},
	}
}

// Panel applies whole indicator states to a set of outputs. Apply and
// Shutdown are serialized, so a state is never observed half-applied.
type Panel struct {
	mu      sync.Mutex
	board   Board
	leds    map[string]Output
	classes []string
	run     Output
	buzzer  Output

	applied  alert.Indicators
	writes   uint64
	closed   bool
	shutdown sync.Once
}

// NewPanel resolves every pin of layout on board.
func NewPanel(board Board, layout Layout) (*Panel, error) {
	p := &Panel{board: board, leds: make(map[string]Output, len(layout.LEDs))}

	for class, pin := range layout.LEDs {
		out, err := board.Output(pin)
		if err != nil {
			return nil, fmt.Errorf("led %s on %s: %w", class, pin, err)
		}
		p.leds[class] = out
		p.classes = append(p.classes, class)
	}
	sort.Strings(p.classes)

	var err error
	if p.run, err = board.Output(layout.Run); err != nil {
		return nil, fmt.Errorf("run led on %s: %w", layout.Run, err)
	}
	if p.buzzer, err = board.Output(layout.Buzzer); err != nil {
		return nil, fmt.Errorf("buzzer on %s: %w", layout.Buzzer, err)
	}

	p.applied = alert.AllOff(p.classes)
	return p, nil
}

func set(out Output, on bool) error {
	if on {
		return out.On()
	}
	return out.Off()
}

// Apply writes every output, whether or not it changed. Classes without an
// LED on this board are ignored. Errors from individual outputs are joined;
// the remaining outputs are still written.
func (p *Panel) Apply(ind alert.Indicators) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	var errs []error
	for _, class := range p.classes {
		if err := set(p.leds[class], ind.LEDs[class]); err != nil {
			errs = append(errs, fmt.Errorf("led %s: %w", class, err))
		}
	}
	if err := set(p.run, ind.Run); err != nil {
		errs = append(errs, fmt.Errorf("run led: %w", err))
	}
	if err := set(p.buzzer, ind.Buzzer); err != nil {
		errs = append(errs, fmt.Errorf("buzzer: %w", err))
	}

	p.applied = ind.Clone()
	p.writes++
	return errors.Join(errs...)
}

// Applied returns the last state passed to Apply.
func (p *Panel) Applied() alert.Indicators {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied.Clone()
}

// Shutdown forces every output off and closes the board. Only the first call
// has any effect.
func (p *Panel) Shutdown() error {
	var err error
	p.shutdown.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		var errs []error
		for _, class := range p.classes {
			if e := p.leds[class].Off(); e != nil {
				errs = append(errs, fmt.Errorf("led %s: %w", class, e))
			}
		}
		if e := p.run.Off(); e != nil {
			errs = append(errs, fmt.Errorf("run led: %w", e))
		}
		if e := p.buzzer.Off(); e != nil {
			errs = append(errs, fmt.Errorf("buzzer: %w", e))
		}
		if e := p.board.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close board: %w", e))
		}

		p.applied = alert.AllOff(p.classes)
		p.closed = true
		err = errors.Join(errs...)
		log.Info("All indicators off (%d frame updates applied)", p.writes)
	})
	return err
}
