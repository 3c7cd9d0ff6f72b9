// Package alert maps per-frame presence counts to indicator state.
//
// LEDs follow presence with no delay. The buzzer is debounced per coupled
// class: it sounds for the first Window of a continuous-presence run and then
// stays silent until the class disappears for at least one frame.
package alert

import (
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
)

// DefaultWindow is how long the buzzer sounds at the start of a run.
const DefaultWindow = 4 * time.Second

// Policy describes which classes drive which outputs.
type Policy struct {
	// Tracked classes each own an LED.
	Tracked []string
	// BuzzerClasses are debounced and drive the buzzer.
	BuzzerClasses []string
	Window        time.Duration
}

// DebounceTimer marks the start of the current continuous-presence run.
// FirstSeenAt is nil when no run is in progress.
type DebounceTimer struct {
	FirstSeenAt *time.Time
}

// Running reports whether a presence run is in progress.
func (t DebounceTimer) Running() bool {
	return t.FirstSeenAt != nil
}

// State is everything the machine carries between frames.
type State struct {
	Timers     map[string]DebounceTimer
	Indicators Indicators
}

// NewState returns the idle state for p: no runs, all outputs off.
func NewState(p Policy) State {
	timers := make(map[string]DebounceTimer, len(p.BuzzerClasses))
	for _, class := range p.BuzzerClasses {
		timers[class] = DebounceTimer{}
	}
	return State{Timers: timers, Indicators: AllOff(p.Tracked)}
}

// Step computes the state for one frame. It does not modify s.
func Step(p Policy, s State, counts detect.PresenceCount, now time.Time) State {
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}

	next := State{
		Timers:     make(map[string]DebounceTimer, len(p.BuzzerClasses)),
		Indicators: Indicators{LEDs: make(map[string]bool, len(p.Tracked)), Run: true},
	}

	for _, class := range p.Tracked {
		next.Indicators.LEDs[class] = counts.Count(class) > 0
	}

	for _, class := range p.BuzzerClasses {
		timer := s.Timers[class]

		if counts.Count(class) == 0 {
			next.Timers[class] = DebounceTimer{}
			continue
		}

		if !timer.Running() {
			started := now
			timer = DebounceTimer{FirstSeenAt: &started}
		}
		next.Timers[class] = timer

		if now.Sub(*timer.FirstSeenAt) <= window {
			next.Indicators.Buzzer = true
		}
	}

	return next
}

// Clock supplies frame timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, which carries a monotonic reading.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Machine holds State across frames for a single caller.
type Machine struct {
	policy Policy
	clock  Clock
	state  State
}

// NewMachine creates a machine in the idle state.
func NewMachine(p Policy, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Machine{policy: p, clock: clock, state: NewState(p)}
}

// Update advances the machine by one frame and returns the new indicators.
func (m *Machine) Update(counts detect.PresenceCount) Indicators {
	m.state = Step(m.policy, m.state, counts, m.clock.Now())
	return m.state.Indicators.Clone()
}

// Start marks the loop as running: the run LED turns on and every other
// output stays as it is. It returns the new indicators.
func (m *Machine) Start() Indicators {
	m.state.Indicators.Run = true
	return m.state.Indicators.Clone()
}

// Indicators returns the current indicator state.
func (m *Machine) Indicators() Indicators {
	return m.state.Indicators.Clone()
}

// Timer returns the debounce timer of a buzzer-coupled class.
func (m *Machine) Timer(class string) DebounceTimer {
	return m.state.Timers[class]
}

// Policy returns the policy the machine was built with.
func (m *Machine) Policy() Policy {
	return m.policy
}
