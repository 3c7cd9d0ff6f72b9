package alert

import (
	"fmt"
	"sort"
)

// Indicators is the on/off state of every physical output for one frame.
type Indicators struct {
	// LEDs holds one entry per tracked class.
	LEDs   map[string]bool `json:"leds"`
	Run    bool            `json:"run"`
	Buzzer bool            `json:"buzzer"`
}

// AllOff returns indicators for the given classes with everything off.
func AllOff(tracked []string) Indicators {
	leds := make(map[string]bool, len(tracked))
	for _, class := range tracked {
		leds[class] = false
	}
	return Indicators{LEDs: leds}
}

// Clone returns a deep copy.
func (i Indicators) Clone() Indicators {
	leds := make(map[string]bool, len(i.LEDs))
	for k, v := range i.LEDs {
		leds[k] = v
	}
	return Indicators{LEDs: leds, Run: i.Run, Buzzer: i.Buzzer}
}

// Equal reports whether both states drive the outputs identically.
func (i Indicators) Equal(o Indicators) bool {
	if i.Run != o.Run || i.Buzzer != o.Buzzer || len(i.LEDs) != len(o.LEDs) {
		return false
	}
	for k, v := range i.LEDs {
		if ov, ok := o.LEDs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (i Indicators) String() string {
	classes := make([]string, 0, len(i.LEDs))
	for class := range i.LEDs {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	s := ""
	for _, class := range classes {
		s += fmt.Sprintf("%s=%s ", class, onOff(i.LEDs[class]))
	}
	return s + fmt.Sprintf("run=%s buzzer=%s", onOff(i.Run), onOff(i.Buzzer))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Kind identifies the output class of a Change.
type Kind string

const (
	KindLED    Kind = "led"
	KindRun    Kind = "run"
	KindBuzzer Kind = "buzzer"
)

// Change is a single output transition between two frames.
type Change struct {
	Kind  Kind   `json:"kind"`
	Class string `json:"class,omitempty"`
	On    bool   `json:"on"`
}

// Name is a stable identifier for the output, e.g. "led:car" or "buzzer".
func (c Change) Name() string {
	if c.Kind == KindLED {
		return string(c.Kind) + ":" + c.Class
	}
	return string(c.Kind)
}

// Diff lists the outputs whose state differs between prev and next, LEDs
// first in class order.
func Diff(prev, next Indicators) []Change {
	var changes []Change

	classes := make([]string, 0, len(next.LEDs))
	for class := range next.LEDs {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		if prev.LEDs[class] != next.LEDs[class] {
			changes = append(changes, Change{Kind: KindLED, Class: class, On: next.LEDs[class]})
		}
	}
	if prev.Run != next.Run {
		changes = append(changes, Change{Kind: KindRun, On: next.Run})
	}
	if prev.Buzzer != next.Buzzer {
		changes = append(changes, Change{Kind: KindBuzzer, On: next.Buzzer})
	}
	return changes
}
