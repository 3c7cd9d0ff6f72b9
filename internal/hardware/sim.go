package hardware

import "sync"

// SimBoard is an in-memory board for development and tests.
type SimBoard struct {
	mu      sync.Mutex
	outputs map[string]*SimOutput
	closed  bool
}

// NewSimBoard creates an empty simulated board.
func NewSimBoard() *SimBoard {
	return &SimBoard{outputs: make(map[string]*SimOutput)}
}

// Output returns the simulated output for pin, creating it on first use.
func (b *SimBoard) Output(pin Pin) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if out, ok := b.outputs[pin.Name]; ok {
		return out, nil
	}
	out := &SimOutput{pin: pin}
	b.outputs[pin.Name] = out
	return out, nil
}

// Close marks the board closed.
func (b *SimBoard) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *SimBoard) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// States returns the current level of every output by pin name.
func (b *SimBoard) States() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := make(map[string]bool, len(b.outputs))
	for name, out := range b.outputs {
		states[name] = out.IsOn()
	}
	return states
}

// Writes returns how many times the named output was set.
func (b *SimBoard) Writes(name string) int {
	b.mu.Lock()
	out, ok := b.outputs[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.writes
}

// SimOutput records its level and logs transitions.
type SimOutput struct {
	mu     sync.Mutex
	pin    Pin
	on     bool
	writes int
}

func (o *SimOutput) On() error  { o.set(true); return nil }
func (o *SimOutput) Off() error { o.set(false); return nil }

func (o *SimOutput) set(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.on != on {
		log.Debug("%s -> %v", o.pin, on)
	}
	o.on = on
	o.writes++
}

// IsOn reports the current level.
func (o *SimOutput) IsOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}
