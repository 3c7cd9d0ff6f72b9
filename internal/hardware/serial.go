package hardware

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// LineBoard drives outputs on a microcontroller that understands one
// command per line: "P<gpio>=<0|1>\n".
type LineBoard struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewLineBoard wraps w. If w is also an io.Closer it is closed by Close.
func NewLineBoard(w io.Writer) *LineBoard {
	b := &LineBoard{w: w}
	if c, ok := w.(io.Closer); ok {
		b.closer = c
	}
	return b
}

// OpenSerialBoard opens a serial port at 8N1 and wraps it in a LineBoard.
func OpenSerialBoard(portName string, baud int) (*LineBoard, error) {
	if baud <= 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}

	log.Info("Opened indicator board on %s (%d baud)", portName, baud)
	return NewLineBoard(port), nil
}

// Output returns an output bound to pin.
func (b *LineBoard) Output(pin Pin) (Output, error) {
	if pin.GPIO < 0 {
		return nil, fmt.Errorf("invalid gpio %d for %s", pin.GPIO, pin.Name)
	}
	return &lineOutput{board: b, pin: pin}, nil
}

// Close closes the underlying port.
func (b *LineBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return err
}

func (b *LineBoard) send(pin Pin, on bool) error {
	level := 0
	if on {
		level = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := fmt.Fprintf(b.w, "P%d=%d\n", pin.GPIO, level); err != nil {
		return fmt.Errorf("write %s: %w", pin, err)
	}
	return nil
}

type lineOutput struct {
	board *LineBoard
	pin   Pin
}

func (o *lineOutput) On() error  { return o.board.send(o.pin, true) }
func (o *lineOutput) Off() error { return o.board.send(o.pin, false) }
