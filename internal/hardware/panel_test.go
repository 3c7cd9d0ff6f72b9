package hardware

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
)

func newSimPanel(t *testing.T) (*Panel, *SimBoard) {
	t.Helper()
	board := NewSimBoard()
	panel, err := NewPanel(board, DefaultLayout())
	require.NoError(t, err)
	return panel, board
}

func carAlert() alert.Indicators {
	return alert.Indicators{
		LEDs:   map[string]bool{"car": true, "person": false},
		Run:    true,
		Buzzer: true,
	}
}

func TestPanelApply(t *testing.T) {
	panel, board := newSimPanel(t)

	require.NoError(t, panel.Apply(carAlert()))

	assert.Equal(t, map[string]bool{
		"red":    true,
		"blue":   false,
		"green":  true,
		"buzzer": true,
	}, board.States())
	assert.True(t, panel.Applied().Equal(carAlert()))
}

func TestPanelApplyWritesEveryFrame(t *testing.T) {
	panel, board := newSimPanel(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, panel.Apply(carAlert()))
	}
	assert.Equal(t, 3, board.Writes("red"))
	assert.Equal(t, 3, board.Writes("blue"))
}

func TestPanelShutdownOnce(t *testing.T) {
	panel, board := newSimPanel(t)
	require.NoError(t, panel.Apply(carAlert()))

	require.NoError(t, panel.Shutdown())
	require.NoError(t, panel.Shutdown())

	for name, on := range board.States() {
		assert.False(t, on, name)
	}
	assert.True(t, board.Closed())
	assert.Equal(t, 2, board.Writes("buzzer"), "second shutdown must not write")
	assert.ErrorIs(t, panel.Apply(carAlert()), ErrClosed)
}

func TestPanelIgnoresUnknownClasses(t *testing.T) {
	panel, board := newSimPanel(t)
	ind := carAlert()
	ind.LEDs["bus"] = true

	require.NoError(t, panel.Apply(ind))
	assert.Len(t, board.States(), 4)
}

type failingOutput struct{}

func (failingOutput) On() error  { return errors.New("stuck") }
func (failingOutput) Off() error { return errors.New("stuck") }

type flakyBoard struct {
	*SimBoard
	bad string
}

func (b flakyBoard) Output(pin Pin) (Output, error) {
	if pin.Name == b.bad {
		return failingOutput{}, nil
	}
	return b.SimBoard.Output(pin)
}

func TestPanelApplyContinuesPastFailures(t *testing.T) {
	sim := NewSimBoard()
	panel, err := NewPanel(flakyBoard{SimBoard: sim, bad: "red"}, DefaultLayout())
	require.NoError(t, err)

	err = panel.Apply(carAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "led car")
	assert.True(t, sim.States()["buzzer"])
}

func TestLineBoardProtocol(t *testing.T) {
	var buf bytes.Buffer
	panel, err := NewPanel(NewLineBoard(&buf), DefaultLayout())
	require.NoError(t, err)

	require.NoError(t, panel.Apply(carAlert()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// LEDs in class order, then run, then buzzer.
	assert.Equal(t, []string{"P27=1", "P17=0", "P22=1", "P10=1"}, lines)

	buf.Reset()
	require.NoError(t, panel.Shutdown())
	assert.Equal(t, "P27=0\nP17=0\nP22=0\nP10=0\n", buf.String())
}

func TestLineBoardRejectsNegativeGPIO(t *testing.T) {
	_, err := NewLineBoard(&bytes.Buffer{}).Output(Pin{Name: "x", GPIO: -1})
	assert.Error(t, err)
}
