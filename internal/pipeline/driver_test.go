package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/capture"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/events"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/hardware"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// step is one Read result. Frames are stamped at epoch + at.
type step struct {
	at   time.Duration
	dets []detect.Detection
	err  error // returned by Read instead of a frame
	fail bool  // detector fails on this frame
}

type scriptedSource struct {
	clock  *fakeClock
	steps  []step
	pos    int
	num    uint64
	onRead func()
}

func (s *scriptedSource) Read(ctx context.Context) (*types.Frame, error) {
	if s.onRead != nil {
		s.onRead()
	}
	if s.pos >= len(s.steps) {
		return nil, io.EOF
	}
	st := s.steps[s.pos]
	s.pos++
	if st.err != nil {
		return nil, st.err
	}
	s.num++
	s.clock.now = epoch.Add(st.at)
	return &types.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 100, 100)),
		Timestamp: s.clock.now,
		FrameNum:  s.num,
		Source:    "script",
	}, nil
}

func (s *scriptedSource) Close() error { return nil }

// scriptedDetector answers each frame from the step that produced it.
type scriptedDetector struct {
	src *scriptedSource
}

func (d *scriptedDetector) Detect(ctx context.Context, frame *types.Frame) ([]detect.Detection, error) {
	st := d.src.steps[d.src.pos-1]
	if st.fail {
		return nil, errors.New("detector offline")
	}
	return st.dets, nil
}

func (d *scriptedDetector) Close() error { return nil }

type recordingPanel struct {
	mu        sync.Mutex
	applied   []alert.Indicators
	shutdowns int
}

func (p *recordingPanel) Apply(ind alert.Indicators) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, ind.Clone())
	return nil
}

func (p *recordingPanel) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	return nil
}

func (p *recordingPanel) writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.applied)
}

// perFrame drops the write made when the loop starts.
func (p *recordingPanel) perFrame() []alert.Indicators {
	if len(p.applied) == 0 {
		return nil
	}
	return p.applied[1:]
}

func (p *recordingPanel) buzzer() []bool {
	frames := p.perFrame()
	out := make([]bool, len(frames))
	for i, ind := range frames {
		out[i] = ind.Buzzer
	}
	return out
}

type countingRenderer struct {
	calls int
	descs [][]overlay.Descriptor
}

func (r *countingRenderer) Render(frame *types.Frame, descs []overlay.Descriptor) error {
	r.calls++
	r.descs = append(r.descs, descs)
	return nil
}

var (
	carBox = detect.Box{XMin: 0.1, YMin: 0.4, XMax: 0.5, YMax: 0.9}
	car    = detect.Detection{ClassID: detect.VOCClasses.Index("car"), Confidence: 0.9, Box: carBox}
	dog    = detect.Detection{ClassID: detect.VOCClasses.Index("dog"), Confidence: 0.95, Box: carBox}
	person = detect.Detection{ClassID: detect.VOCClasses.Index("person"), Confidence: 0.6, Box: carBox}
)

type harness struct {
	source   *scriptedSource
	driver   *Driver
	panel    *recordingPanel
	events   *events.Recorder
	renderer *countingRenderer
	monitor  *webmonitor.Monitor
	metrics  *metrics.Metrics
	machine  *alert.Machine
}

func newHarness(t *testing.T, steps []step) *harness {
	t.Helper()
	clock := &fakeClock{now: epoch}
	src := &scriptedSource{clock: clock, steps: steps}
	policy := alert.Policy{Tracked: []string{"car", "person"}, BuzzerClasses: []string{"car"}, Window: 4 * time.Second}

	h := &harness{
		source:   src,
		panel:    &recordingPanel{},
		events:   &events.Recorder{},
		renderer: &countingRenderer{},
		monitor:  webmonitor.NewMonitor(),
		metrics:  metrics.New(),
		machine:  alert.NewMachine(policy, clock),
	}

	d, err := New(Options{
		Source:    src,
		Detector:  &scriptedDetector{src: src},
		Rules:     detect.Rules{Table: detect.VOCClasses, Chosen: policy.Tracked, Threshold: 0.2},
		Machine:   h.machine,
		Panel:     h.panel,
		Renderer:  h.renderer,
		Publisher: h.events,
		Snapshots: h.monitor,
		Metrics:   h.metrics,
		RunID:     "test-run",
	})
	require.NoError(t, err)
	h.driver = d
	return h
}

func at(sec int, dets ...detect.Detection) step {
	return step{at: time.Duration(sec) * time.Second, dets: dets}
}

func TestBuzzerSoundsForFirstFourSeconds(t *testing.T) {
	h := newHarness(t, []step{at(0, car), at(1, car), at(2, car), at(3, car), at(4, car), at(5, car)})

	require.NoError(t, h.driver.Run(context.Background()))

	assert.Equal(t, []bool{true, true, true, true, true, false}, h.panel.buzzer())
	for _, ind := range h.panel.perFrame() {
		assert.True(t, ind.LEDs["car"])
		assert.False(t, ind.LEDs["person"])
		assert.True(t, ind.Run)
	}
	assert.Equal(t, 1, h.panel.shutdowns)
	assert.Equal(t, uint64(6), h.driver.Stats().Frames)
}

func TestAbsenceResetsBuzzerWindow(t *testing.T) {
	h := newHarness(t, []step{at(0, car), at(1), at(2, car), at(7, car), at(8), at(9, car)})

	require.NoError(t, h.driver.Run(context.Background()))

	assert.Equal(t, []bool{true, false, true, false, false, true}, h.panel.buzzer())
}

func TestCaptureGapHoldsState(t *testing.T) {
	h := newHarness(t, []step{
		at(0, car),
		{err: capture.ErrCaptureGap},
		{err: capture.ErrCaptureGap},
		at(6, car),
	})

	require.NoError(t, h.driver.Run(context.Background()))

	frames := h.panel.perFrame()
	require.Len(t, frames, 2, "gaps produce no indicator writes")
	assert.False(t, frames[1].Buzzer, "the run continued across the gap")
	assert.Equal(t, uint64(2), h.metrics.CaptureGaps.Load())
	assert.Equal(t, uint64(2), h.driver.Stats().Gaps)
	assert.Equal(t, 2, h.renderer.calls)
}

func TestInferenceFailureHoldsState(t *testing.T) {
	h := newHarness(t, []step{at(0, car), {at: time.Second, fail: true}, at(2)})

	require.NoError(t, h.driver.Run(context.Background()))

	frames := h.panel.perFrame()
	require.Len(t, frames, 2)
	assert.True(t, frames[0].LEDs["car"])
	assert.False(t, frames[1].LEDs["car"])
	assert.Equal(t, uint64(1), h.metrics.InferenceErrors.Load())
}

func TestRunLEDLitWithoutAnyDetection(t *testing.T) {
	h := newHarness(t, []step{
		{err: capture.ErrCaptureGap},
		{at: time.Second, fail: true},
		{at: 2 * time.Second, fail: true},
	})
	var writesBeforeRead []int
	h.source.onRead = func() { writesBeforeRead = append(writesBeforeRead, h.panel.writes()) }

	require.NoError(t, h.driver.Run(context.Background()))

	require.NotEmpty(t, writesBeforeRead)
	assert.Equal(t, 1, writesBeforeRead[0], "run LED written before the first read")

	require.Len(t, h.panel.applied, 1)
	started := h.panel.applied[0]
	assert.True(t, started.Run)
	assert.False(t, started.Buzzer)
	assert.Equal(t, map[string]bool{"car": false, "person": false}, started.LEDs)

	assert.Equal(t, uint64(2), h.metrics.InferenceErrors.Load())
	assert.Equal(t, uint64(1), h.metrics.CaptureGaps.Load())
	assert.Equal(t, 1, h.panel.shutdowns)

	evs := h.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "run", evs[0].Indicator)
	assert.True(t, evs[0].On)
}

func TestFilterFeedsAlertsAndOverlay(t *testing.T) {
	unknown := detect.Detection{ClassID: 99, Confidence: 0.9, Box: carBox}
	weak := detect.Detection{ClassID: car.ClassID, Confidence: 0.2, Box: carBox}
	h := newHarness(t, []step{at(0, car, dog, unknown, weak, person)})

	require.NoError(t, h.driver.Run(context.Background()))

	require.Len(t, h.renderer.descs, 1)
	descs := h.renderer.descs[0]
	require.Len(t, descs, 2, "dog, unknown and weak detections are dropped")
	assert.Equal(t, "car", descs[0].Class)
	assert.Equal(t, "person", descs[1].Class)
	assert.Equal(t, image.Rect(10, 40, 50, 90), descs[0].Box)

	assert.Equal(t, uint64(1), h.metrics.ClassificationErrors.Load())

	stats, snap := h.monitor.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), stats.FramesProcessed)
	assert.Equal(t, map[string]int{"car": 1, "person": 1}, snap.Counts)
	assert.True(t, snap.Indicators.LEDs["person"])
	require.Len(t, snap.Detections, 2)
	assert.Equal(t, webmonitor.BoundingBox{X: 10, Y: 40, W: 40, H: 50}, snap.Detections[0].BBox)
}

func TestTransitionsArePublished(t *testing.T) {
	h := newHarness(t, []step{at(0, car), at(1, car), at(5, car), at(6)})

	require.NoError(t, h.driver.Run(context.Background()))

	var names []string
	for _, ev := range h.events.Events() {
		assert.Equal(t, "test-run", ev.RunID)
		state := "off"
		if ev.On {
			state = "on"
		}
		names = append(names, ev.Indicator+"="+state)
	}
	assert.Equal(t, []string{
		"run=on",
		"led:car=on", "buzzer=on",
		"buzzer=off",
		"led:car=off",
	}, names)
	assert.Equal(t, uint64(5), h.metrics.Transitions.Load())
}

func TestCancelForcesIndicatorsOff(t *testing.T) {
	board := hardware.NewSimBoard()
	panel, err := hardware.NewPanel(board, hardware.DefaultLayout())
	require.NoError(t, err)

	clock := &fakeClock{now: epoch}
	steps := make([]step, 100)
	for i := range steps {
		steps[i] = at(0, car)
	}
	src := &scriptedSource{clock: clock, steps: steps}

	ctx, cancel := context.WithCancel(context.Background())
	policy := alert.Policy{Tracked: []string{"car", "person"}, BuzzerClasses: []string{"car"}}
	d, err := New(Options{
		Source:   src,
		Detector: &cancelAfter{scriptedDetector: scriptedDetector{src: src}, n: 3, cancel: cancel},
		Rules:    detect.Rules{Table: detect.VOCClasses, Chosen: policy.Tracked, Threshold: 0.2},
		Machine:  alert.NewMachine(policy, clock),
		Panel:    panel,
	})
	require.NoError(t, err)

	require.NoError(t, d.Run(ctx))

	for name, on := range board.States() {
		assert.False(t, on, name)
	}
	assert.True(t, board.Closed())
	assert.ErrorIs(t, panel.Apply(alert.Indicators{Run: true}), hardware.ErrClosed)
	assert.Equal(t, uint64(3), d.Stats().Frames)
}

type cancelAfter struct {
	scriptedDetector
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Detect(ctx context.Context, frame *types.Frame) ([]detect.Detection, error) {
	if int(frame.FrameNum) >= c.n {
		c.cancel()
	}
	return c.scriptedDetector.Detect(ctx, frame)
}

func TestRepeatedCaptureErrorsEndRun(t *testing.T) {
	steps := make([]step, maxConsecutiveErrors)
	for i := range steps {
		steps[i] = step{err: errors.New("device unplugged")}
	}
	h := newHarness(t, steps)

	err := h.driver.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
	assert.Equal(t, 1, h.panel.shutdowns)
	assert.Equal(t, uint64(maxConsecutiveErrors), h.metrics.CaptureErrors.Load())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStatsFPS(t *testing.T) {
	assert.Equal(t, 10.0, Stats{Frames: 20, Elapsed: 2 * time.Second}.FPS())
	assert.Zero(t, Stats{}.FPS())
}
