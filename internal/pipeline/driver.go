// Package pipeline runs the per-frame loop: capture, inference, filtering,
// alert update, indicator output and overlay rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/capture"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/events"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/inference"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/overlay"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/pkg/types"
)

var log = logger.For("Pipeline")

// maxConsecutiveErrors ends the loop when the capture source keeps failing.
const maxConsecutiveErrors = 10

// Panel receives the indicator state once per processed frame.
type Panel interface {
	Apply(alert.Indicators) error
	Shutdown() error
}

// Renderer draws descriptors onto a frame.
type Renderer interface {
	Render(frame *types.Frame, descs []overlay.Descriptor) error
}

// SnapshotSink receives the outcome of every processed frame.
type SnapshotSink interface {
	Update(webmonitor.Snapshot)
}

// Options wires the driver's collaborators. Renderer, Publisher, Snapshots
// and Metrics are optional.
type Options struct {
	Source    capture.Source
	Detector  inference.Detector
	Rules     detect.Rules
	Machine   *alert.Machine
	Panel     Panel
	Palette   *overlay.Palette
	Renderer  Renderer
	Publisher events.Publisher
	Snapshots SnapshotSink
	Metrics   *metrics.Metrics
	RunID     string
}

// Stats summarizes a run.
type Stats struct {
	Frames  uint64
	Gaps    uint64
	Elapsed time.Duration
}

// FPS is the average processed frame rate.
func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// Driver owns the frame loop. It is not safe for concurrent use; Run is
// called once.
type Driver struct {
	opts    Options
	tracked []string
	stats   Stats
}

// New checks the required collaborators.
func New(opts Options) (*Driver, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("pipeline: capture source is required")
	case opts.Detector == nil:
		return nil, errors.New("pipeline: detector is required")
	case opts.Machine == nil:
		return nil, errors.New("pipeline: alert machine is required")
	case opts.Panel == nil:
		return nil, errors.New("pipeline: indicator panel is required")
	}
	if opts.Palette == nil {
		opts.Palette = overlay.NewPalette(opts.Rules.Table, 1, overlay.DefaultAlertColors())
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.RunID == "" {
		opts.RunID = events.NewRunID()
	}

	return &Driver{opts: opts, tracked: opts.Machine.Policy().Tracked}, nil
}

// Run processes frames until ctx is cancelled or the stream ends. All
// indicators are forced off before Run returns, whatever the cause.
func (d *Driver) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		d.stats.Elapsed = time.Since(start)
		if shutdownErr := d.opts.Panel.Shutdown(); shutdownErr != nil {
			log.Error("Indicator shutdown failed: %v", shutdownErr)
			err = errors.Join(err, shutdownErr)
		}
		log.Info("Processed %d frames in %s (%.1f fps, %d capture gaps)",
			d.stats.Frames, d.stats.Elapsed.Round(time.Millisecond), d.stats.FPS(), d.stats.Gaps)
	}()

	log.Info("Frame loop started (run %s)", d.opts.RunID)
	d.start(ctx, start)
	consecutiveErrors := 0

	for {
		if ctx.Err() != nil {
			log.Info("Stop requested")
			return nil
		}

		frame, readErr := d.opts.Source.Read(ctx)
		switch {
		case readErr == nil && frame.Empty():
			readErr = capture.ErrCaptureGap
		case errors.Is(readErr, io.EOF):
			log.Info("Stream ended")
			return nil
		case ctx.Err() != nil:
			log.Info("Stop requested")
			return nil
		}

		if errors.Is(readErr, capture.ErrCaptureGap) {
			d.stats.Gaps++
			d.opts.Metrics.CaptureGaps.Add(1)
			continue
		}
		if readErr != nil {
			consecutiveErrors++
			d.opts.Metrics.CaptureErrors.Add(1)
			log.Warn("Capture error (%d/%d): %v", consecutiveErrors, maxConsecutiveErrors, readErr)
			if consecutiveErrors >= maxConsecutiveErrors {
				return fmt.Errorf("capture failed %d times in a row: %w", consecutiveErrors, readErr)
			}
			continue
		}
		consecutiveErrors = 0
		d.opts.Metrics.FramesCaptured.Add(1)

		d.processFrame(ctx, frame)
	}
}

// start turns the run LED on before the first frame is read, so it is lit
// even while capture or inference has not delivered anything yet.
func (d *Driver) start(ctx context.Context, now time.Time) {
	prev := d.opts.Machine.Indicators()
	ind := d.opts.Machine.Start()

	if err := d.opts.Panel.Apply(ind); err != nil {
		d.opts.Metrics.HardwareErrors.Add(1)
		log.Error("Indicator write failed: %v", err)
	}
	d.publish(ctx, alert.Diff(prev, ind), nil, 0, now)
}

// publish emits one event per change.
func (d *Driver) publish(ctx context.Context, changes []alert.Change, counts detect.PresenceCount, frameNum uint64, ts time.Time) {
	if len(changes) == 0 {
		return
	}
	d.opts.Metrics.Transitions.Add(uint64(len(changes)))
	for _, ev := range events.FromChanges(d.opts.RunID, changes, counts, frameNum, ts) {
		if err := d.opts.Publisher.Publish(ctx, ev); err != nil {
			d.opts.Metrics.EventErrors.Add(1)
			log.Warn("Publish %s failed: %v", ev.Indicator, err)
		}
	}
}

// Stats returns the counters of the last run.
func (d *Driver) Stats() Stats {
	return d.stats
}

// processFrame runs one iteration. Failures are logged and counted; none of
// them stops the loop.
func (d *Driver) processFrame(ctx context.Context, frame *types.Frame) {
	m := d.opts.Metrics
	t0 := time.Now()

	raw, err := d.opts.Detector.Detect(ctx, frame)
	m.UpdateInferenceLatency(time.Since(t0))
	if err != nil {
		// Same as a capture gap: indicator state is held.
		m.InferenceErrors.Add(1)
		log.Warn("Inference failed for frame %d: %v", frame.FrameNum, err)
		return
	}

	filtered, classErrs := detect.Filter(raw, d.opts.Rules)
	m.ClassificationErrors.Add(uint64(len(classErrs)))
	m.Detections.Add(uint64(len(filtered)))

	counts := detect.Aggregate(filtered, d.tracked)
	prev := d.opts.Machine.Indicators()
	ind := d.opts.Machine.Update(counts)

	if err := d.opts.Panel.Apply(ind); err != nil {
		m.HardwareErrors.Add(1)
		log.Error("Indicator write failed: %v", err)
	}

	changes := alert.Diff(prev, ind)
	if len(changes) > 0 {
		log.Info("Frame %d: %s", frame.FrameNum, ind)
	}
	d.publish(ctx, changes, counts, frame.FrameNum, frame.Timestamp)

	descs := overlay.Build(filtered, frame.Width(), frame.Height(), d.opts.Palette)
	if d.opts.Renderer != nil {
		if err := d.opts.Renderer.Render(frame, descs); err != nil {
			m.RenderErrors.Add(1)
			log.Warn("Render failed for frame %d: %v", frame.FrameNum, err)
		}
	}

	if d.opts.Snapshots != nil {
		d.opts.Snapshots.Update(snapshot(frame, counts, ind, descs, filtered))
	}

	m.ObservePresence(counts)
	m.ObserveIndicators(ind.LEDs, ind.Buzzer)
	m.FramesProcessed.Add(1)
	m.UpdateProcessLatency(time.Since(t0))
	d.stats.Frames++
}

func snapshot(frame *types.Frame, counts detect.PresenceCount, ind alert.Indicators, descs []overlay.Descriptor, filtered []detect.Labeled) webmonitor.Snapshot {
	dets := make([]webmonitor.Detection, len(descs))
	for i, desc := range descs {
		dets[i] = webmonitor.Detection{
			ClassName:  desc.Class,
			Confidence: desc.Confidence,
			Tracked:    filtered[i].Tracked,
			BBox: webmonitor.BoundingBox{
				X: desc.Box.Min.X,
				Y: desc.Box.Min.Y,
				W: desc.Box.Dx(),
				H: desc.Box.Dy(),
			},
		}
	}

	c := make(map[string]int, len(counts))
	for k, v := range counts {
		c[k] = v
	}

	return webmonitor.Snapshot{
		FrameNumber: frame.FrameNum,
		Timestamp:   frame.Timestamp,
		Source:      frame.Source,
		Width:       frame.Width(),
		Height:      frame.Height(),
		Counts:      c,
		Indicators:  ind.Clone(),
		Detections:  dets,
	}
}
